package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roelfdiedericks/clawgate/internal/agent"
	"github.com/roelfdiedericks/clawgate/internal/bus"
	"github.com/roelfdiedericks/clawgate/internal/channels"
	"github.com/roelfdiedericks/clawgate/internal/config"
	"github.com/roelfdiedericks/clawgate/internal/gateway/wire"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// RPC deadlines. Camera operations get fixed budgets so a stuck device fails
// the RPC instead of hanging the client.
const (
	snapTimeout   = 20 * time.Second
	clipTimeout   = 45 * time.Second
	invokeTimeout = 30 * time.Second
)

// Server is the WebSocket RPC surface of the gateway. Webchat clients,
// companion-device nodes, the agent backend, and the CLI all attach here,
// distinguished by the role in their hello frame.
type Server struct {
	gw     *Gateway
	remote *agent.Remote

	mu      sync.RWMutex
	token   string
	webchat config.WebChatConfig
	version string

	statusFn func() map[string]any

	httpSrv  *http.Server
	upgrader websocket.Upgrader

	sessMu   sync.Mutex
	sessions map[*wsSession]string // session -> role
}

// NewServer creates the server. statusFn supplies the channel-manager status
// snapshot for the status RPC (nil is allowed).
func NewServer(gw *Gateway, remote *agent.Remote, cfg *config.Config, version string, statusFn func() map[string]any) *Server {
	s := &Server{
		gw:       gw,
		remote:   remote,
		token:    cfg.Gateway.Token,
		webchat:  cfg.WebChat,
		version:  version,
		statusFn: statusFn,
		sessions: make(map[*wsSession]string),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The listener binds loopback by default; remote deployments front
			// this with their own TLS termination.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	gw.SetNotifier(s.Broadcast)
	return s
}

// ApplyConfig picks up a hot-reloaded config. Only auth and webchat policy
// are live-applied; the listen address requires a restart.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	s.token = cfg.Gateway.Token
	s.webchat = cfg.WebChat
	s.mu.Unlock()
	L_debug("server: config applied")
}

// Start runs the listener until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	s.httpSrv = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		L_info("server: listening", "addr", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%w: %v", ErrProviderConnection, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// wsSession wraps one socket with a write lock; gorilla connections do not
// allow concurrent writers.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex

	clientID string
	role     string
}

func (s *wsSession) WriteFrame(f *wire.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(f)
}

func (s *wsSession) writeError(id, code, msg string) {
	s.WriteFrame(&wire.Frame{Type: wire.TypeResult, ID: id, Error: &wire.Error{Code: code, Message: msg}})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		L_warn("server: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	sess := &wsSession{conn: conn, clientID: uuid.New().String()}
	defer conn.Close()

	var hello wire.Frame
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != wire.TypeHello {
		L_warn("server: bad hello", "remote", r.RemoteAddr)
		return
	}
	conn.SetReadDeadline(time.Time{})

	switch hello.Role {
	case wire.RoleNode, wire.RoleAgent, wire.RoleWebChat, wire.RoleCLI:
	default:
		sess.writeError(hello.ID, wire.CodeBadRequest, fmt.Sprintf("unknown role %q", hello.Role))
		return
	}
	sess.role = hello.Role

	// Nodes and the agent can trigger sends and device actions; they must
	// present the shared token when one is configured.
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token != "" && (hello.Role == wire.RoleNode || hello.Role == wire.RoleAgent) && hello.Token != token {
		sess.writeError(hello.ID, wire.CodeUnauthorized, "invalid token")
		return
	}

	if hello.Role == wire.RoleNode && hello.NodeID == "" {
		sess.writeError(hello.ID, wire.CodeBadRequest, "node hello requires nodeId")
		return
	}

	sess.WriteFrame(&wire.Frame{Type: wire.TypeHelloOK, ID: hello.ID, Version: s.version})

	s.sessMu.Lock()
	s.sessions[sess] = sess.role
	s.sessMu.Unlock()
	defer func() {
		s.sessMu.Lock()
		delete(s.sessions, sess)
		s.sessMu.Unlock()
	}()

	L_info("server: client attached", "role", sess.role, "remote", r.RemoteAddr, "node", hello.NodeID)

	switch sess.role {
	case wire.RoleNode:
		s.nodeLoop(sess, &hello)
	case wire.RoleAgent:
		s.agentLoop(sess)
	default:
		s.clientLoop(sess)
	}
}

func (s *Server) nodeLoop(sess *wsSession, hello *wire.Frame) {
	node := s.gw.Nodes().Register(hello.NodeID, hello.Caps, sess)
	defer s.gw.Nodes().Unregister(node)

	for {
		var f wire.Frame
		if err := sess.conn.ReadJSON(&f); err != nil {
			L_debug("server: node socket closed", "node", node.ID, "error", err)
			return
		}
		switch f.Type {
		case wire.TypeResult:
			node.HandleResult(&f)
		default:
			L_trace("server: unexpected node frame", "node", node.ID, "type", f.Type)
		}
	}
}

func (s *Server) agentLoop(sess *wsSession) {
	s.remote.Attach(sess)
	defer s.remote.Detach(sess)

	for {
		var f wire.Frame
		if err := sess.conn.ReadJSON(&f); err != nil {
			L_debug("server: agent socket closed", "error", err)
			return
		}
		switch f.Type {
		case wire.TypeBlock, wire.TypeResult:
			s.remote.HandleFrame(&f)
		case wire.TypeRPC:
			// The agent shares the client RPC surface (node.list, camera.*).
			go s.handleRPC(sess, &f)
		default:
			L_trace("server: unexpected agent frame", "type", f.Type)
		}
	}
}

// clientLoop serves webchat and CLI attachments.
func (s *Server) clientLoop(sess *wsSession) {
	for {
		var f wire.Frame
		if err := sess.conn.ReadJSON(&f); err != nil {
			L_debug("server: client socket closed", "role", sess.role, "error", err)
			return
		}
		switch f.Type {
		case wire.TypeRPC:
			go s.handleRPC(sess, &f)
		case wire.TypeChatSend:
			go s.handleChatSend(sess, &f)
		default:
			L_trace("server: unexpected client frame", "role", sess.role, "type", f.Type)
		}
	}
}

func (s *Server) handleRPC(sess *wsSession, f *wire.Frame) {
	result, err := s.dispatchRPC(f)
	if err != nil {
		var werr *wire.Error
		if e, ok := err.(*wire.Error); ok {
			werr = e
		} else {
			werr = &wire.Error{Message: err.Error()}
		}
		sess.WriteFrame(&wire.Frame{Type: wire.TypeResult, ID: f.ID, Error: werr})
		return
	}
	sess.WriteFrame(&wire.Frame{Type: wire.TypeResult, ID: f.ID, OK: true, Result: result})
}

func (s *Server) dispatchRPC(f *wire.Frame) (json.RawMessage, error) {
	switch f.Method {
	case "node.list":
		return marshalResult(map[string]any{"nodes": s.gw.Nodes().List()})

	case "node.invoke":
		var p struct {
			NodeID    string          `json:"nodeId"`
			Command   string          `json:"command"`
			Params    json.RawMessage `json:"params,omitempty"`
			TimeoutMs int             `json:"timeoutMs,omitempty"`
		}
		if err := json.Unmarshal(f.Params, &p); err != nil || p.NodeID == "" || p.Command == "" {
			return nil, &wire.Error{Code: wire.CodeBadRequest, Message: "node.invoke requires nodeId and command"}
		}
		timeout := invokeTimeout
		if p.TimeoutMs > 0 {
			timeout = time.Duration(p.TimeoutMs) * time.Millisecond
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.gw.Nodes().Invoke(ctx, p.NodeID, p.Command, p.Params)

	case "camera.snap":
		var p wire.CameraSnapParams
		if err := json.Unmarshal(f.Params, &p); err != nil || p.NodeID == "" {
			return nil, &wire.Error{Code: wire.CodeBadRequest, Message: "camera.snap requires nodeId"}
		}
		p.Format = "jpg"
		params, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), snapTimeout)
		defer cancel()
		return s.gw.Nodes().Invoke(ctx, p.NodeID, "camera.snap", params)

	case "camera.clip":
		var p wire.CameraClipParams
		if err := json.Unmarshal(f.Params, &p); err != nil || p.NodeID == "" {
			return nil, &wire.Error{Code: wire.CodeBadRequest, Message: "camera.clip requires nodeId"}
		}
		p.Format = "mp4"
		params, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), clipTimeout)
		defer cancel()
		return s.gw.Nodes().Invoke(ctx, p.NodeID, "camera.clip", params)

	case "status":
		status := map[string]any{
			"nodes":         len(s.gw.Nodes().List()),
			"agentAttached": s.remote.Attached(),
		}
		if s.statusFn != nil {
			for k, v := range s.statusFn() {
				status[k] = v
			}
		}
		return marshalResult(status)

	case "channels.restart":
		var p struct {
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(f.Params, &p); err != nil || p.Channel == "" {
			return nil, &wire.Error{Code: wire.CodeBadRequest, Message: "channels.restart requires channel"}
		}
		res := bus.SendCommandWithSource("channels", "restart", p.Channel, "rpc", "")
		if res.Error != nil {
			return nil, &wire.Error{Code: wire.CodeBadRequest, Message: res.Message}
		}
		return marshalResult(map[string]any{"restarted": p.Channel, "message": res.Message})

	case "config.apply":
		cfg, err := config.Load()
		if err != nil {
			return nil, &wire.Error{Code: wire.CodeBadRequest, Message: fmt.Sprintf("config reload failed: %v", err)}
		}
		s.ApplyConfig(cfg)
		bus.PublishEventWithSource(config.TopicApplied, cfg, "rpc")
		return marshalResult(map[string]any{"applied": true})

	default:
		return nil, &wire.Error{Code: wire.CodeBadRequest, Message: fmt.Sprintf("unknown method %q", f.Method)}
	}
}

func marshalResult(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// handleChatSend runs a webchat turn through the inbound pipeline, streaming
// replies (blocks included) back on the same socket as chat.reply frames.
func (s *Server) handleChatSend(sess *wsSession, f *wire.Frame) {
	s.mu.RLock()
	webchat := s.webchat
	s.mu.RUnlock()

	if !webchat.WebChatEnabled() || !webchat.DMAllowed() {
		sess.writeError(f.ID, wire.CodeBadRequest, "webchat is disabled")
		return
	}
	if f.Text == "" {
		sess.writeError(f.ID, wire.CodeBadRequest, "chat.send requires text")
		return
	}

	sid := f.ID
	if sid == "" {
		sid = uuid.New().String()
	}
	mc := &types.MessageContext{
		Body:       f.Text,
		From:       "webchat:" + sess.clientID,
		To:         sess.clientID,
		ChatType:   types.ChatDirect,
		SenderName: "webchat",
		Surface:    types.SurfaceWebChat,
		MessageSid: sid,
		Timestamp:  time.Now().UnixMilli(),
		SessionKey: f.Session,
	}

	sess.WriteFrame(&wire.Frame{Type: wire.TypeChatAck, ID: f.ID})

	sender := &webchatSender{sess: sess}
	opts := channels.DeliverOptions{
		ChunkLimit:  webchat.ChunkLimit,
		ReplyToMode: config.ReplyToOff,
	}
	if err := s.gw.HandleInbound(context.Background(), mc, sender, opts); err != nil {
		sess.writeError(f.ID, wire.CodeAgentUnavailable, err.Error())
	}
}

// webchatSender writes reply frames onto the originating socket. No hard
// length limit and no typing surface beyond an event frame.
type webchatSender struct {
	sess *wsSession
}

func (w *webchatSender) SendText(ctx context.Context, target, text, replyTo string) (string, error) {
	id := uuid.New().String()
	err := w.sess.WriteFrame(&wire.Frame{Type: wire.TypeReply, ID: id, Text: text})
	return id, err
}

func (w *webchatSender) SendMedia(ctx context.Context, target, mediaURL, caption, replyTo string) (string, error) {
	id := uuid.New().String()
	payload, err := json.Marshal(types.ReplyPayload{Text: caption, MediaURL: mediaURL})
	if err != nil {
		return "", err
	}
	err = w.sess.WriteFrame(&wire.Frame{Type: wire.TypeReply, ID: id, Payload: payload})
	return id, err
}

func (w *webchatSender) SendTyping(ctx context.Context, target string) {
	w.sess.WriteFrame(&wire.Frame{Type: wire.TypeEvent, Method: "typing"})
}

func (w *webchatSender) HardLimit() int { return 0 }

// Broadcast fans a notification out to every attached agent and client
// session as an event frame. Nodes are skipped.
func (s *Server) Broadcast(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		L_warn("server: broadcast marshal failed", "topic", topic, "error", err)
		return
	}
	frame := &wire.Frame{Type: wire.TypeEvent, Method: topic, Payload: data}

	s.sessMu.Lock()
	targets := make([]*wsSession, 0, len(s.sessions))
	for sess, role := range s.sessions {
		if role == wire.RoleNode {
			continue
		}
		targets = append(targets, sess)
	}
	s.sessMu.Unlock()

	for _, sess := range targets {
		if err := sess.WriteFrame(frame); err != nil {
			L_trace("server: broadcast write failed", "role", sess.role, "error", err)
		}
	}
}
