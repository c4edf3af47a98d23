package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/clawgate/internal/gateway/wire"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// Conn is the transport to the attached agent process.
type Conn interface {
	WriteFrame(f *wire.Frame) error
}

// GenerateRequest is the params payload of a generate frame.
type GenerateRequest struct {
	Context *types.MessageContext `json:"context"`
}

// Remote drives an agent attached over the gateway WebSocket. At most one
// agent is attached at a time; a reconnect replaces the previous one and
// fails its in-flight turns.
type Remote struct {
	mu      sync.Mutex
	conn    Conn
	pending map[string]*pendingTurn
}

type pendingTurn struct {
	hooks  Hooks
	result chan *wire.Frame
}

// NewRemote creates a Remote with no agent attached.
func NewRemote() *Remote {
	return &Remote{pending: make(map[string]*pendingTurn)}
}

// Attach sets the active agent connection.
func (r *Remote) Attach(conn Conn) {
	r.mu.Lock()
	r.conn = conn
	stale := r.pending
	r.pending = make(map[string]*pendingTurn)
	r.mu.Unlock()
	failTurns(stale, "agent reattached")
	L_info("agent: attached")
}

// Detach clears the connection (socket closed). In-flight turns fail.
func (r *Remote) Detach(conn Conn) {
	r.mu.Lock()
	if r.conn != conn {
		r.mu.Unlock()
		return
	}
	r.conn = nil
	stale := r.pending
	r.pending = make(map[string]*pendingTurn)
	r.mu.Unlock()
	failTurns(stale, "agent disconnected")
	L_warn("agent: detached")
}

// Attached reports whether an agent is currently connected.
func (r *Remote) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

func failTurns(turns map[string]*pendingTurn, reason string) {
	for id, t := range turns {
		select {
		case t.result <- &wire.Frame{Type: wire.TypeResult, ID: id,
			Error: &wire.Error{Code: wire.CodeAgentUnavailable, Message: reason}}:
		default:
		}
	}
}

// GenerateReplies sends the turn to the attached agent and waits for the
// final result, forwarding interim block frames to hooks.OnBlockReply as
// they arrive.
func (r *Remote) GenerateReplies(ctx context.Context, mc *types.MessageContext, hooks Hooks) ([]types.ReplyPayload, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil, &wire.Error{Code: wire.CodeAgentUnavailable, Message: "no agent attached"}
	}

	if hooks.OnReplyStart != nil {
		hooks.OnReplyStart()
	}

	id := uuid.New().String()
	turn := &pendingTurn{hooks: hooks, result: make(chan *wire.Frame, 1)}

	r.mu.Lock()
	r.pending[id] = turn
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	params, err := json.Marshal(GenerateRequest{Context: mc})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteFrame(&wire.Frame{Type: wire.TypeGenerate, ID: id, Params: params}); err != nil {
		return nil, err
	}

	select {
	case f := <-turn.result:
		if f.Error != nil {
			return nil, f.Error
		}
		var replies []types.ReplyPayload
		if len(f.Payload) > 0 {
			// Accept a single payload object or a list.
			if f.Payload[0] == '[' {
				if err := json.Unmarshal(f.Payload, &replies); err != nil {
					return nil, err
				}
			} else {
				var one types.ReplyPayload
				if err := json.Unmarshal(f.Payload, &one); err != nil {
					return nil, err
				}
				replies = []types.ReplyPayload{one}
			}
		}
		return replies, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleFrame routes result and block frames from the agent socket.
func (r *Remote) HandleFrame(f *wire.Frame) {
	r.mu.Lock()
	turn := r.pending[f.ID]
	r.mu.Unlock()
	if turn == nil {
		L_trace("agent: frame for unknown turn", "id", f.ID, "type", f.Type)
		return
	}

	switch f.Type {
	case wire.TypeBlock:
		if turn.hooks.OnBlockReply == nil {
			return
		}
		var p types.ReplyPayload
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				L_warn("agent: bad block payload", "error", err)
				return
			}
		} else if f.Text != "" {
			p.Text = f.Text
		}
		if !p.IsEmpty() {
			turn.hooks.OnBlockReply(p)
		}
	case wire.TypeResult:
		select {
		case turn.result <- f:
		default:
		}
	}
}
