package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roelfdiedericks/clawgate/internal/gateway/wire"
)

// client flags shared by all the RPC subcommands.
type clientFlags struct {
	Addr  string `help:"Gateway address (host:port). Defaults to the configured listen address."`
	Token string `help:"Gateway auth token. Defaults to the configured token."`
}

const rpcDialTimeout = 10 * time.Second

// rpcClient is a short-lived CLI connection to the gateway WebSocket.
type rpcClient struct {
	conn *websocket.Conn
}

func dialGateway(c *cli, f clientFlags) (*rpcClient, error) {
	addr := f.Addr
	token := f.Token
	if addr == "" || token == "" {
		cfg, _, err := loadConfig(c)
		if err != nil {
			return nil, err
		}
		if addr == "" {
			addr = cfg.Gateway.Addr()
		}
		if token == "" {
			token = cfg.Gateway.Token
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: rpcDialTimeout}
	conn, _, err := dialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		return nil, fmt.Errorf("gateway not reachable at %s (is it running?): %w", addr, err)
	}

	cl := &rpcClient{conn: conn}
	if err := conn.WriteJSON(&wire.Frame{Type: wire.TypeHello, Role: wire.RoleCLI, Token: token, Version: version}); err != nil {
		conn.Close()
		return nil, err
	}
	var hello wire.Frame
	conn.SetReadDeadline(time.Now().Add(rpcDialTimeout))
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, err
	}
	if hello.Type != wire.TypeHelloOK {
		conn.Close()
		if hello.Error != nil {
			return nil, hello.Error
		}
		return nil, fmt.Errorf("unexpected handshake reply: %s", hello.Type)
	}
	return cl, nil
}

func (c *rpcClient) Close() { c.conn.Close() }

// Call sends one RPC and waits for its result, skipping unrelated broadcast
// frames that may arrive in between.
func (c *rpcClient) Call(method string, params any, timeout time.Duration) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	id := uuid.New().String()
	if err := c.conn.WriteJSON(&wire.Frame{Type: wire.TypeRPC, ID: id, Method: method, Params: raw}); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		c.conn.SetReadDeadline(deadline)
		var f wire.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return nil, err
		}
		if f.Type != wire.TypeResult || f.ID != id {
			continue
		}
		if f.Error != nil {
			return nil, f.Error
		}
		return f.Result, nil
	}
}

func printJSON(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

type statusCmd struct {
	clientFlags
}

func (s *statusCmd) Run(c *cli) error {
	cl, err := dialGateway(c, s.clientFlags)
	if err != nil {
		return err
	}
	defer cl.Close()

	res, err := cl.Call("status", nil, rpcDialTimeout)
	if err != nil {
		return err
	}
	return printJSON(res)
}

type nodesCmd struct {
	clientFlags
}

func (n *nodesCmd) Run(c *cli) error {
	cl, err := dialGateway(c, n.clientFlags)
	if err != nil {
		return err
	}
	defer cl.Close()

	res, err := cl.Call("node.list", nil, rpcDialTimeout)
	if err != nil {
		return err
	}

	var parsed struct {
		Nodes []wire.NodeInfo `json:"nodes"`
	}
	if err := json.Unmarshal(res, &parsed); err != nil {
		return err
	}
	if len(parsed.Nodes) == 0 {
		fmt.Println("No nodes connected.")
		return nil
	}
	for _, node := range parsed.Nodes {
		connected := time.UnixMilli(node.ConnectedAt).Format("2006-01-02 15:04:05")
		fmt.Printf("%s  caps=%v  connected=%s\n", node.NodeID, node.Caps, connected)
	}
	return nil
}

type cameraSnapCmd struct {
	clientFlags
	Node     string `help:"Target node id." required:""`
	Facing   string `help:"Camera facing (front|back)." default:""`
	MaxWidth int    `help:"Downscale the photo to this width." default:"0"`
	Quality  int    `help:"JPEG quality (1-100)." default:"0"`
	Out      string `help:"Write the captured photo to this file." type:"path"`
}

func (s *cameraSnapCmd) Run(c *cli) error {
	cl, err := dialGateway(c, s.clientFlags)
	if err != nil {
		return err
	}
	defer cl.Close()

	res, err := cl.Call("camera.snap", wire.CameraSnapParams{
		NodeID:   s.Node,
		Facing:   s.Facing,
		MaxWidth: s.MaxWidth,
		Quality:  s.Quality,
	}, 30*time.Second)
	if err != nil {
		return err
	}
	return writeCapture(res, s.Out)
}

type cameraClipCmd struct {
	clientFlags
	Node     string `help:"Target node id." required:""`
	Facing   string `help:"Camera facing (front|back)." default:""`
	Duration int    `help:"Clip duration in milliseconds." default:"0"`
	Audio    bool   `help:"Record audio with the clip."`
	Out      string `help:"Write the recorded clip to this file." type:"path"`
}

func (s *cameraClipCmd) Run(c *cli) error {
	cl, err := dialGateway(c, s.clientFlags)
	if err != nil {
		return err
	}
	defer cl.Close()

	res, err := cl.Call("camera.clip", wire.CameraClipParams{
		NodeID:       s.Node,
		Facing:       s.Facing,
		DurationMs:   s.Duration,
		IncludeAudio: s.Audio,
	}, 60*time.Second)
	if err != nil {
		return err
	}
	return writeCapture(res, s.Out)
}

// writeCapture decodes the base64 media payload from a camera result. Without
// --out the raw result JSON is printed instead.
func writeCapture(res json.RawMessage, out string) error {
	if out == "" {
		return printJSON(res)
	}

	var parsed struct {
		Data   string `json:"data"`
		Format string `json:"format"`
	}
	if err := json.Unmarshal(res, &parsed); err != nil {
		return err
	}
	if parsed.Data == "" {
		return fmt.Errorf("node result carried no media data")
	}
	data, err := base64.StdEncoding.DecodeString(parsed.Data)
	if err != nil {
		return fmt.Errorf("failed to decode media data: %w", err)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return err
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(data), out)
	return nil
}
