// Package wire defines the JSON frame protocol spoken on the gateway
// WebSocket by all attached roles: webchat clients, companion-device nodes,
// the agent backend, and the CLI.
package wire

import "encoding/json"

// Roles announced in the hello frame.
const (
	RoleWebChat = "webchat"
	RoleNode    = "node"
	RoleAgent   = "agent"
	RoleCLI     = "cli"
)

// Frame types.
const (
	TypeHello    = "hello"
	TypeHelloOK  = "hello.ok"
	TypeRPC      = "rpc"      // request (method + params), answered by TypeResult
	TypeResult   = "result"   // rpc/invoke/generate response
	TypeInvoke   = "invoke"   // gateway -> node command
	TypeGenerate = "generate" // gateway -> agent turn
	TypeBlock    = "block"    // agent -> gateway interim reply payload
	TypeChatSend = "chat.send"
	TypeChatAck  = "chat.ack"
	TypeReply    = "chat.reply"
	TypeEvent    = "event" // broadcast notification (system/reaction events)
)

// Error codes surfaced through the RPC boundary. Node-originated codes pass
// through unchanged.
const (
	CodeTimeout               = "TIMEOUT"
	CodeNodeNotFound          = "NODE_NOT_FOUND"
	CodeAgentUnavailable      = "AGENT_UNAVAILABLE"
	CodeBadRequest            = "BAD_REQUEST"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeBackgroundUnavailable = "NODE_BACKGROUND_UNAVAILABLE"
	CodeCameraDisabled        = "CAMERA_DISABLED"
)

// Error is the structured error carried in result frames.
type Error struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Frame is the single envelope for all messages on the socket.
type Frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"` // request/response correlation

	// hello
	Role    string   `json:"role,omitempty"`
	NodeID  string   `json:"nodeId,omitempty"`
	Caps    []string `json:"caps,omitempty"`
	Token   string   `json:"token,omitempty"`
	Version string   `json:"version,omitempty"`

	// rpc / invoke / generate
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// result
	OK     bool            `json:"ok,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`

	// chat + block payloads
	Text    string          `json:"text,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Session string          `json:"session,omitempty"`
}

// InvokeParams is the payload of an invoke frame sent to a node.
type InvokeParams struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NodeInfo describes a connected node in node.list results.
type NodeInfo struct {
	NodeID      string   `json:"nodeId"`
	Caps        []string `json:"caps,omitempty"`
	ConnectedAt int64    `json:"connectedAt"` // epoch-ms
}

// CameraSnapParams mirrors the camera.snap node command.
type CameraSnapParams struct {
	NodeID   string `json:"nodeId"`
	Facing   string `json:"facing,omitempty"`
	MaxWidth int    `json:"maxWidth,omitempty"`
	Quality  int    `json:"quality,omitempty"`
	Format   string `json:"format,omitempty"` // always "jpg"
}

// CameraClipParams mirrors the camera.clip node command.
type CameraClipParams struct {
	NodeID       string `json:"nodeId"`
	Facing       string `json:"facing,omitempty"`
	DurationMs   int    `json:"durationMs,omitempty"`
	IncludeAudio bool   `json:"includeAudio,omitempty"`
	Format       string `json:"format,omitempty"` // always "mp4"
}
