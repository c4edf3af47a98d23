// Package nodes tracks paired companion devices (iOS/macOS) attached to the
// gateway WebSocket and relays invoke commands to them.
//
// Foreground-only enforcement and camera permission gating are the device's
// responsibility; they surface here only as error codes passed through
// unchanged (NODE_BACKGROUND_UNAVAILABLE, CAMERA_DISABLED).
package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/clawgate/internal/gateway/wire"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
)

// Conn is the transport to one attached node. Implemented by the gateway's
// WebSocket session.
type Conn interface {
	WriteFrame(f *wire.Frame) error
}

// Node is one paired device.
type Node struct {
	ID          string
	Caps        []string
	ConnectedAt time.Time

	conn    Conn
	mu      sync.Mutex
	pending map[string]chan *wire.Frame
}

// Registry holds the currently connected nodes.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// Register attaches a node. A reconnect with the same id replaces the old
// entry; its in-flight invokes fail with a connection error.
func (r *Registry) Register(id string, caps []string, conn Conn) *Node {
	n := &Node{
		ID:          id,
		Caps:        caps,
		ConnectedAt: time.Now(),
		conn:        conn,
		pending:     make(map[string]chan *wire.Frame),
	}
	r.mu.Lock()
	old := r.nodes[id]
	r.nodes[id] = n
	r.mu.Unlock()
	if old != nil {
		old.failPending("node reconnected")
	}
	L_info("nodes: registered", "node", id, "caps", caps)
	return n
}

// Unregister removes a node (on socket close). In-flight invokes fail.
func (r *Registry) Unregister(n *Node) {
	r.mu.Lock()
	if r.nodes[n.ID] == n {
		delete(r.nodes, n.ID)
	}
	r.mu.Unlock()
	n.failPending("node disconnected")
	L_info("nodes: unregistered", "node", n.ID)
}

// Get returns a node by id.
func (r *Registry) Get(id string) *Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[id]
}

// List returns infos for all connected nodes.
func (r *Registry) List() []wire.NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wire.NodeInfo, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, wire.NodeInfo{
			NodeID:      n.ID,
			Caps:        n.Caps,
			ConnectedAt: n.ConnectedAt.UnixMilli(),
		})
	}
	return out
}

// Invoke sends a command to a node and waits for its result frame. The
// context carries the caller-enforced deadline (20s snap, 45s clip); on
// expiry the invoke fails with a timeout error rather than hanging the turn.
func (r *Registry) Invoke(ctx context.Context, nodeID, command string, params json.RawMessage) (json.RawMessage, error) {
	n := r.Get(nodeID)
	if n == nil {
		return nil, &wire.Error{Code: wire.CodeNodeNotFound, Message: fmt.Sprintf("node %s not connected", nodeID)}
	}
	return n.invoke(ctx, command, params)
}

func (n *Node) invoke(ctx context.Context, command string, params json.RawMessage) (json.RawMessage, error) {
	id := uuid.New().String()
	ch := make(chan *wire.Frame, 1)

	n.mu.Lock()
	n.pending[id] = ch
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.pending, id)
		n.mu.Unlock()
	}()

	inv, err := json.Marshal(wire.InvokeParams{Command: command, Params: params})
	if err != nil {
		return nil, err
	}
	if err := n.conn.WriteFrame(&wire.Frame{Type: wire.TypeInvoke, ID: id, Method: command, Params: inv}); err != nil {
		return nil, fmt.Errorf("failed to send invoke to node %s: %w", n.ID, err)
	}

	L_debug("nodes: invoke sent", "node", n.ID, "command", command, "id", id)

	select {
	case f := <-ch:
		if f.Error != nil {
			return nil, f.Error
		}
		if !f.OK {
			return nil, &wire.Error{Message: "node returned failure without error detail"}
		}
		return f.Result, nil
	case <-ctx.Done():
		return nil, &wire.Error{Code: wire.CodeTimeout, Message: fmt.Sprintf("%s timed out on node %s", command, n.ID)}
	}
}

// HandleResult routes a result frame from the node socket back to the
// waiting invoke. Unknown correlation ids are dropped.
func (n *Node) HandleResult(f *wire.Frame) {
	n.mu.Lock()
	ch, ok := n.pending[f.ID]
	n.mu.Unlock()
	if !ok {
		L_trace("nodes: result for unknown invoke", "node", n.ID, "id", f.ID)
		return
	}
	select {
	case ch <- f:
	default:
	}
}

func (n *Node) failPending(reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.pending {
		select {
		case ch <- &wire.Frame{Type: wire.TypeResult, ID: id, Error: &wire.Error{Message: reason}}:
		default:
		}
		delete(n.pending, id)
	}
}
