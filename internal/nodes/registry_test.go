package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roelfdiedericks/clawgate/internal/gateway/wire"
)

// loopConn answers invokes on a goroutine like a real node socket would.
type loopConn struct {
	mu      sync.Mutex
	node    *Node
	respond func(f *wire.Frame) *wire.Frame // nil = never respond
}

func (c *loopConn) WriteFrame(f *wire.Frame) error {
	c.mu.Lock()
	respond := c.respond
	node := c.node
	c.mu.Unlock()
	if respond == nil {
		return nil
	}
	go func() {
		if resp := respond(f); resp != nil {
			node.HandleResult(resp)
		}
	}()
	return nil
}

func TestInvokeRoundTrip(t *testing.T) {
	reg := NewRegistry()
	conn := &loopConn{respond: func(f *wire.Frame) *wire.Frame {
		return &wire.Frame{Type: wire.TypeResult, ID: f.ID, OK: true, Result: json.RawMessage(`{"format":"jpg"}`)}
	}}
	conn.node = reg.Register("mac-1", []string{"camera"}, conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := reg.Invoke(ctx, "mac-1", "camera.snap", json.RawMessage(`{"facing":"front"}`))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	var out struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal(res, &out); err != nil || out.Format != "jpg" {
		t.Errorf("result = %s, err = %v", res, err)
	}
}

func TestInvokeTimeout(t *testing.T) {
	reg := NewRegistry()
	conn := &loopConn{} // never responds
	conn.node = reg.Register("mac-1", nil, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := reg.Invoke(ctx, "mac-1", "camera.clip", nil)

	var werr *wire.Error
	if !errors.As(err, &werr) || werr.Code != wire.CodeTimeout {
		t.Fatalf("expected timeout wire error, got %v", err)
	}
}

func TestInvokeUnknownNode(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Invoke(context.Background(), "ghost", "camera.snap", nil)
	var werr *wire.Error
	if !errors.As(err, &werr) || werr.Code != wire.CodeNodeNotFound {
		t.Fatalf("expected NODE_NOT_FOUND, got %v", err)
	}
}

func TestNodeErrorCodesPassThrough(t *testing.T) {
	reg := NewRegistry()
	conn := &loopConn{respond: func(f *wire.Frame) *wire.Frame {
		return &wire.Frame{Type: wire.TypeResult, ID: f.ID,
			Error: &wire.Error{Code: wire.CodeCameraDisabled, Message: "camera disabled on device"}}
	}}
	conn.node = reg.Register("phone-1", []string{"camera"}, conn)

	_, err := reg.Invoke(context.Background(), "phone-1", "camera.snap", nil)
	var werr *wire.Error
	if !errors.As(err, &werr) || werr.Code != wire.CodeCameraDisabled {
		t.Fatalf("device error code must pass through, got %v", err)
	}
}

func TestUnregisterFailsPending(t *testing.T) {
	reg := NewRegistry()
	conn := &loopConn{}
	node := reg.Register("mac-1", nil, conn)
	conn.node = node

	done := make(chan error, 1)
	go func() {
		_, err := reg.Invoke(context.Background(), "mac-1", "camera.snap", nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	reg.Unregister(node)

	select {
	case err := <-done:
		if err == nil {
			t.Error("pending invoke should fail on unregister")
		}
	case <-time.After(time.Second):
		t.Fatal("invoke hung after unregister")
	}
}

func TestListNodes(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", []string{"camera"}, &loopConn{})
	reg.Register("b", nil, &loopConn{})
	if got := len(reg.List()); got != 2 {
		t.Errorf("List = %d nodes, want 2", got)
	}
}
