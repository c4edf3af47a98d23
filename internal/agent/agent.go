// Package agent defines the reply-generator capability the gateway consumes.
//
// The agent backend itself is an external collaborator: it attaches to the
// gateway WebSocket with role "agent" and is driven through Remote. Static
// provides an in-process generator for tests and echo mode.
package agent

import (
	"context"

	"github.com/roelfdiedericks/clawgate/internal/types"
)

// Hooks are the optional streaming callbacks for one turn.
type Hooks struct {
	// OnReplyStart fires a provider typing indicator. Best-effort; failures
	// are swallowed by the implementation.
	OnReplyStart func()

	// OnBlockReply delivers an intermediate payload immediately, before the
	// final result. Blocks are delivered through the same outbound engine as
	// final replies; a block's delivery failure must not abort later blocks
	// or the final result.
	OnBlockReply func(types.ReplyPayload)
}

// Generator produces zero, one, or many ordered reply payloads for a turn.
// Implementations never retry internally; an error aborts the turn (blocks
// already delivered stand).
type Generator interface {
	GenerateReplies(ctx context.Context, mc *types.MessageContext, hooks Hooks) ([]types.ReplyPayload, error)
}

// Static is a fixed-function generator.
type Static struct {
	// Fn computes the replies. Nil echoes the inbound body.
	Fn func(ctx context.Context, mc *types.MessageContext, hooks Hooks) ([]types.ReplyPayload, error)
}

func (s *Static) GenerateReplies(ctx context.Context, mc *types.MessageContext, hooks Hooks) ([]types.ReplyPayload, error) {
	if hooks.OnReplyStart != nil {
		hooks.OnReplyStart()
	}
	if s.Fn != nil {
		return s.Fn(ctx, mc, hooks)
	}
	if mc.Body == "" {
		return nil, nil
	}
	return []types.ReplyPayload{{Text: mc.Body}}, nil
}
