package gateway

import (
	"sync"
)

const dedupCapacity = 512

// dedupRing remembers recently processed provider message ids so redelivered
// events (reconnect replays, provider retries) are dropped instead of
// producing duplicate agent turns. Bounded FIFO; oldest ids age out.
type dedupRing struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

func newDedupRing() *dedupRing {
	return &dedupRing{seen: make(map[string]struct{}, dedupCapacity)}
}

// Seen records the id and reports whether it was already present. Provider
// ids are only unique within one conversation, so the key carries the
// conversation id. Messages without a provider id are never deduplicated.
func (d *dedupRing) Seen(conv, sid string) bool {
	if sid == "" {
		return false
	}
	key := conv + ":" + sid

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = struct{}{}
	d.order = append(d.order, key)
	if len(d.order) > dedupCapacity {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return false
}
