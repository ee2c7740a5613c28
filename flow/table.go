package flow

import "time"

// Flusher receives a Node that has left the table (spec.md §4.H: "hands
// completed flow nodes ... to a downstream writer"). flowstate and the
// idle sweep both push through this, so Table never imports outqueue
// directly and stays a leaf package.
type Flusher interface {
	PushFlow(*Node)
}

// Table is the keyed map of flow nodes from spec.md §4.E: insert-or-fetch
// in a single operation, reverse-link, and time-driven idle expiration.
// Per spec.md §5 a Table is owned by exactly one goroutine and never
// locked internally; if sharded, each shard is its own Table instance and
// packets must reach a stable shard per key before they get here (each
// capture.Engine owns one Table and relies on AF_PACKET fanout for that;
// FlowKey.Shard is available for callers that route in userspace).
type Table struct {
	nodes         map[FlowKey]*Node
	idleTimeout   time.Duration
	lastIdleCheck time.Time
}

// NewTable constructs an empty table with the given idle-expiry threshold.
func NewTable(idleTimeout time.Duration) *Table {
	return &Table{
		nodes:       make(map[FlowKey]*Node),
		idleTimeout: idleTimeout,
	}
}

// Len reports the number of IN_USE nodes currently held.
func (t *Table) Len() int { return len(t.nodes) }

// InsertOrFetch implements spec.md §4.E's insert-or-return-existing
// contract. If no entry exists for candidate.Key, candidate itself becomes
// the stored node and InsertOrFetch returns (candidate, true). If an entry
// already exists, the caller keeps owning candidate (as a delta) and
// receives a borrow of the stored node: (stored, false).
func (t *Table) InsertOrFetch(candidate *Node) (*Node, bool) {
	if existing, ok := t.nodes[candidate.Key]; ok {
		return existing, false
	}
	t.nodes[candidate.Key] = candidate
	return candidate, true
}

// ReverseLink looks up the node whose key is candidate.Key.Reverse(). If
// found and not already linked to candidate, both directions are
// cross-linked and ReverseLink returns true (a new link was formed).
func (t *Table) ReverseLink(candidate *Node) bool {
	peer, ok := t.nodes[candidate.Key.Reverse()]
	if !ok || peer == candidate {
		return false
	}
	if candidate.Reverse == peer && peer.Reverse == candidate {
		return false // already linked
	}
	candidate.Reverse = peer
	peer.Reverse = candidate
	return true
}

// Remove deletes key from the table without touching the node's state;
// callers transition State themselves before or after calling Remove, per
// which direction the flush is happening (spec.md §3 lifecycle).
func (t *Table) Remove(key FlowKey) {
	delete(t.nodes, key)
}

// Flush transitions node to StateFlushed, removes it from the table, nulls
// any reverse link's back-reference (spec.md §3 invariant d / §9 "Null-on-
// peer-flush"), and hands it to out.
func (t *Table) Flush(node *Node, out Flusher) {
	t.Remove(node.Key)
	node.State = StateFlushed
	if node.Reverse != nil {
		if node.Reverse.Reverse == node {
			node.Reverse.Reverse = nil
		}
		node.Reverse = nil
	}
	out.PushFlow(node)
}

// IdleSweep walks every IN_USE node and flushes those whose TLast is older
// than the table's idle timeout, as of now. spec.md §4.E: called at most
// once per wall-second; the caller (capture.Engine) is responsible for
// that rate limit, but IdleSweep itself also self-throttles as a second
// line of defense.
func (t *Table) IdleSweep(now time.Time, out Flusher) {
	if !t.lastIdleCheck.IsZero() && now.Sub(t.lastIdleCheck) < time.Second {
		return
	}
	t.lastIdleCheck = now

	var expired []*Node
	for _, n := range t.nodes {
		if now.Sub(n.TLast) >= t.idleTimeout {
			expired = append(expired, n)
		}
	}
	for _, n := range expired {
		t.Flush(n, out)
	}
}

// FlushAll drains every remaining node unconditionally, used on cooperative
// shutdown (spec.md §5: "flush-all remaining table entries").
func (t *Table) FlushAll(out Flusher) {
	all := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		all = append(all, n)
	}
	for _, n := range all {
		t.Flush(n, out)
	}
}
