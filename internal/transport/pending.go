package transport

import (
	"encoding/json"
	"sync"
)

// Reply is the outcome delivered to a pending call. Err is a *jsonrpc.Error
// for remote failures, or a transport error when the entry was failed.
type Reply struct {
	Result json.RawMessage
	Err    error
}

// Pending is one in-flight request awaiting its reply.
type Pending struct {
	id    string
	done  chan struct{}
	reply Reply
}

// ID returns the request id.
func (p *Pending) ID() string { return p.id }

// Done is closed exactly once, when the entry is resolved or failed.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Reply returns the outcome. Only valid after Done is closed.
func (p *Pending) Reply() Reply { return p.reply }

// PendingTable maps in-flight request ids to their entries. A single mutex
// guards every operation; callers wait on Pending.Done outside of it.
//
// An id is present at most once. Whichever of Resolve, Abandon or FailAll
// reaches an entry first decides its fate and the others become no-ops.
type PendingTable struct {
	mu      sync.Mutex
	entries map[string]*Pending
}

// NewPendingTable returns an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[string]*Pending)}
}

// Register inserts an entry for id.
func (t *PendingTable) Register(id string) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; exists {
		return nil, ErrDuplicateID
	}
	p := &Pending{id: id, done: make(chan struct{})}
	t.entries[id] = p
	return p, nil
}

// Resolve delivers reply to id. It reports false if id is not awaited.
func (t *PendingTable) Resolve(id string, reply Reply) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.entries[id]
	if !ok {
		return false
	}
	delete(t.entries, id)
	p.reply = reply
	close(p.done)
	return true
}

// Abandon removes id without resolving it, so a late reply is unmatched.
// It reports false if the entry was already resolved or removed.
func (t *PendingTable) Abandon(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

// FailAll resolves every entry with err and empties the table. It returns
// the number of entries released.
func (t *PendingTable) FailAll(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.entries)
	for id, p := range t.entries {
		delete(t.entries, id)
		p.reply = Reply{Err: err}
		close(p.done)
	}
	return n
}

// Len returns the number of pending entries.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
