// ABOUTME: Pending table correlating outstanding command ids with their completion handles
// ABOUTME: Each handle is fulfilled exactly once: by a matching reply or by connection shutdown

package qapi

import (
	"encoding/json"
	"fmt"
	"sync"
)

// outcome is what a completion handle delivers: a return payload, a
// *wire.Error, or a disconnection error.
type outcome struct {
	ret json.RawMessage
	err error
}

// pendingTable is shared by the command issuers and the reader. A handle is
// removed from the map before it is fulfilled, so no handle can be
// fulfilled twice, and its capacity of one means fulfilling never blocks
// even when the caller has stopped waiting.
type pendingTable struct {
	mu      sync.Mutex
	entries map[uint64]chan outcome
	err     error
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		entries: make(map[uint64]chan outcome),
	}
}

// insert registers a completion handle for id. It fails with the shutdown
// error once the table is closed, and panics on a duplicate id, which only
// a broken id allocator can produce.
func (t *pendingTable) insert(id uint64) (<-chan outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return nil, t.err
	}
	if _, exists := t.entries[id]; exists {
		panic(fmt.Sprintf("QAPI duplicate command id %d", id))
	}

	ch := make(chan outcome, 1)
	t.entries[id] = ch
	return ch, nil
}

// resolve removes id and fulfils its handle. It reports false if no handle
// was registered under id.
func (t *pendingTable) resolve(id uint64, o outcome) bool {
	t.mu.Lock()
	ch, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	ch <- o
	return true
}

// remove drops id without fulfilling it.
func (t *pendingTable) remove(id uint64) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// close fails every outstanding handle with err and rejects later inserts.
// Only the first call has any effect. It returns the number of handles failed.
func (t *pendingTable) close(err error) int {
	t.mu.Lock()
	if t.err != nil {
		t.mu.Unlock()
		return 0
	}
	t.err = err
	entries := t.entries
	t.entries = make(map[uint64]chan outcome)
	t.mu.Unlock()

	for _, ch := range entries {
		ch <- outcome{err: err}
	}
	return len(entries)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *pendingTable) closedErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
