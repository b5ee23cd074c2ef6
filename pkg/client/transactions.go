package client

import (
	"errors"
	"strings"
	"sync"

	"github.com/aeolun/wired/pkg/protocol"
	"github.com/aeolun/wired/pkg/spec"
)

const fieldTransaction = "wired.transaction"

// ProgressFunc receives intermediate replies of a transaction, such as
// wired.chat.user_list entries.
type ProgressFunc func(m *protocol.Message)

// CompletionFunc receives the final reply of a transaction. err is a
// *ServerError for wired.error replies, or the disconnect cause when the
// session ends first; m is nil in the latter case.
type CompletionFunc func(m *protocol.Message, err error)

type transaction struct {
	id         uint32
	request    string
	progress   ProgressFunc
	completion CompletionFunc
}

type transactionTable struct {
	mu      sync.Mutex
	next    uint32
	pending map[uint32]*transaction
}

func newTransactionTable() *transactionTable {
	return &transactionTable{pending: make(map[uint32]*transaction)}
}

func (t *transactionTable) add(request string, progress ProgressFunc, completion CompletionFunc) *transaction {
	t.mu.Lock()
	defer t.mu.Unlock()

	// IDs start at 1 and skip any still in flight after wrapping.
	for {
		t.next++
		if t.next == 0 {
			continue
		}
		if _, busy := t.pending[t.next]; !busy {
			break
		}
	}
	tx := &transaction{id: t.next, request: request, progress: progress, completion: completion}
	t.pending[tx.id] = tx
	return tx
}

func (t *transactionTable) get(id uint32) (*transaction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tx, ok := t.pending[id]
	return tx, ok
}

func (t *transactionTable) remove(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

func (t *transactionTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// drain removes and returns every pending transaction.
func (t *transactionTable) drain() []*transaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*transaction, 0, len(t.pending))
	for id, tx := range t.pending {
		out = append(out, tx)
		delete(t.pending, id)
	}
	return out
}

// deliver routes a reply to its transaction. It returns false if m does not
// belong to a pending transaction.
func (t *transactionTable) deliver(m *protocol.Message) bool {
	id, ok := m.Uint32(fieldTransaction)
	if !ok {
		return false
	}
	tx, ok := t.get(id)
	if !ok {
		return false
	}

	if !isFinalReply(m.Catalog(), tx.request, m) {
		if tx.progress != nil {
			tx.progress(m)
		}
		return true
	}

	t.remove(id)
	if tx.completion != nil {
		var err error
		if m.Name() == msgError {
			err = ServerErrorFromMessage(m)
		}
		tx.completion(m, err)
	}
	return true
}

// fail completes every pending transaction with cause.
func (t *transactionTable) fail(cause error) {
	if cause == nil {
		cause = errors.New("session closed")
	}
	for _, tx := range t.drain() {
		if tx.completion != nil {
			tx.completion(nil, cause)
		}
	}
}

// isFinalReply decides whether reply ends the transaction started by
// request: wired.okay, wired.error and any ".done" message always do;
// otherwise a reply declared with count 1 does when no sibling reply may
// repeat.
func isFinalReply(catalog *spec.Catalog, request string, reply *protocol.Message) bool {
	name := reply.Name()
	if name == msgOkay || name == msgError || strings.HasSuffix(name, ".done") {
		return true
	}

	tx, ok := catalog.Transaction(request)
	if !ok {
		return true
	}
	final := false
	for _, r := range tx.Replies {
		if r.Message == name {
			final = r.Count == "1"
		} else if r.Count != "1" {
			return false
		}
	}
	return final
}
