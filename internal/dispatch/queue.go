package dispatch

import (
	"sync"

	"chatblast/internal/contacts"
)

// batchQueue is the shared FIFO of pending batches. pop is atomic: no two
// workers ever receive the same batch.
type batchQueue struct {
	mu      sync.Mutex
	pending []contacts.Batch
}

func newBatchQueue(batches []contacts.Batch) *batchQueue {
	return &batchQueue{pending: append([]contacts.Batch(nil), batches...)}
}

func (q *batchQueue) pop() (contacts.Batch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return contacts.Batch{}, false
	}
	b := q.pending[0]
	q.pending[0] = contacts.Batch{}
	q.pending = q.pending[1:]
	return b, true
}

func (q *batchQueue) remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
