package contacts

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is returned for settings the run cannot start with
// (non-positive batch size, missing contact file, ...).
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Batch is an ordered slice of contacts processed as one unit by one worker.
// Seq is 1-based in creation order.
type Batch struct {
	Seq      int
	Contacts []*Contact
}

func (b Batch) Len() int { return len(b.Contacts) }

// Split partitions list into ceil(len/size) batches of size `size`; the last
// batch holds the remainder. Relative order is preserved.
func Split(list []*Contact, size int) ([]Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: batch size must be > 0, got %d", ErrInvalidConfiguration, size)
	}
	out := make([]Batch, 0, (len(list)+size-1)/size)
	for start := 0; start < len(list); start += size {
		end := start + size
		if end > len(list) {
			end = len(list)
		}
		// capped: an append on one batch must not write into the next
		out = append(out, Batch{Seq: len(out) + 1, Contacts: list[start:end:end]})
	}
	return out, nil
}
