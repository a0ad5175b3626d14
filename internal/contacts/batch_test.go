package contacts

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeContacts(n int) []*Contact {
	out := make([]*Contact, n)
	for i := range out {
		out[i] = &Contact{FirstName: fmt.Sprintf("c%d", i), NormalizedPhone: fmt.Sprintf("9198765%05d", i), Status: StatusNotSent}
	}
	return out
}

func TestSplitSizes(t *testing.T) {
	t.Parallel()
	batches, err := Split(makeContacts(45), 20)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, []int{20, 20, 5}, []int{batches[0].Len(), batches[1].Len(), batches[2].Len()})
	assert.Equal(t, []int{1, 2, 3}, []int{batches[0].Seq, batches[1].Seq, batches[2].Seq})
}

func TestSplitPreservesOrderAndCount(t *testing.T) {
	t.Parallel()
	for n := 0; n <= 41; n++ {
		for k := 1; k <= 12; k++ {
			list := makeContacts(n)
			batches, err := Split(list, k)
			require.NoError(t, err)
			require.Len(t, batches, (n+k-1)/k, "n=%d k=%d", n, k)

			var joined []*Contact
			for i, b := range batches {
				if i < len(batches)-1 {
					require.Equal(t, k, b.Len())
				}
				joined = append(joined, b.Contacts...)
			}
			if n == 0 {
				assert.Empty(t, joined)
				continue
			}
			assert.Equal(t, list, joined, "n=%d k=%d", n, k)
		}
	}
}

func TestSplitRejectsNonPositiveSize(t *testing.T) {
	t.Parallel()
	for _, k := range []int{0, -1, -20} {
		_, err := Split(makeContacts(3), k)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	}
}

func TestSplitBatchesDoNotShareCapacity(t *testing.T) {
	t.Parallel()
	list := makeContacts(4)
	batches, err := Split(list, 2)
	require.NoError(t, err)
	extra := &Contact{FirstName: "extra"}
	_ = append(batches[0].Contacts, extra)
	assert.Same(t, list[2], batches[1].Contacts[0])
}

func TestFilter(t *testing.T) {
	t.Parallel()
	list := []*Contact{
		{FirstName: "a", NormalizedPhone: "919876543210", Status: StatusNotSent, Organization: "acme"},
		{FirstName: "b", NormalizedPhone: InvalidPhone, Status: StatusNotSent, Organization: "acme"},
		{FirstName: "c", NormalizedPhone: "919876543211", Status: StatusSent, Organization: "acme"},
		{FirstName: "d", NormalizedPhone: "919876543212", Status: StatusNotSent, Organization: "other"},
		{FirstName: "e", NormalizedPhone: "919876543213", Status: StatusNotSent, Organization: "acme"},
		{FirstName: "f", NormalizedPhone: "919876543214", Status: StatusFailed, Organization: "acme"},
	}

	names := func(cs []*Contact) []string {
		out := make([]string, 0, len(cs))
		for _, c := range cs {
			out = append(out, c.FirstName)
		}
		return out
	}

	assert.Equal(t, []string{"a", "d", "e"}, names(Filter(list, "", 0)))
	assert.Equal(t, []string{"a", "e"}, names(Filter(list, "acme", 0)))
	assert.Equal(t, []string{"a"}, names(Filter(list, " acme ", 1)))
	assert.Empty(t, Filter(list, "nobody", 0))
}
