package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oeistools/oeissync/internal/oeis"
)

func ids(results []taskResult) []oeis.RecordID {
	out := make([]oeis.RecordID, 0, len(results))
	for _, r := range results {
		out = append(out, r.id)
	}
	return out
}

func TestReorderBufferInOrder(t *testing.T) {
	t.Parallel()
	b := newReorderBuffer([]oeis.RecordID{1, 2, 3})

	assert.Equal(t, []oeis.RecordID{1}, ids(b.add(taskResult{id: 1})))
	assert.Equal(t, []oeis.RecordID{2}, ids(b.add(taskResult{id: 2})))
	assert.Equal(t, []oeis.RecordID{3}, ids(b.add(taskResult{id: 3})))
	assert.Zero(t, b.holding())
}

func TestReorderBufferHoldsGaps(t *testing.T) {
	t.Parallel()
	b := newReorderBuffer([]oeis.RecordID{1, 2, 3, 4})

	assert.Empty(t, b.add(taskResult{id: 3}))
	assert.Empty(t, b.add(taskResult{id: 2}))
	assert.Equal(t, 2, b.holding())

	// Filling the gap releases the whole contiguous run at once.
	assert.Equal(t, []oeis.RecordID{1, 2, 3}, ids(b.add(taskResult{id: 1})))
	assert.Equal(t, 0, b.holding())
	assert.Equal(t, []oeis.RecordID{4}, ids(b.add(taskResult{id: 4})))
}

func TestReorderBufferSparseFrontier(t *testing.T) {
	t.Parallel()
	// Incremental passes produce non-contiguous frontiers; commit order
	// follows the frontier, not integer succession.
	b := newReorderBuffer([]oeis.RecordID{5, 9, 40})

	assert.Empty(t, b.add(taskResult{id: 40}))
	assert.Equal(t, []oeis.RecordID{5}, ids(b.add(taskResult{id: 5})))
	assert.Equal(t, []oeis.RecordID{9, 40}, ids(b.add(taskResult{id: 9})))
}
