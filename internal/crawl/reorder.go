package crawl

import "github.com/oeistools/oeissync/internal/oeis"

// taskStatus classifies how one frontier id was resolved.
type taskStatus string

const (
	statusUpdated     taskStatus = "updated"
	statusUnchanged   taskStatus = "unchanged"
	statusNotFound    taskStatus = "not_found"
	statusParseFailed taskStatus = "parse_failed"
	statusFailed      taskStatus = "failed"
	// statusCanceled marks work cut short by cancellation; it is never
	// durably recorded and never checkpointed, so a later pass redoes it.
	statusCanceled taskStatus = "canceled"
	// statusStorageFailure aborts the pass.
	statusStorageFailure taskStatus = "storage_failure"
)

// taskResult is the unit handed from workers to the committer.
type taskResult struct {
	id       oeis.RecordID
	status   taskStatus
	attempts int
	err      error
	// retry marks ids re-enqueued from the durable failure set; they sit
	// at or below the stored checkpoint and never advance it again.
	retry bool
}

// reorderBuffer holds completed-but-not-yet-checkpointed results and yields
// the longest committable run. Workers finish out of order; checkpoints must
// be issued strictly in frontier order, each id exactly once.
type reorderBuffer struct {
	frontier []oeis.RecordID
	next     int
	pending  map[oeis.RecordID]taskResult
}

func newReorderBuffer(frontier []oeis.RecordID) *reorderBuffer {
	return &reorderBuffer{
		frontier: frontier,
		pending:  make(map[oeis.RecordID]taskResult),
	}
}

// add inserts a completed result and returns the contiguous run of results,
// in frontier order, that became committable.
func (b *reorderBuffer) add(res taskResult) []taskResult {
	b.pending[res.id] = res
	var run []taskResult
	for b.next < len(b.frontier) {
		head, ok := b.pending[b.frontier[b.next]]
		if !ok {
			break
		}
		delete(b.pending, b.frontier[b.next])
		run = append(run, head)
		b.next++
	}
	return run
}

// holding reports how many results wait for an earlier id to finish.
func (b *reorderBuffer) holding() int {
	return len(b.pending)
}
