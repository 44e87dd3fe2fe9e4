package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oeistools/oeissync/internal/oeis"
	"github.com/oeistools/oeissync/internal/progress"
)

// Config controls one synchronization pass.
type Config struct {
	// Workers bounds the fetch worker pool.
	Workers int
	// Start and End delimit a full range pass (inclusive).
	Start oeis.RecordID
	End   oeis.RecordID
	// Since switches to incremental mode: refresh records whose content
	// was last fetched more than this long ago. Zero means range mode.
	Since time.Duration
	// StaleLimit caps how many stale records one incremental pass takes.
	StaleLimit int
	// Resume continues the most recent unfinished pass instead of
	// beginning a fresh one.
	Resume bool
	// FetchAttachments pulls the b-file alongside each record.
	FetchAttachments bool
	// PublishTopic, when set, receives a pass lifecycle event on finish.
	PublishTopic string
}

const defaultStaleLimit = 10000

// Counters aggregates per-result tallies for one pass.
type Counters struct {
	Updated     int64 `json:"updated"`
	Unchanged   int64 `json:"unchanged"`
	NotFound    int64 `json:"not_found"`
	ParseFailed int64 `json:"parse_failed"`
	Failed      int64 `json:"failed"`
	Retried     int64 `json:"retried"`
}

// Summary is returned when a pass finishes.
type Summary struct {
	State    oeis.CrawlState `json:"state"`
	Counters Counters        `json:"counters"`
}

// Snapshot is the point-in-time view served by the status API.
type Snapshot struct {
	Running  bool            `json:"running"`
	State    oeis.CrawlState `json:"state"`
	Counters Counters        `json:"counters"`
}

// Deps carries the coordinator's collaborators.
type Deps struct {
	Fetcher   oeis.Fetcher
	Store     oeis.Store
	Hasher    oeis.Hasher
	Retry     *RetryPolicy
	Clock     oeis.Clock
	IDGen     oeis.IDGenerator
	Emitter   progress.Emitter
	Publisher oeis.Publisher
	Logger    *zap.Logger
}

// Coordinator owns the frontier for one pass, dispatches fetch work to a
// bounded pool, and advances the durable checkpoint strictly in frontier
// order. It holds the only mutable pass state; everything durable lives in
// the store.
type Coordinator struct {
	cfg      Config
	fetcher  oeis.Fetcher
	store    oeis.Store
	detector *oeis.ChangeDetector
	hasher   oeis.Hasher
	retry    *RetryPolicy
	clock    oeis.Clock
	idgen    oeis.IDGenerator
	emitter  progress.Emitter
	pub      oeis.Publisher
	logger   *zap.Logger

	mu       sync.Mutex
	running  bool
	state    oeis.CrawlState
	counters Counters
	abortErr error
}

// New validates dependencies and builds a Coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if deps.IDGen == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.StaleLimit <= 0 {
		cfg.StaleLimit = defaultStaleLimit
	}
	if cfg.Since == 0 && (cfg.Start <= 0 || cfg.End < cfg.Start) {
		return nil, fmt.Errorf("invalid id range [%d,%d]", cfg.Start, cfg.End)
	}
	if deps.Retry == nil {
		deps.Retry = NewRetryPolicy()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.NopEmitter{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		fetcher:  deps.Fetcher,
		store:    deps.Store,
		detector: oeis.NewChangeDetector(),
		hasher:   deps.Hasher,
		retry:    deps.Retry,
		clock:    deps.Clock,
		idgen:    deps.IDGen,
		emitter:  deps.Emitter,
		pub:      deps.Publisher,
		logger:   deps.Logger,
	}, nil
}

// workItem is one frontier entry handed to a worker.
type workItem struct {
	id       oeis.RecordID
	attempts int
	retry    bool
}

// Run executes one pass to completion, interruption or abort. The returned
// error is non-nil only for storage failures (state Aborted); cancellation
// and per-id failures are reported through the summary's state.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	state, plan, err := c.preparePass(ctx)
	if err != nil {
		return Summary{}, err
	}
	frontier, retries := plan.frontier, plan.retries
	c.setRunning(state)
	passID := progress.UUIDToBytes(state.PassID)
	started := c.clock.Now()
	c.emitter.Emit(progress.Event{PassID: passID, TS: started, Stage: progress.StagePassStart})
	c.logger.Info("pass started",
		zap.String("pass_id", state.PassID.String()),
		zap.Stringer("range_start", state.RangeStart),
		zap.Stringer("range_end", state.RangeEnd),
		zap.Stringer("checkpoint", state.LastCompleted),
		zap.Int("frontier", len(frontier)),
		zap.Int("retries", len(retries)),
		zap.Int("workers", c.cfg.Workers),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan workItem)
	results := make(chan taskResult)

	go c.dispatch(runCtx, tasks, plan)

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				results <- c.processRecord(runCtx, item)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	c.commitLoop(runCtx, cancel, passID, state.PassID, frontier, results)

	status := c.finalStatus(ctx)
	// The terminal state must land even when the pass ended because ctx was
	// canceled; otherwise an interrupt would read back as a storage abort.
	if err := c.store.CompletePass(context.WithoutCancel(ctx), state.PassID, status); err != nil {
		// Losing the terminal state is itself a storage failure.
		c.recordAbort(fmt.Errorf("complete pass: %w", err))
		status = oeis.PassAborted
	}
	summary := c.finish(passID, status, started)
	if status == oeis.PassAborted {
		return summary, c.abortError()
	}
	return summary, nil
}

// passPlan is the materialized work for one pass: the ordered frontier, the
// re-enqueued failure-set items, and durable attempt counts for frontier ids
// that already have failure rows.
type passPlan struct {
	frontier []oeis.RecordID
	retries  []workItem
	attempts map[oeis.RecordID]int
}

// preparePass loads or creates the durable CrawlState and materializes the
// frontier. On resume, ids from the durable failure set still below the
// retry limit are re-enqueued unless the frontier already covers them;
// failure rows for frontier ids seed the attempt count instead.
func (c *Coordinator) preparePass(ctx context.Context) (oeis.CrawlState, passPlan, error) {
	var state oeis.CrawlState
	resuming := false
	if c.cfg.Resume {
		st, ok, err := c.store.LoadOpenPass(ctx)
		if err != nil {
			return oeis.CrawlState{}, passPlan{}, fmt.Errorf("load open pass: %w", err)
		}
		if ok {
			state = st
			state.Status = oeis.PassRunning
			resuming = true
		}
	}

	if !resuming {
		passID, err := c.idgen.NewRawID()
		if err != nil {
			return oeis.CrawlState{}, passPlan{}, fmt.Errorf("new pass id: %w", err)
		}
		state = oeis.CrawlState{
			PassID:    passID,
			PassStart: c.clock.Now(),
			Status:    oeis.PassRunning,
		}
		if c.cfg.Since > 0 {
			state.StaleCutoff = state.PassStart.Add(-c.cfg.Since)
		} else {
			state.RangeStart = c.cfg.Start
			state.RangeEnd = c.cfg.End
			state.LastCompleted = c.cfg.Start - 1
		}
	}

	frontier, err := c.materializeFrontier(ctx, &state)
	if err != nil {
		return oeis.CrawlState{}, passPlan{}, err
	}

	if !resuming {
		if !state.StaleCutoff.IsZero() && len(frontier) > 0 {
			state.RangeStart = frontier[0]
			state.RangeEnd = frontier[len(frontier)-1]
			state.LastCompleted = frontier[0] - 1
		}
		if err := c.store.BeginPass(ctx, state); err != nil {
			return oeis.CrawlState{}, passPlan{}, fmt.Errorf("begin pass: %w", err)
		}
		return state, passPlan{frontier: frontier}, nil
	}

	inFrontier := make(map[oeis.RecordID]bool, len(frontier))
	for _, id := range frontier {
		inFrontier[id] = true
	}
	failures, err := c.store.ListFailures(ctx)
	if err != nil {
		return oeis.CrawlState{}, passPlan{}, fmt.Errorf("list failures: %w", err)
	}
	plan := passPlan{frontier: frontier, attempts: make(map[oeis.RecordID]int)}
	for _, f := range failures {
		if inFrontier[f.ID] {
			plan.attempts[f.ID] = f.Attempts
			continue
		}
		if f.Attempts >= c.retry.MaxAttempts {
			continue
		}
		plan.retries = append(plan.retries, workItem{id: f.ID, attempts: f.Attempts, retry: true})
	}
	return state, plan, nil
}

func (c *Coordinator) materializeFrontier(ctx context.Context, state *oeis.CrawlState) ([]oeis.RecordID, error) {
	if state.StaleCutoff.IsZero() {
		start := state.LastCompleted + 1
		if start < state.RangeStart {
			start = state.RangeStart
		}
		if start > state.RangeEnd {
			return nil, nil
		}
		frontier := make([]oeis.RecordID, 0, state.RangeEnd-start+1)
		for id := start; id <= state.RangeEnd; id++ {
			frontier = append(frontier, id)
		}
		return frontier, nil
	}
	ids, err := c.store.ListStaleRecords(ctx, state.StaleCutoff, c.cfg.StaleLimit)
	if err != nil {
		return nil, fmt.Errorf("list stale records: %w", err)
	}
	frontier := ids[:0]
	for _, id := range ids {
		if id > state.LastCompleted {
			frontier = append(frontier, id)
		}
	}
	return frontier, nil
}

func (c *Coordinator) dispatch(ctx context.Context, tasks chan<- workItem, plan passPlan) {
	defer close(tasks)
	send := func(item workItem) bool {
		select {
		case tasks <- item:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for _, item := range plan.retries {
		if !send(item) {
			return
		}
	}
	for _, id := range plan.frontier {
		if !send(workItem{id: id, attempts: plan.attempts[id]}) {
			return
		}
	}
}

// commitLoop drains worker results, holding out-of-order completions in the
// reordering buffer and advancing the checkpoint only over the contiguous
// frontier prefix. It continues draining after an abort so workers can exit,
// but stops issuing checkpoints. Checkpoint writes run on a detached context
// so the longest committable prefix still flushes after cancellation.
func (c *Coordinator) commitLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	passID [16]byte,
	passUUID uuid.UUID,
	frontier []oeis.RecordID,
	results <-chan taskResult,
) {
	buffer := newReorderBuffer(frontier)
	commitCtx := context.WithoutCancel(ctx)
	for res := range results {
		c.tally(res)
		if res.status == statusCanceled {
			continue
		}
		if res.status == statusStorageFailure {
			c.recordAbort(res.err)
			cancel()
			continue
		}
		c.emitRecordDone(passID, res)
		if res.retry || c.aborted() {
			continue
		}
		for _, head := range buffer.add(res) {
			if err := c.store.AdvanceCheckpoint(commitCtx, passUUID, head.id); err != nil {
				c.recordAbort(fmt.Errorf("advance checkpoint to %s: %w", head.id, err))
				cancel()
				break
			}
			c.setCheckpoint(head.id)
			c.emitter.Emit(progress.Event{
				PassID:     passID,
				TS:         c.clock.Now(),
				Stage:      progress.StageCheckpoint,
				Checkpoint: head.id,
			})
		}
	}
	if n := buffer.holding(); n > 0 {
		c.logger.Info("uncommittable results discarded at shutdown", zap.Int("held", n))
	}
}

// processRecord runs the full pipeline for one id: fetch metadata, parse,
// optionally fetch and parse the attachment, detect change, and commit.
// Everything it records durably happens before the result reaches the
// committer, so a checkpoint never covers unrecorded work. Store calls run
// on a detached context: only fetches are cancelable, in-flight work that
// already has its bytes still commits during a drain.
func (c *Coordinator) processRecord(ctx context.Context, item workItem) taskResult {
	storeCtx := context.WithoutCancel(ctx)
	attempts := item.attempts
	metaBody, fail := c.fetchWithRetry(ctx, oeis.FetchTask{ID: item.id, Kind: oeis.KindMetadata}, &attempts, item.retry)
	if fail != nil {
		if fail.status == statusNotFound {
			return c.handleNotFound(storeCtx, item, attempts)
		}
		return *fail
	}

	rec, err := oeis.ParseRecord(item.id, metaBody)
	if err != nil {
		return c.handleParseFailure(storeCtx, item, err)
	}

	var attBody []byte
	var att *oeis.Attachment
	if c.cfg.FetchAttachments {
		body, fail := c.fetchWithRetry(ctx, oeis.FetchTask{ID: item.id, Kind: oeis.KindAttachment}, &attempts, item.retry)
		switch {
		case fail != nil && fail.status == statusNotFound:
			// Many records simply have no b-file.
		case fail != nil:
			return *fail
		default:
			parsed, err := oeis.ParseAttachment(item.id, body)
			if err != nil {
				return c.handleParseFailure(storeCtx, item, err)
			}
			att = &parsed
			attBody = body
		}
	}

	revision, err := c.hasher.Revision(metaBody, attBody)
	if err != nil {
		return taskResult{id: item.id, status: statusStorageFailure, retry: item.retry, err: fmt.Errorf("revision %s: %w", item.id, err)}
	}
	rec.Revision = revision
	now := c.clock.Now()
	rec.FirstFetched = now
	rec.LastFetched = now

	existingRev, exists, err := c.store.GetRevision(storeCtx, item.id)
	if err != nil {
		return taskResult{id: item.id, status: statusStorageFailure, retry: item.retry, err: fmt.Errorf("get revision %s: %w", item.id, err)}
	}
	var existing *string
	if exists {
		existing = &existingRev
	}

	status := statusUnchanged
	if c.detector.NeedsUpdate(existing, revision) {
		if err := c.store.UpsertRecord(storeCtx, rec, att); err != nil {
			return taskResult{id: item.id, status: statusStorageFailure, retry: item.retry, err: fmt.Errorf("upsert %s: %w", item.id, err)}
		}
		status = statusUpdated
	}
	if attempts > 0 || item.retry {
		if err := c.store.ClearFailure(storeCtx, item.id); err != nil {
			return taskResult{id: item.id, status: statusStorageFailure, retry: item.retry, err: fmt.Errorf("clear failure %s: %w", item.id, err)}
		}
	}
	return taskResult{id: item.id, status: status, attempts: attempts, retry: item.retry}
}

// fetchWithRetry drives the retry loop around single-round-trip fetches.
// Transient failures are durably recorded attempt by attempt so a crash does
// not lose retry bookkeeping; throttle responses wait without burning the
// attempt budget.
func (c *Coordinator) fetchWithRetry(ctx context.Context, task oeis.FetchTask, attempts *int, retry bool) ([]byte, *taskResult) {
	storeCtx := context.WithoutCancel(ctx)
	throttleWaits := 0
	for {
		if ctx.Err() != nil {
			return nil, &taskResult{id: task.ID, status: statusCanceled, attempts: *attempts, retry: retry}
		}
		task.Attempt = *attempts + 1
		started := c.clock.Now()
		out := c.fetcher.Fetch(ctx, task)
		c.emitFetchDone(task, out, c.clock.Now().Sub(started))

		switch out.Status {
		case oeis.FetchSuccess:
			return out.Body, nil

		case oeis.FetchNotFound:
			return nil, &taskResult{id: task.ID, status: statusNotFound, attempts: *attempts, retry: retry}

		case oeis.FetchRateLimited:
			throttleWaits++
			if throttleWaits > c.retry.MaxThrottleWaits {
				if res := c.markFailedResult(storeCtx, task.ID, c.retry.MaxAttempts, "remote throttling persisted", retry); res != nil {
					return nil, res
				}
				return nil, &taskResult{id: task.ID, status: statusFailed, attempts: *attempts, retry: retry, err: errors.New("remote throttling persisted")}
			}
			if !sleepCtx(ctx, c.retry.ThrottleDelay(out.RetryAfter, throttleWaits)) {
				return nil, &taskResult{id: task.ID, status: statusCanceled, attempts: *attempts, retry: retry}
			}

		case oeis.FetchTransient:
			// A fetch torn down by cancellation looks transient; it must
			// not burn an attempt or leave a failure row.
			if ctx.Err() != nil {
				return nil, &taskResult{id: task.ID, status: statusCanceled, attempts: *attempts, retry: retry}
			}
			*attempts++
			cause := "transient fetch failure"
			if out.Err != nil {
				cause = out.Err.Error()
			}
			if err := c.store.MarkFailed(storeCtx, task.ID, *attempts, cause); err != nil {
				return nil, &taskResult{id: task.ID, status: statusStorageFailure, retry: retry, err: fmt.Errorf("mark failed %s: %w", task.ID, err)}
			}
			if !c.retry.ShouldRetry(*attempts) {
				c.logger.Warn("retry budget exhausted",
					zap.Stringer("record", task.ID),
					zap.String("kind", string(task.Kind)),
					zap.Int("attempts", *attempts),
					zap.String("cause", cause),
				)
				return nil, &taskResult{id: task.ID, status: statusFailed, attempts: *attempts, retry: retry, err: out.Err}
			}
			if !sleepCtx(ctx, c.retry.Backoff(*attempts)) {
				return nil, &taskResult{id: task.ID, status: statusCanceled, attempts: *attempts, retry: retry}
			}
		}
	}
}

// handleNotFound durably records a missing remote id. A record we already
// mirror is never erased; the failure row flags it for the operator.
func (c *Coordinator) handleNotFound(ctx context.Context, item workItem, attempts int) taskResult {
	if _, exists, err := c.store.GetRevision(ctx, item.id); err != nil {
		return taskResult{id: item.id, status: statusStorageFailure, retry: item.retry, err: fmt.Errorf("get revision %s: %w", item.id, err)}
	} else if exists {
		c.logger.Warn("remote reports missing record, keeping local copy", zap.Stringer("record", item.id))
	} else {
		c.logger.Info("record not found", zap.Stringer("record", item.id))
	}
	if res := c.markFailedResult(ctx, item.id, c.retry.MaxAttempts, "not found", item.retry); res != nil {
		return *res
	}
	return taskResult{id: item.id, status: statusNotFound, attempts: attempts, retry: item.retry}
}

func (c *Coordinator) handleParseFailure(ctx context.Context, item workItem, perr error) taskResult {
	c.logger.Warn("parse failure", zap.Stringer("record", item.id), zap.Error(perr))
	if res := c.markFailedResult(ctx, item.id, c.retry.MaxAttempts, perr.Error(), item.retry); res != nil {
		return *res
	}
	return taskResult{id: item.id, status: statusParseFailed, retry: item.retry, err: perr}
}

// markFailedResult records a terminal per-id failure; it returns a non-nil
// abort result only when the store itself fails.
func (c *Coordinator) markFailedResult(ctx context.Context, id oeis.RecordID, attempts int, cause string, retry bool) *taskResult {
	if err := c.store.MarkFailed(ctx, id, attempts, cause); err != nil {
		return &taskResult{id: id, status: statusStorageFailure, retry: retry, err: fmt.Errorf("mark failed %s: %w", id, err)}
	}
	return nil
}

// sleepCtx waits d or until ctx is done, reporting whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) finalStatus(ctx context.Context) oeis.PassStatus {
	switch {
	case c.aborted():
		return oeis.PassAborted
	case ctx.Err() != nil:
		return oeis.PassInterrupted
	default:
		return oeis.PassCompleted
	}
}

func (c *Coordinator) finish(passID [16]byte, status oeis.PassStatus, started time.Time) Summary {
	c.mu.Lock()
	c.running = false
	c.state.Status = status
	summary := Summary{State: c.state, Counters: c.counters}
	c.mu.Unlock()

	stage := progress.StagePassDone
	if status == oeis.PassAborted {
		stage = progress.StagePassError
	}
	elapsed := c.clock.Now().Sub(started)
	c.emitter.Emit(progress.Event{PassID: passID, TS: c.clock.Now(), Stage: stage, Outcome: string(status), Dur: elapsed})
	c.logger.Info("pass finished",
		zap.String("pass_id", summary.State.PassID.String()),
		zap.String("status", string(status)),
		zap.Stringer("checkpoint", summary.State.LastCompleted),
		zap.Int64("updated", summary.Counters.Updated),
		zap.Int64("unchanged", summary.Counters.Unchanged),
		zap.Int64("not_found", summary.Counters.NotFound),
		zap.Int64("parse_failed", summary.Counters.ParseFailed),
		zap.Int64("failed", summary.Counters.Failed),
		zap.Duration("elapsed", elapsed),
	)
	c.publishPassEvent(summary)
	return summary
}

func (c *Coordinator) publishPassEvent(summary Summary) {
	if c.pub == nil || c.cfg.PublishTopic == "" {
		return
	}
	event := oeis.PassEvent{
		PassID:        summary.State.PassID,
		Status:        summary.State.Status,
		RangeStart:    summary.State.RangeStart,
		RangeEnd:      summary.State.RangeEnd,
		LastCompleted: summary.State.LastCompleted,
		Updated:       summary.Counters.Updated,
		Unchanged:     summary.Counters.Unchanged,
		NotFound:      summary.Counters.NotFound,
		ParseFailed:   summary.Counters.ParseFailed,
		Failed:        summary.Counters.Failed,
		Retried:       summary.Counters.Retried,
		FinishedAt:    c.clock.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.pub.Publish(ctx, c.cfg.PublishTopic, event); err != nil {
		c.logger.Warn("publish pass event failed", zap.Error(err))
	}
}

// Snapshot returns the current pass view for the status API.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Running: c.running, State: c.state, Counters: c.counters}
}

func (c *Coordinator) setRunning(state oeis.CrawlState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.state = state
	c.counters = Counters{}
	c.abortErr = nil
}

func (c *Coordinator) setCheckpoint(id oeis.RecordID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.LastCompleted = id
}

func (c *Coordinator) tally(res taskResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if res.retry {
		c.counters.Retried++
	}
	switch res.status {
	case statusUpdated:
		c.counters.Updated++
	case statusUnchanged:
		c.counters.Unchanged++
	case statusNotFound:
		c.counters.NotFound++
	case statusParseFailed:
		c.counters.ParseFailed++
	case statusFailed:
		c.counters.Failed++
	}
}

func (c *Coordinator) recordAbort(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abortErr == nil {
		c.abortErr = err
		c.logger.Error("storage failure, aborting pass", zap.Error(err))
	}
}

func (c *Coordinator) aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abortErr != nil
}

func (c *Coordinator) abortError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abortErr
}

func (c *Coordinator) emitFetchDone(task oeis.FetchTask, out oeis.FetchOutcome, dur time.Duration) {
	c.mu.Lock()
	passID := progress.UUIDToBytes(c.state.PassID)
	c.mu.Unlock()
	c.emitter.Emit(progress.Event{
		PassID:  passID,
		TS:      c.clock.Now(),
		Stage:   progress.StageFetchDone,
		Record:  task.ID,
		Kind:    task.Kind,
		Outcome: string(out.Status),
		Bytes:   int64(len(out.Body)),
		Dur:     dur,
	})
}

func (c *Coordinator) emitRecordDone(passID [16]byte, res taskResult) {
	note := ""
	if res.err != nil {
		note = res.err.Error()
	}
	c.emitter.Emit(progress.Event{
		PassID:  passID,
		TS:      c.clock.Now(),
		Stage:   progress.StageRecordDone,
		Record:  res.id,
		Outcome: string(res.status),
		Note:    note,
	})
}
