package crawl

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/oeistools/oeissync/internal/oeis"
)

// probeFloor is an id known to exist in the remote database; the probe never
// reports a highest id below it.
const probeFloor oeis.RecordID = 263000

// Prober locates the highest id currently present remotely, so a full pass
// can be started without hardcoding the database size.
type Prober struct {
	fetcher oeis.Fetcher
	retry   *RetryPolicy
	logger  *zap.Logger
}

// NewProber builds a Prober. Retry and logger may be nil.
func NewProber(fetcher oeis.Fetcher, retry *RetryPolicy, logger *zap.Logger) *Prober {
	if retry == nil {
		retry = NewRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{fetcher: fetcher, retry: retry, logger: logger}
}

// HighestID finds the largest existing id by doubling the step past the
// known floor until a probe misses, then binary searching the bracket.
// Each probe costs one metadata fetch, so the whole search is O(log n)
// round trips.
func (p *Prober) HighestID(ctx context.Context) (oeis.RecordID, error) {
	exists, err := p.probe(ctx, probeFloor)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("probe floor %s unexpectedly missing", probeFloor)
	}

	lo := probeFloor
	step := oeis.RecordID(1024)
	hi := lo + step
	for {
		exists, err := p.probe(ctx, hi)
		if err != nil {
			return 0, err
		}
		if !exists {
			break
		}
		lo = hi
		step *= 2
		hi = lo + step
	}

	// Invariant: lo exists, hi does not.
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		exists, err := p.probe(ctx, mid)
		if err != nil {
			return 0, err
		}
		if exists {
			lo = mid
		} else {
			hi = mid
		}
	}
	p.logger.Info("highest id located", zap.Stringer("record", lo))
	return lo, nil
}

// probe reports whether one id exists, retrying transient failures on the
// standard schedule and honoring throttle waits.
func (p *Prober) probe(ctx context.Context, id oeis.RecordID) (bool, error) {
	attempts := 0
	throttleWaits := 0
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		out := p.fetcher.Fetch(ctx, oeis.FetchTask{ID: id, Kind: oeis.KindMetadata, Attempt: attempts + 1})
		switch out.Status {
		case oeis.FetchSuccess:
			return true, nil
		case oeis.FetchNotFound:
			return false, nil
		case oeis.FetchRateLimited:
			throttleWaits++
			if throttleWaits > p.retry.MaxThrottleWaits {
				return false, fmt.Errorf("probe %s: remote throttling persisted", id)
			}
			if !sleepCtx(ctx, p.retry.ThrottleDelay(out.RetryAfter, throttleWaits)) {
				return false, ctx.Err()
			}
		case oeis.FetchTransient:
			attempts++
			if !p.retry.ShouldRetry(attempts) {
				return false, fmt.Errorf("probe %s after %d attempts: %w", id, attempts, out.Err)
			}
			if !sleepCtx(ctx, p.retry.Backoff(attempts)) {
				return false, ctx.Err()
			}
		}
	}
}
