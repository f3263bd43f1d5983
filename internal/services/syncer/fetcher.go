package syncer

import (
	"context"
	"math/rand"
	"time"

	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/integrations/krs"
	"github.com/pkg/errors"
)

// ErrFetchAborted means the retry budget for one page was exhausted. The run
// stops; checkpoint progress made so far stays valid.
var ErrFetchAborted = errors.New("fetch aborted: retry attempts exhausted")

type Rand interface {
	Intn(n int) int
}

type FetcherConfig struct {
	MaxAttempts int           // default: 5
	BackoffBase time.Duration // default: 500ms
	BackoffCap  time.Duration // default: 30s
	PageSize    int           // default: 1000
	MinPageSize int           // default: 100
}

func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		MaxAttempts: 5,
		BackoffBase: 500 * time.Millisecond,
		BackoffCap:  30 * time.Second,
		PageSize:    1000,
		MinPageSize: 100,
	}
}

// Fetcher issues one page request at a time and owns all network flakiness
// handling: exponential backoff with jitter on retriable failures, and an
// adaptive page-size shrink to ease load on a struggling platform. Callers
// get either a valid row set or a terminal error.
type Fetcher struct {
	client krs.Client
	cfg    FetcherConfig

	pageSize int // current requested size; shrinks within a run, never grows back

	r     Rand
	sleep func(ctx context.Context, d time.Duration) error
}

func NewFetcher(client krs.Client, cfg FetcherConfig, r Rand) *Fetcher {
	def := DefaultFetcherConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = def.BackoffCap
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MinPageSize <= 0 {
		cfg.MinPageSize = def.MinPageSize
	}
	if cfg.MinPageSize > cfg.PageSize {
		cfg.MinPageSize = cfg.PageSize
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Fetcher{
		client:   client,
		cfg:      cfg,
		pageSize: cfg.PageSize,
		r:        r,
		sleep:    sleepCtx,
	}
}

// PageSize is the size the next page will be requested with.
func (f *Fetcher) PageSize() int {
	return f.pageSize
}

// FetchPage fetches one page, retrying per policy. It returns the rows along
// with the size that was actually requested, so the caller can detect a short
// (final) page.
func (f *Fetcher) FetchPage(ctx context.Context, req krs.PageRequest) (krs.PageResult, int, error) {
	var lastErr error

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		req.Limit = f.pageSize

		res, err := f.client.ListShipments(ctx, req)
		if err == nil {
			return res, req.Limit, nil
		}
		lastErr = err

		if !krs.IsRetriable(err) {
			return krs.PageResult{}, req.Limit, errors.Wrap(err, "non-retriable fetch error")
		}
		if attempt == f.cfg.MaxAttempts {
			break
		}

		// From the second failure on, ask for smaller pages. The smaller size
		// sticks for the rest of the run.
		if attempt >= 2 && f.pageSize/2 >= f.cfg.MinPageSize {
			f.pageSize /= 2
		}

		if err := f.sleep(ctx, f.backoffDelay(attempt)); err != nil {
			return krs.PageResult{}, req.Limit, err
		}
	}

	return krs.PageResult{}, req.Limit, errors.WithMessagef(ErrFetchAborted, "%d attempts, last error: %v", f.cfg.MaxAttempts, lastErr)
}

// backoffDelay grows exponentially with a random additive jitter and is
// clamped to the cap. Delays are strictly increasing until the cap is hit.
func (f *Fetcher) backoffDelay(attempt int) time.Duration {
	d := f.cfg.BackoffBase << (attempt - 1)
	if d > f.cfg.BackoffCap || d <= 0 {
		d = f.cfg.BackoffCap
	}
	jitterRange := int(d / 4)
	if jitterRange > 0 {
		d += time.Duration(f.r.Intn(jitterRange))
	}
	if d > f.cfg.BackoffCap {
		d = f.cfg.BackoffCap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
