package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/broker/messages"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/integrations/krs"
	"github.com/pkg/errors"
)

// ErrRunInProgress guards single-flight execution: two sync runs against the
// same account must never overlap.
var ErrRunInProgress = errors.New("a sync run is already in progress")

type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context) (*time.Time, error)
	SaveCheckpoint(ctx context.Context, resumeBefore time.Time) error
	ClearCheckpoint(ctx context.Context) error
}

type BuyerWiper interface {
	ClearUnreferencedBuyers(ctx context.Context) (int64, error)
}

type PageFetcher interface {
	FetchPage(ctx context.Context, req krs.PageRequest) (krs.PageResult, int, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Config struct {
	AccountCode string
	Username    string
	Password    string

	IncrementalWindowDays int       // default: 7
	FullSyncLowerBound    time.Time // absolute oldest boundary for full runs

	Fetcher FetcherConfig
}

type RunParams struct {
	StartDate           *time.Time
	EndDate             *time.Time
	FullSync            bool
	ClearExistingBuyers bool
}

type RunSummary struct {
	RowsFetched int    `json:"rowsFetched"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Skipped     int    `json:"skipped"`
	DateRange   string `json:"dateRangeProcessed"`
}

// Service drives the crawl: month slices newest to oldest in full mode, a
// trailing window in incremental mode, one page in flight at a time, with a
// durable checkpoint after every completed month.
type Service struct {
	client         krs.Client
	store          RowStore
	checkpoint     CheckpointStore
	wiper          BuyerWiper
	producer       Producer
	completedTopic string
	trackingTopic  string
	cfg            Config

	// newFetcher builds a fresh fetcher per run, because the adaptive page
	// shrink is run-scoped.
	newFetcher func() PageFetcher

	running atomic.Bool

	startedAtUnixNano int64
	lastRunUnixNano   atomic.Int64
	totalRuns         atomic.Int64
	totalRowsFetched  atomic.Int64
	totalSkipped      atomic.Int64
	lastMu            sync.Mutex
	lastSummary       *RunSummary
	lastError         string
}

func New(client krs.Client, store RowStore, checkpoint CheckpointStore, wiper BuyerWiper, cfg Config) *Service {
	if cfg.IncrementalWindowDays <= 0 {
		cfg.IncrementalWindowDays = 7
	}
	s := &Service{
		client:            client,
		store:             store,
		checkpoint:        checkpoint,
		wiper:             wiper,
		cfg:               cfg,
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
	s.newFetcher = func() PageFetcher {
		return NewFetcher(client, cfg.Fetcher, nil)
	}
	return s
}

// WithProducer wires an optional kafka producer: completedTopic gets the run
// summary, trackingTopic gets per-order tracking discoveries. An empty topic
// disables that event.
func (s *Service) WithProducer(p Producer, completedTopic, trackingTopic string) *Service {
	s.producer = p
	s.completedTopic = completedTopic
	s.trackingTopic = trackingTopic
	return s
}

// WithFetcherFactory overrides page fetching, for tests.
func (s *Service) WithFetcherFactory(f func() PageFetcher) *Service {
	s.newFetcher = f
	return s
}

func (s *Service) Run(ctx context.Context, p RunParams) (RunSummary, error) {
	var summary RunSummary

	if !s.running.CompareAndSwap(false, true) {
		return summary, ErrRunInProgress
	}
	defer s.running.Store(false)
	s.lastRunUnixNano.Store(time.Now().UTC().UnixNano())
	s.totalRuns.Add(1)

	err := s.run(ctx, p, &summary)

	s.totalRowsFetched.Add(int64(summary.RowsFetched))
	s.totalSkipped.Add(int64(summary.Skipped))
	s.lastMu.Lock()
	cp := summary
	s.lastSummary = &cp
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
	s.lastMu.Unlock()

	if err == nil && s.producer != nil && s.completedTopic != "" {
		msg := messages.SyncCompleted{
			CompletedAt: time.Now().UTC(),
			FullSync:    p.FullSync,
			RowsFetched: summary.RowsFetched,
			Created:     summary.Created,
			Updated:     summary.Updated,
			Skipped:     summary.Skipped,
			DateRange:   summary.DateRange,
		}
		if b, merr := json.Marshal(msg); merr == nil {
			if perr := s.producer.Publish(ctx, s.completedTopic, []byte(s.cfg.AccountCode), b); perr != nil {
				slog.Error("publish sync.completed", "error", perr.Error())
			}
		}
	}

	return summary, err
}

func (s *Service) run(ctx context.Context, p RunParams, summary *RunSummary) error {
	token, err := s.client.Authenticate(ctx, s.cfg.Username, s.cfg.Password)
	if err != nil {
		return errors.Wrap(err, "authenticate")
	}

	if p.FullSync && p.ClearExistingBuyers && s.wiper != nil {
		n, err := s.wiper.ClearUnreferencedBuyers(ctx)
		if err != nil {
			return errors.Wrap(err, "clear existing buyers")
		}
		slog.Info("cleared existing buyers", "deleted", n)
	}

	fetcher := s.newFetcher()
	reconciler := NewReconciler(s.store)

	if !p.FullSync {
		end := timeOr(p.EndDate, time.Now().UTC())
		start := timeOr(p.StartDate, end.AddDate(0, 0, -s.cfg.IncrementalWindowDays))
		summary.DateRange = formatRange(start, end)

		slog.Info("incremental sync", "start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))
		return s.processSlice(ctx, fetcher, reconciler, token, start, end, summary)
	}

	lower := timeOr(p.StartDate, s.cfg.FullSyncLowerBound)
	if lower.IsZero() {
		return errors.New("full sync requires a lower bound (startDate or configured full_sync_lower_bound)")
	}
	end := timeOr(p.EndDate, time.Now().UTC())

	// A persisted checkpoint wins over "now": resume where the interrupted
	// crawl left off instead of redoing finished months.
	if p.EndDate == nil {
		cp, err := s.checkpoint.LoadCheckpoint(ctx)
		if err != nil {
			return err
		}
		if cp != nil && cp.Before(end) {
			slog.Info("resuming full sync from checkpoint", "resume_before", cp.Format("2006-01-02"))
			end = *cp
		}
	}

	overallEnd := end
	for {
		sliceStart := monthStart(end)
		if sliceStart.Before(lower) {
			sliceStart = lower
		}

		slog.Info("sync month slice", "start", sliceStart.Format("2006-01-02"), "end", end.Format("2006-01-02"))
		if err := s.processSlice(ctx, fetcher, reconciler, token, sliceStart, end, summary); err != nil {
			summary.DateRange = formatRange(sliceStart, overallEnd)
			return err
		}

		summary.DateRange = formatRange(sliceStart, overallEnd)

		if !sliceStart.After(lower) {
			return errors.Wrap(s.checkpoint.ClearCheckpoint(ctx), "clear checkpoint")
		}

		next := sliceStart.Add(-time.Second)
		if err := s.checkpoint.SaveCheckpoint(ctx, next); err != nil {
			return err
		}
		end = next
	}
}

// processSlice walks one date window page by page at ascending offsets until
// a page comes back shorter than requested.
func (s *Service) processSlice(ctx context.Context, fetcher PageFetcher, reconciler *Reconciler, token string, start, end time.Time, summary *RunSummary) error {
	offset := 0
	for {
		res, requested, err := fetcher.FetchPage(ctx, krs.PageRequest{
			StartDate:   start,
			EndDate:     end,
			AccountCode: s.cfg.AccountCode,
			SortOrder:   "asc",
			Offset:      offset,
			Token:       token,
		})
		if err != nil {
			return err
		}

		for _, row := range res.Rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			out := reconciler.ReconcileRow(ctx, row)
			summary.RowsFetched++
			if out.Skipped {
				summary.Skipped++
				continue
			}
			summary.Created += out.Result.Created
			summary.Updated += out.Result.Updated
			s.publishTrackingDiscovered(ctx, row, out)
		}

		if len(res.Rows) < requested {
			return nil
		}
		offset += len(res.Rows)
	}
}

// publishTrackingDiscovered announces orders that picked up a tracking number
// from this row. Best effort: a failed publish is logged, never aborts the run.
func (s *Service) publishTrackingDiscovered(ctx context.Context, row krs.ShipmentRow, out RowOutcome) {
	if s.producer == nil || s.trackingTopic == "" || len(out.Result.TrackingUpdatedOrders) == 0 {
		return
	}
	srn := parseSRN(row.SaleRecordNumber)
	if srn == nil {
		return
	}
	number, slug := pickTracking(row)
	msg := messages.TrackingDiscovered{
		SRN:            *srn,
		TrackingNumber: number,
		TrackingSlug:   slug,
		OrderIDs:       out.Result.TrackingUpdatedOrders,
		DiscoveredAt:   time.Now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.producer.Publish(ctx, s.trackingTopic, []byte(row.SaleRecordNumber), b); err != nil {
		slog.Error("publish tracking discovered", "srn", *srn, "error", err.Error())
	}
}

type Stats struct {
	StartedAt        time.Time   `json:"startedAt"`
	LastRunAt        *time.Time  `json:"lastRunAt,omitempty"`
	Running          bool        `json:"running"`
	TotalRuns        int64       `json:"totalRuns"`
	TotalRowsFetched int64       `json:"totalRowsFetched"`
	TotalSkipped     int64       `json:"totalSkipped"`
	LastSummary      *RunSummary `json:"lastSummary,omitempty"`
	LastError        string      `json:"lastError,omitempty"`
}

func (s *Service) Stats() Stats {
	st := Stats{
		StartedAt:        time.Unix(0, s.startedAtUnixNano).UTC(),
		Running:          s.running.Load(),
		TotalRuns:        s.totalRuns.Load(),
		TotalRowsFetched: s.totalRowsFetched.Load(),
		TotalSkipped:     s.totalSkipped.Load(),
	}
	if n := s.lastRunUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRunAt = &t
	}
	s.lastMu.Lock()
	st.LastSummary = s.lastSummary
	st.LastError = s.lastError
	s.lastMu.Unlock()
	return st
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func timeOr(t *time.Time, def time.Time) time.Time {
	if t != nil {
		return t.UTC()
	}
	return def
}

func formatRange(start, end time.Time) string {
	return fmt.Sprintf("%s..%s", start.Format("2006-01-02"), end.Format("2006-01-02"))
}
