package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/broker/messages"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/integrations/krs"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/storage/pgstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// rowOpts mutates the default test row in place.
type rowOpts struct {
	srn            string
	shipmentID     string
	phone          string
	phoneCode      string
	country        string
	trackingNumber string
	trackingSlug   string
	eventTracking  string
}

func krsRow(mut func(*rowOpts)) krs.ShipmentRow {
	o := rowOpts{
		srn:            "12345",
		shipmentID:     "SH-1",
		phone:          "08111280720",
		phoneCode:      "+62",
		country:        "ID",
		trackingNumber: "KRS-TRACK-1",
	}
	if mut != nil {
		mut(&o)
	}

	row := krs.ShipmentRow{
		SaleRecordNumber: o.srn,
		ShipmentID:       o.shipmentID,
		BuyerName:        "Rudi Hartono",
		BuyerAddress:     "Jl. Sudirman 1",
		BuyerCity:        "Jakarta",
		BuyerProvince:    "DKI Jakarta",
		BuyerZip:         "10110",
		BuyerCountry:     o.country,
		BuyerPhone:       o.phone,
		BuyerPhoneCode:   o.phoneCode,
		ServiceName:      "Regular",
		Carrier:          "JNE",
		Fee:              "104,000",
		TrackingNumber:   o.trackingNumber,
		ReceivedAt:       "2025/09/01 10:00:00",
		LabelCreatedAt:   "null",
		ShippedAt:        "null",
	}
	if o.eventTracking != "" {
		row.Trackings = []krs.TrackingEntry{{Slug: o.trackingSlug, TrackingNumber: o.eventTracking}}
	}
	return row
}

// memRowStore counts a create on first sight of a key and an update after.
// trackingOrders, when set, scripts which orders picked up tracking per SRN.
type memRowStore struct {
	mu             sync.Mutex
	seen           map[string]bool
	rows           []pgstore.RowUpsert
	trackingOrders map[int64][]uint64
}

func newMemRowStore() *memRowStore {
	return &memRowStore{seen: map[string]bool{}}
}

func (s *memRowStore) ApplyRow(ctx context.Context, row pgstore.RowUpsert) (pgstore.RowResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)

	var res pgstore.RowResult
	if row.SRN != nil && row.TrackingNumber != nil {
		res.TrackingUpdatedOrders = s.trackingOrders[*row.SRN]
	}

	key := ""
	switch {
	case row.SRN != nil:
		key = "srn:" + strconv.FormatInt(*row.SRN, 10)
	case row.ShipmentID != nil:
		key = "shipment:" + *row.ShipmentID
	}
	if s.seen[key] {
		res.Updated = 1
		return res, nil
	}
	s.seen[key] = true
	res.Created = 1
	return res, nil
}

type memCheckpoint struct {
	mu      sync.Mutex
	cp      *time.Time
	saved   []time.Time
	cleared bool
}

func (c *memCheckpoint) LoadCheckpoint(ctx context.Context) (*time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cp, nil
}

func (c *memCheckpoint) SaveCheckpoint(ctx context.Context, resumeBefore time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := resumeBefore
	c.cp = &cp
	c.saved = append(c.saved, resumeBefore)
	return nil
}

func (c *memCheckpoint) ClearCheckpoint(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cp = nil
	c.cleared = true
	return nil
}

type memWiper struct{ calls int }

func (w *memWiper) ClearUnreferencedBuyers(ctx context.Context) (int64, error) {
	w.calls++
	return 2, nil
}

// scriptedFetcher replaces the real fetcher; pages scripts each call.
type scriptedFetcher struct {
	calls []krs.PageRequest
	pages func(req krs.PageRequest) (krs.PageResult, int, error)
}

func (f *scriptedFetcher) FetchPage(ctx context.Context, req krs.PageRequest) (krs.PageResult, int, error) {
	f.calls = append(f.calls, req)
	return f.pages(req)
}

type capturedMessage struct {
	topic string
	key   string
	value []byte
}

type memProducer struct {
	mu       sync.Mutex
	messages []capturedMessage
}

func (p *memProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, capturedMessage{topic: topic, key: string(key), value: value})
	return nil
}

func rowsN(start, n int) []krs.ShipmentRow {
	out := make([]krs.ShipmentRow, 0, n)
	for i := 0; i < n; i++ {
		srn := start + i
		out = append(out, krsRow(func(o *rowOpts) {
			o.srn = strconv.Itoa(srn)
			o.shipmentID = fmt.Sprintf("SH-%d", srn)
		}))
	}
	return out
}

func newTestService(fetcher *scriptedFetcher, store RowStore, cp CheckpointStore, wiper BuyerWiper, cfg Config) *Service {
	client := &scriptedClient{listFn: func(call int, req krs.PageRequest) (krs.PageResult, error) {
		return krs.PageResult{}, errors.New("scripted fetcher must be used instead")
	}}
	return New(client, store, cp, wiper, cfg).
		WithFetcherFactory(func() PageFetcher { return fetcher })
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRun_IncrementalWalksPagesAtAscendingOffsets(t *testing.T) {
	fetcher := &scriptedFetcher{
		pages: func(req krs.PageRequest) (krs.PageResult, int, error) {
			switch req.Offset {
			case 0, 500:
				return krs.PageResult{Rows: rowsN(req.Offset+1, 500)}, 500, nil
			case 1000:
				return krs.PageResult{Rows: rowsN(1001, 120)}, 500, nil
			default:
				return krs.PageResult{}, 500, errors.Errorf("unexpected offset %d", req.Offset)
			}
		},
	}
	store := newMemRowStore()
	cp := &memCheckpoint{}
	s := newTestService(fetcher, store, cp, nil, Config{AccountCode: "POS-1"})

	start := date(2025, time.September, 1)
	end := date(2025, time.September, 8)
	summary, err := s.Run(context.Background(), RunParams{StartDate: &start, EndDate: &end})
	require.NoError(t, err)

	require.Equal(t, 1120, summary.RowsFetched)
	require.Equal(t, 1120, summary.Created)
	require.Equal(t, 0, summary.Updated)
	require.Equal(t, 0, summary.Skipped)
	require.Equal(t, "2025-09-01..2025-09-08", summary.DateRange)

	require.Len(t, fetcher.calls, 3)
	require.Equal(t, []int{0, 500, 1000}, []int{fetcher.calls[0].Offset, fetcher.calls[1].Offset, fetcher.calls[2].Offset})
	for _, call := range fetcher.calls {
		require.Equal(t, "POS-1", call.AccountCode)
		require.Equal(t, "tok-1", call.Token)
		require.True(t, call.StartDate.Equal(start))
		require.True(t, call.EndDate.Equal(end))
	}

	// Incremental runs never touch the checkpoint.
	require.Empty(t, cp.saved)
	require.False(t, cp.cleared)
}

func TestRun_IncrementalCountsSkippedRows(t *testing.T) {
	bad := krsRow(func(o *rowOpts) { o.srn = ""; o.shipmentID = "" })
	fetcher := &scriptedFetcher{
		pages: func(req krs.PageRequest) (krs.PageResult, int, error) {
			return krs.PageResult{Rows: append(rowsN(1, 3), bad)}, 500, nil
		},
	}
	store := newMemRowStore()
	s := newTestService(fetcher, store, &memCheckpoint{}, nil, Config{})

	start := date(2025, time.September, 1)
	end := date(2025, time.September, 2)
	summary, err := s.Run(context.Background(), RunParams{StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	require.Equal(t, 4, summary.RowsFetched)
	require.Equal(t, 3, summary.Created)
	require.Equal(t, 1, summary.Skipped)
	require.Len(t, store.rows, 3)
}

func TestRun_FullSyncSlicesMonthsAndCheckpoints(t *testing.T) {
	fetcher := &scriptedFetcher{
		pages: func(req krs.PageRequest) (krs.PageResult, int, error) {
			return krs.PageResult{Rows: rowsN(int(req.StartDate.Month())*1000, 2)}, 500, nil
		},
	}
	store := newMemRowStore()
	cp := &memCheckpoint{}
	s := newTestService(fetcher, store, cp, nil, Config{
		FullSyncLowerBound: date(2025, time.August, 1),
	})

	end := date(2025, time.October, 15)
	summary, err := s.Run(context.Background(), RunParams{FullSync: true, EndDate: &end})
	require.NoError(t, err)
	require.Equal(t, 6, summary.RowsFetched)
	require.Equal(t, "2025-08-01..2025-10-15", summary.DateRange)

	// Newest month first, each window clipped to the month.
	require.Len(t, fetcher.calls, 3)
	require.True(t, fetcher.calls[0].StartDate.Equal(date(2025, time.October, 1)))
	require.True(t, fetcher.calls[0].EndDate.Equal(end))
	require.True(t, fetcher.calls[1].StartDate.Equal(date(2025, time.September, 1)))
	require.True(t, fetcher.calls[1].EndDate.Equal(date(2025, time.September, 30).Add(24*time.Hour-time.Second)))
	require.True(t, fetcher.calls[2].StartDate.Equal(date(2025, time.August, 1)))

	// A checkpoint lands after every finished month except the last one,
	// which clears instead.
	require.Len(t, cp.saved, 2)
	require.True(t, cp.saved[0].Equal(date(2025, time.October, 1).Add(-time.Second)))
	require.True(t, cp.saved[1].Equal(date(2025, time.September, 1).Add(-time.Second)))
	require.True(t, cp.cleared)
	require.Nil(t, cp.cp)
}

func TestRun_FullSyncAbortKeepsCheckpointAndResumes(t *testing.T) {
	// First run: October succeeds, September blows its retry budget.
	failing := &scriptedFetcher{
		pages: func(req krs.PageRequest) (krs.PageResult, int, error) {
			if req.StartDate.Month() == time.September {
				return krs.PageResult{}, 500, errors.WithMessage(ErrFetchAborted, "5 attempts")
			}
			return krs.PageResult{Rows: rowsN(1, 2)}, 500, nil
		},
	}
	cp := &memCheckpoint{cp: seed(date(2025, time.October, 15))}
	cfg := Config{FullSyncLowerBound: date(2025, time.August, 1)}

	s := newTestService(failing, newMemRowStore(), cp, nil, cfg)
	_, err := s.Run(context.Background(), RunParams{FullSync: true})
	require.ErrorIs(t, err, ErrFetchAborted)

	// October was finished, so its boundary survived the abort.
	require.NotNil(t, cp.cp)
	require.True(t, cp.cp.Equal(date(2025, time.October, 1).Add(-time.Second)))
	require.False(t, cp.cleared)

	// Second run resumes below the checkpoint instead of redoing October.
	resumed := &scriptedFetcher{
		pages: func(req krs.PageRequest) (krs.PageResult, int, error) {
			return krs.PageResult{Rows: rowsN(int(req.StartDate.Month())*1000, 1)}, 500, nil
		},
	}
	s2 := newTestService(resumed, newMemRowStore(), cp, nil, cfg)
	_, err = s2.Run(context.Background(), RunParams{FullSync: true})
	require.NoError(t, err)

	require.Len(t, resumed.calls, 2)
	require.True(t, resumed.calls[0].StartDate.Equal(date(2025, time.September, 1)))
	require.True(t, resumed.calls[0].EndDate.Equal(date(2025, time.October, 1).Add(-time.Second)))
	require.True(t, resumed.calls[1].StartDate.Equal(date(2025, time.August, 1)))
	require.True(t, cp.cleared)
	require.Nil(t, cp.cp)
}

func TestRun_FullSyncExplicitEndDateIgnoresCheckpoint(t *testing.T) {
	fetcher := &scriptedFetcher{
		pages: func(req krs.PageRequest) (krs.PageResult, int, error) {
			return krs.PageResult{}, 500, nil
		},
	}
	cp := &memCheckpoint{cp: seed(date(2025, time.March, 1))}
	s := newTestService(fetcher, newMemRowStore(), cp, nil, Config{
		FullSyncLowerBound: date(2025, time.October, 1),
	})

	end := date(2025, time.October, 20)
	_, err := s.Run(context.Background(), RunParams{FullSync: true, EndDate: &end})
	require.NoError(t, err)
	require.Len(t, fetcher.calls, 1)
	require.True(t, fetcher.calls[0].EndDate.Equal(end))
}

func TestRun_FullSyncWithoutLowerBoundFails(t *testing.T) {
	s := newTestService(&scriptedFetcher{}, newMemRowStore(), &memCheckpoint{}, nil, Config{})
	_, err := s.Run(context.Background(), RunParams{FullSync: true})
	require.Error(t, err)
}

func TestRun_ClearExistingBuyersOnlyOnFullSync(t *testing.T) {
	fetcher := &scriptedFetcher{
		pages: func(req krs.PageRequest) (krs.PageResult, int, error) {
			return krs.PageResult{}, 500, nil
		},
	}
	wiper := &memWiper{}
	s := newTestService(fetcher, newMemRowStore(), &memCheckpoint{}, wiper, Config{
		FullSyncLowerBound: date(2025, time.October, 1),
	})

	start := date(2025, time.October, 1)
	end := date(2025, time.October, 2)
	_, err := s.Run(context.Background(), RunParams{StartDate: &start, EndDate: &end, ClearExistingBuyers: true})
	require.NoError(t, err)
	require.Equal(t, 0, wiper.calls)

	_, err = s.Run(context.Background(), RunParams{FullSync: true, EndDate: &end, ClearExistingBuyers: true})
	require.NoError(t, err)
	require.Equal(t, 1, wiper.calls)
}

func TestRun_SingleFlight(t *testing.T) {
	block := make(chan struct{})
	fetcher := &scriptedFetcher{
		pages: func(req krs.PageRequest) (krs.PageResult, int, error) {
			<-block
			return krs.PageResult{}, 500, nil
		},
	}
	s := newTestService(fetcher, newMemRowStore(), &memCheckpoint{}, nil, Config{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Run(context.Background(), RunParams{})
	}()
	require.Eventually(t, func() bool { return s.Stats().Running }, time.Second, 5*time.Millisecond)

	_, err := s.Run(context.Background(), RunParams{})
	require.ErrorIs(t, err, ErrRunInProgress)

	close(block)
	<-done
	require.False(t, s.Stats().Running)
}

func TestRun_PublishesSyncCompleted(t *testing.T) {
	fetcher := &scriptedFetcher{
		pages: func(req krs.PageRequest) (krs.PageResult, int, error) {
			return krs.PageResult{Rows: rowsN(1, 2)}, 500, nil
		},
	}
	producer := &memProducer{}
	s := newTestService(fetcher, newMemRowStore(), &memCheckpoint{}, nil, Config{AccountCode: "POS-1"}).
		WithProducer(producer, "sync.completed", "salerecord.tracking_updated")

	start := date(2025, time.September, 1)
	end := date(2025, time.September, 2)
	summary, err := s.Run(context.Background(), RunParams{StartDate: &start, EndDate: &end})
	require.NoError(t, err)

	require.Len(t, producer.messages, 1)
	require.Equal(t, "sync.completed", producer.messages[0].topic)
	require.Equal(t, "POS-1", producer.messages[0].key)

	var msg messages.SyncCompleted
	require.NoError(t, json.Unmarshal(producer.messages[0].value, &msg))
	require.Equal(t, summary.RowsFetched, msg.RowsFetched)
	require.Equal(t, summary.Created, msg.Created)
	require.False(t, msg.FullSync)
}

func TestRun_PublishesTrackingDiscoveredPerUpdatedOrder(t *testing.T) {
	fetcher := &scriptedFetcher{
		pages: func(req krs.PageRequest) (krs.PageResult, int, error) {
			return krs.PageResult{Rows: rowsN(1, 2)}, 500, nil
		},
	}
	store := newMemRowStore()
	store.trackingOrders = map[int64][]uint64{1: {501, 502}}

	producer := &memProducer{}
	s := newTestService(fetcher, store, &memCheckpoint{}, nil, Config{AccountCode: "POS-1"}).
		WithProducer(producer, "sync.completed", "salerecord.tracking_updated")

	start := date(2025, time.September, 1)
	end := date(2025, time.September, 2)
	_, err := s.Run(context.Background(), RunParams{StartDate: &start, EndDate: &end})
	require.NoError(t, err)

	// Only SRN 1 touched orders, so one tracking event plus the run summary.
	var tracking []capturedMessage
	for _, m := range producer.messages {
		if m.topic == "salerecord.tracking_updated" {
			tracking = append(tracking, m)
		}
	}
	require.Len(t, tracking, 1)
	require.Equal(t, "1", tracking[0].key)

	var msg messages.TrackingDiscovered
	require.NoError(t, json.Unmarshal(tracking[0].value, &msg))
	require.EqualValues(t, 1, msg.SRN)
	require.Equal(t, []uint64{501, 502}, msg.OrderIDs)
	require.Equal(t, "KRS-TRACK-1", msg.TrackingNumber)
	require.Equal(t, "jne", msg.TrackingSlug)

	require.Equal(t, "sync.completed", producer.messages[len(producer.messages)-1].topic)
}

func TestStats_TracksRunsAndLastError(t *testing.T) {
	fetcher := &scriptedFetcher{
		pages: func(req krs.PageRequest) (krs.PageResult, int, error) {
			return krs.PageResult{}, 500, errors.New("platform down")
		},
	}
	s := newTestService(fetcher, newMemRowStore(), &memCheckpoint{}, nil, Config{})

	start := date(2025, time.September, 1)
	end := date(2025, time.September, 2)
	_, err := s.Run(context.Background(), RunParams{StartDate: &start, EndDate: &end})
	require.Error(t, err)

	st := s.Stats()
	require.Equal(t, int64(1), st.TotalRuns)
	require.NotNil(t, st.LastRunAt)
	require.Contains(t, st.LastError, "platform down")
	require.NotNil(t, st.LastSummary)
}

func seed(t time.Time) *time.Time { return &t }
