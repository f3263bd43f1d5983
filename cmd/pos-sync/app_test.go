package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/config"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/cache/rediscache"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/integrations/krs/fake"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/integrations/krs/krshttp"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/models"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/services/buyers"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/services/syncer"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/storage/pgstore"
	"github.com/stretchr/testify/require"
)

func TestDefaultFactories_SelectKRSClient(t *testing.T) {
	f := defaultFactories()

	cfgFake := &config.Config{}
	_, ok := f.newKRSClient(cfgFake).(*fake.FakeClient)
	require.True(t, ok)

	cfgHTTP := &config.Config{
		PosSync: config.PosSyncConfig{KRSBaseURL: "http://localhost:9000"},
	}
	_, ok = f.newKRSClient(cfgHTTP).(*krshttp.Client)
	require.True(t, ok)
}

func TestDefaultFactories_ProducerOptional(t *testing.T) {
	f := defaultFactories()

	require.Nil(t, f.newProducer(&config.Config{}))

	cfg := &config.Config{Kafka: config.KafkaConfig{Host: "localhost", Port: 9092}}
	require.NotNil(t, f.newProducer(cfg))
}

type memStore struct {
	applied int
}

func (s *memStore) ApplyRow(ctx context.Context, row pgstore.RowUpsert) (pgstore.RowResult, error) {
	s.applied++
	return pgstore.RowResult{Created: 1}, nil
}

type memCheckpoint struct{}

func (memCheckpoint) LoadCheckpoint(ctx context.Context) (*time.Time, error)       { return nil, nil }
func (memCheckpoint) SaveCheckpoint(ctx context.Context, resumeBefore time.Time) error { return nil }
func (memCheckpoint) ClearCheckpoint(ctx context.Context) error                    { return nil }

// stubBuyerRepo satisfies buyers.Repository; the HTTP test only needs the
// service-level validation paths.
type stubBuyerRepo struct{}

func (stubBuyerRepo) UpsertBuyer(ctx context.Context, in models.BuyerUpsertInput) (*models.Buyer, bool, error) {
	return nil, false, models.ErrBuyerNotFound
}
func (stubBuyerRepo) GetBuyerByID(ctx context.Context, id uint64) (*models.Buyer, error) {
	return nil, models.ErrBuyerNotFound
}
func (stubBuyerRepo) MergeBuyers(ctx context.Context, sourceID, targetID uint64) error { return nil }
func (stubBuyerRepo) DeleteBuyer(ctx context.Context, id uint64, force, cascadePackages bool) error {
	return nil
}
func (stubBuyerRepo) AssignSaleRecordToOrder(ctx context.Context, orderID uint64, srn int64) error {
	return nil
}

func TestHTTPServer_SyncFlow(t *testing.T) {
	mr := miniredis.RunT(t)

	store := &memStore{}
	svc := syncer.New(fake.New(), store, memCheckpoint{}, nil, syncer.Config{
		AccountCode: "POS-1",
	})

	addrCh := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runHTTPServer(ctx, httpOpts{
			httpAddr: "127.0.0.1:0",
			onListen: func(a string) { addrCh <- a },
			lock:     rediscache.NewRunLock(mr.Addr()),
			syncer:   svc,
			buyers:   buyers.New(stubBuyerRepo{}, buyers.CascadeConfig{}),
			cfg:      &config.Config{},
		})
	}()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	var addr string
	select {
	case addr = <-addrCh:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	base := "http://" + addr

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The fake platform serves 25 rows per window.
	body := bytes.NewBufferString(`{"startDate":"2025-09-01","endDate":"2025-09-08"}`)
	resp, err = http.Post(base+"/sync", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary syncer.RunSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	require.Equal(t, 25, summary.RowsFetched)
	require.Equal(t, 25, summary.Created)
	require.Equal(t, 25, store.applied)

	// The run released its lock, so stats show the run and a new one may start.
	resp, err = http.Get(base + "/stats")
	require.NoError(t, err)
	var stats syncer.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	require.EqualValues(t, 1, stats.TotalRuns)
	require.EqualValues(t, 25, stats.TotalRowsFetched)

	// The previous run's deferred release may still be in flight.
	require.Eventually(t, func() bool { return !mr.Exists(runLockKey) }, time.Second, 5*time.Millisecond)

	// A held lock turns a new trigger away with 409.
	require.NoError(t, mr.Set(runLockKey, "held"))
	body = bytes.NewBufferString(`{"startDate":"2025-09-01","endDate":"2025-09-08"}`)
	resp, err = http.Post(base+"/sync", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	mr.Del(runLockKey)

	// Bad dates never reach the lock.
	body = bytes.NewBufferString(`{"startDate":"01-09-2025"}`)
	resp, err = http.Post(base+"/sync", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Self-merge is rejected by the service before the repo is touched.
	body = bytes.NewBufferString(`{"sourceBuyerId":3,"targetBuyerId":3}`)
	resp, err = http.Post(base+"/buyers/merge", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, base+"/buyers/abc", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestToRunParams(t *testing.T) {
	p, err := toRunParams(syncRequest{StartDate: "2025-09-01", EndDate: "2025-09-08", FullSync: true})
	require.NoError(t, err)
	require.True(t, p.FullSync)
	require.NotNil(t, p.StartDate)
	require.Equal(t, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC), p.StartDate.UTC())
	require.NotNil(t, p.EndDate)

	_, err = toRunParams(syncRequest{StartDate: "2025/09/01"})
	require.Error(t, err)
	_, err = toRunParams(syncRequest{EndDate: "bogus"})
	require.Error(t, err)

	p, err = toRunParams(syncRequest{})
	require.NoError(t, err)
	require.Nil(t, p.StartDate)
	require.Nil(t, p.EndDate)
}
