package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/config"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/models"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/services/buyers"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/services/syncer"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
)

const runLockKey = "possync:runlock"

type runLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type httpOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	lock   runLock
	syncer *syncer.Service
	buyers *buyers.Service
	cfg    *config.Config
}

type syncRequest struct {
	StartDate           string `json:"startDate,omitempty"`
	EndDate             string `json:"endDate,omitempty"`
	FullSync            bool   `json:"fullSync,omitempty"`
	ClearExistingBuyers bool   `json:"clearExistingBuyers,omitempty"`
}

type mergeRequest struct {
	SourceBuyerID uint64 `json:"sourceBuyerId"`
	TargetBuyerID uint64 `json:"targetBuyerId"`
}

type assignRequest struct {
	SRN int64 `json:"srn"`
}

func runHTTPServer(ctx context.Context, opts httpOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8081"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, opts.syncer.Stats())
	})

	r.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
		var req syncRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		params, err := toRunParams(req)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}

		lockTTL := time.Duration(opts.cfg.PosSync.RunLockTTLSeconds) * time.Second
		if lockTTL <= 0 {
			lockTTL = 2 * time.Hour
		}
		ok, err := opts.lock.Acquire(r.Context(), runLockKey, lockTTL)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			writeErr(w, http.StatusConflict, errors.New("a sync run is already in progress"))
			return
		}

		runTimeout := time.Duration(opts.cfg.PosSync.RunTimeoutSeconds) * time.Second
		if runTimeout <= 0 {
			runTimeout = time.Hour
		}
		// Detach from the request context: the crawl should survive an
		// impatient client but still honor server shutdown and the timeout.
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		defer func() { _ = opts.lock.Release(context.Background(), runLockKey) }()

		summary, runErr := opts.syncer.Run(runCtx, params)
		if runErr != nil {
			// Partial progress is still reported alongside the failure.
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":   runErr.Error(),
				"summary": summary,
			})
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})

	r.Post("/buyers/merge", func(w http.ResponseWriter, r *http.Request) {
		var req mergeRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		res, err := opts.buyers.Merge(r.Context(), req.SourceBuyerID, req.TargetBuyerID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Delete("/buyers/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeErr(w, http.StatusBadRequest, errors.New("invalid buyer id"))
			return
		}
		force := r.URL.Query().Get("force") == "true"
		if err := opts.buyers.Delete(r.Context(), id, force); err != nil {
			writeDomainErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/orders/{id}/salerecord", func(w http.ResponseWriter, r *http.Request) {
		orderID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeErr(w, http.StatusBadRequest, errors.New("invalid order id"))
			return
		}
		var req assignRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		if err := opts.buyers.AssignSaleRecord(r.Context(), orderID, req.SRN); err != nil {
			writeDomainErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// Optional swagger, same serving trick as before: no-store + cachebuster.
	if swaggerPath := os.Getenv("swaggerPath"); swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func toRunParams(req syncRequest) (syncer.RunParams, error) {
	p := syncer.RunParams{
		FullSync:            req.FullSync,
		ClearExistingBuyers: req.ClearExistingBuyers,
	}
	if req.StartDate != "" {
		t, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			return p, errors.New("invalid startDate, expected YYYY-MM-DD")
		}
		p.StartDate = &t
	}
	if req.EndDate != "" {
		t, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			return p, errors.New("invalid endDate, expected YYYY-MM-DD")
		}
		p.EndDate = &t
	}
	return p, nil
}

func decodeBody(r *http.Request, out any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}

func writeDomainErr(w http.ResponseWriter, err error) {
	switch {
	case models.IsUniquenessConflict(err) || models.IsReferentialBlock(err) || errors.Is(err, syncer.ErrRunInProgress):
		writeErr(w, http.StatusConflict, err)
	case errors.Is(err, models.ErrBuyerNotFound) ||
		errors.Is(err, models.ErrOrderNotFound) ||
		errors.Is(err, models.ErrSaleRecordNotFound):
		writeErr(w, http.StatusNotFound, err)
	default:
		writeErr(w, http.StatusInternalServerError, err)
	}
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
