package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/config"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/broker/kafka"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/cache/rediscache"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/integrations/krs"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/integrations/krs/fake"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/integrations/krs/krshttp"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/services/buyers"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/services/syncer"
	"github.com/kevinharijanto/Shipping-Single-PoS-sub001/internal/storage/pgstore"
)

type appFactories struct {
	newStorage   func(cfg *config.Config) (*pgstore.Storage, error)
	newRunLock   func(cfg *config.Config) runLock
	newProducer  func(cfg *config.Config) syncer.Producer
	newKRSClient func(cfg *config.Config) krs.Client
}

func defaultFactories() appFactories {
	return appFactories{
		newStorage: func(cfg *config.Config) (*pgstore.Storage, error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			return pgstore.New(connString)
		},
		newRunLock: func(cfg *config.Config) runLock {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRunLock(redisAddr)
		},
		newProducer: func(cfg *config.Config) syncer.Producer {
			if cfg.Kafka.Host == "" {
				return nil
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newKRSClient: func(cfg *config.Config) krs.Client {
			// Without a base URL run against the offline fake, same fallback
			// the platform emulator setup uses.
			if cfg.PosSync.KRSBaseURL == "" {
				return fake.New()
			}
			return krshttp.New(cfg.PosSync.KRSBaseURL)
		},
	}
}

func RunPosSync(ctx context.Context, cfg *config.Config, f appFactories) error {
	st, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	lowerBound := time.Time{}
	if cfg.PosSync.FullSyncLowerBound != "" {
		lowerBound, err = time.Parse("2006-01-02", cfg.PosSync.FullSyncLowerBound)
		if err != nil {
			return fmt.Errorf("invalid full_sync_lower_bound: %w", err)
		}
	}

	svc := syncer.New(f.newKRSClient(cfg), st, st, st, syncer.Config{
		AccountCode:           cfg.PosSync.KRSAccountCode,
		Username:              cfg.PosSync.KRSUsername,
		Password:              cfg.PosSync.KRSPassword,
		IncrementalWindowDays: cfg.PosSync.IncrementalWindowDays,
		FullSyncLowerBound:    lowerBound,
		Fetcher: syncer.FetcherConfig{
			MaxAttempts: cfg.PosSync.SyncMaxAttempts,
			BackoffBase: time.Duration(cfg.PosSync.SyncBackoffBaseMillis) * time.Millisecond,
			BackoffCap:  time.Duration(cfg.PosSync.SyncBackoffCapSeconds) * time.Second,
			PageSize:    cfg.PosSync.SyncPageSize,
			MinPageSize: cfg.PosSync.SyncMinPageSize,
		},
	})

	if p := f.newProducer(cfg); p != nil {
		completedTopic := cfg.Kafka.SyncCompletedTopicName
		if completedTopic == "" {
			completedTopic = "sync.completed"
		}
		trackingTopic := cfg.Kafka.TrackingDiscoveredTopicName
		if trackingTopic == "" {
			trackingTopic = "salerecord.tracking_updated"
		}
		svc.WithProducer(p, completedTopic, trackingTopic)
	}

	buyerSvc := buyers.New(st, buyers.CascadeConfig{
		DeletePackageDetails: cfg.PosSync.DeletePackageDetailsOnCascade,
	})

	return runHTTPServer(ctx, httpOpts{
		httpAddr: cfg.PosSync.HTTPAddr,
		lock:     f.newRunLock(cfg),
		syncer:   svc,
		buyers:   buyerSvc,
		cfg:      cfg,
	})
}
