package app

import (
	"context"
	"fmt"

	"github.com/kilianp07/leadroute/config"
	corelogger "github.com/kilianp07/leadroute/core/logger"
	"github.com/kilianp07/leadroute/core/queue"
	"github.com/kilianp07/leadroute/core/store"
	"github.com/kilianp07/leadroute/infra/logger"
	"github.com/kilianp07/leadroute/infra/memqueue"
	"github.com/kilianp07/leadroute/infra/mqtt"
	"github.com/kilianp07/leadroute/infra/store/memory"
	"github.com/kilianp07/leadroute/infra/store/mongo"
)

func openStore(ctx context.Context, cfg config.StoreConfig, log corelogger.Logger, closers *[]func() error) (store.Store, error) {
	switch cfg.Backend {
	case "mongo":
		st, err := mongo.Open(ctx, cfg.Mongo, logger.New("store"))
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() error { return st.Close(context.Background()) })
		if err := st.Migrate(ctx); err != nil {
			return nil, err
		}
		log.Infof("store: mongo database %s", cfg.Mongo.Database)
		return st, nil
	case "memory", "":
		st := memory.New()
		if cfg.SeedFile != "" {
			if err := st.LoadFile(cfg.SeedFile); err != nil {
				return nil, fmt.Errorf("seed store: %w", err)
			}
			log.Infof("store: memory, seeded from %s", cfg.SeedFile)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

func openGateway(cfg config.BrokerConfig, log corelogger.Logger) (queue.Gateway, error) {
	switch cfg.Backend {
	case "memory":
		log.Warnf("broker: in-process queue, messages do not survive restarts")
		return memqueue.New(memqueue.Config{Buffer: cfg.DeliveryBufferSize, Policy: cfg.Policy()}, logger.New("memqueue")), nil
	case "mqtt", "":
		g, err := mqtt.NewGateway(cfg.Config, logger.New("mqtt"))
		if err != nil {
			return nil, fmt.Errorf("mqtt gateway: %w", err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("broker: unknown backend %q", cfg.Backend)
	}
}
