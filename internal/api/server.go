// Package api implements the HTTP surface of the dispatch service.
package api

import (
	"context"
	"fmt"
	"os"
	"strings"

	"dispatchd/internal/auth"
	"dispatchd/internal/config"
	"dispatchd/internal/engine"
	"dispatchd/internal/geo"
	"dispatchd/internal/notify"
	"dispatchd/internal/store"
)

type Server struct {
	Store    store.Store
	Cfg      config.Config
	Engine   *engine.Engine
	Geocoder *geo.Geocoder
	Pub      *notify.Publisher
	Auth     *auth.Verifier
	Broker   EventBroker
}

// NewServer wires the server from the environment: CONFIG_PATH for tuning,
// DATABASE_URL selects Postgres over the in-memory store, REDIS_URL selects
// the Redis event broker and geocode cache.
func NewServer() (*Server, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var s store.Store
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		if os.Getenv("DB_MIGRATE") != "false" {
			if err := sp.Migrate(context.Background()); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		s = sp
	}

	var broker EventBroker
	var geoCache geo.Cache
	if os.Getenv("REDIS_URL") != "" {
		if rb, err := NewRedisBroker(); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
		if rc, err := geo.NewRedisCache(os.Getenv("REDIS_URL")); err == nil {
			geoCache = rc
		}
	} else {
		broker = NewBroker()
	}
	if geoCache == nil {
		geoCache = geo.NewMemoryCache()
	}

	est := geo.NewEstimator(cfg.Engine.SpeedKph)
	eng, err := engine.New(cfg.Engine, est)
	if err != nil {
		return nil, err
	}

	return &Server{
		Store:    s,
		Cfg:      cfg,
		Engine:   eng,
		Geocoder: geo.NewGeocoder(cfg.Geocoder, geoCache),
		Pub:      notify.NewPublisher(s),
		Auth:     auth.NewVerifierFromEnv(),
		Broker:   broker,
	}, nil
}

// NewNotifyWorker creates the background worker draining the delivery queue.
func (s *Server) NewNotifyWorker() *notify.Worker {
	return notify.NewWorker(s.Store)
}
