// Package store opens the events.Store selected by configuration.
package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"eventcal/internal/config"
	"eventcal/internal/events"
	appLog "eventcal/internal/log"
	"eventcal/internal/store/memory"
	"eventcal/internal/store/postgres"
	"eventcal/internal/store/sqlite"
)

// Backend is an events.Store that owns a connection.
type Backend interface {
	events.Store
	io.Closer
}

type nopCloser struct{ events.Store }

func (nopCloser) Close() error { return nil }

// Open returns the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		appLog.Warn("using in-memory store; data is lost on exit")
		return nopCloser{memory.New()}, nil
	case config.DriverSQLite, "":
		if dir := filepath.Dir(cfg.DSN); dir != "." && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		s, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %q: %w", cfg.DSN, err)
		}
		appLog.Info("sqlite store opened", "path", cfg.DSN)
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		appLog.Info("postgres store opened")
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
