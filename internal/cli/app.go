package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"eventcal/internal/cache"
	"eventcal/internal/config"
	"eventcal/internal/events"
	"eventcal/internal/ics"
	appLog "eventcal/internal/log"
	"eventcal/internal/store"
)

// app is the wired service graph shared by serve and import.
type app struct {
	cfg      *config.Config
	backend  store.Backend
	cache    *cache.Cache
	svc      *events.Service
	importer *ics.Importer
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	if opts.Verbose {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Debug("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"store", cfg.Store.Driver,
		"recurrence_limit", cfg.Recurrence.Limit,
		"cache_ttl", cfg.Cache.TTL(),
		"imports", len(cfg.Imports),
		"import_cron", cfg.ImportCron,
	)
	return cfg, nil
}

func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	c := cache.New(cache.Config{
		DefaultTTL:      cfg.Cache.TTL(),
		MaxEntries:      cfg.Cache.MaxEntries,
		CleanupInterval: time.Minute,
	})
	svc := events.NewService(backend, c, events.Options{
		Limit:    cfg.Recurrence.Limit,
		CacheTTL: cfg.Cache.TTL(),
	})

	cacheDir := filepath.Join(filepath.Dir(opts.ConfigPath), "cache", "ics")
	im := ics.NewImporter(ics.NewFetcher(cacheDir, nil), svc, ics.SourcesFrom(cfg.Imports), cfg.Location(), cfg.Recurrence.Limit)

	return &app{cfg: cfg, backend: backend, cache: c, svc: svc, importer: im}, nil
}

func (a *app) Close() {
	a.cache.Close()
	if err := a.backend.Close(); err != nil {
		appLog.Error("failed to close store", err)
	}
}
