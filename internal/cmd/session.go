package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sitewire/sitewire/internal/config"
	"github.com/sitewire/sitewire/internal/observability"
	"github.com/sitewire/sitewire/internal/platform"
	"github.com/sitewire/sitewire/internal/site"
	"github.com/sitewire/sitewire/internal/store"
)

// session is a headless site bound to the configured storage.
type session struct {
	*site.Site
	Host *platform.Headless

	closeStore func() error
}

type sessionOptions struct {
	path     string
	headless []platform.HeadlessOption
}

// openStorage returns the browser-scoped storage for the configured base
// URL origin and a release func.
func openStorage(ctx context.Context, cfg *config.Config) (platform.Storage, func() error, error) {
	if cfg.Session.Storage == config.StorageMemory {
		return platform.NewMemoryStorage(), func() error { return nil }, nil
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate session store: %w", err)
	}
	origin := store.OriginOf(config.ResolveBaseURL(cfg))
	return db.Storage(origin), db.Close, nil
}

func openSession(ctx context.Context, cfg *config.Config, opts sessionOptions) (*session, error) {
	storage, release, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	path := opts.path
	if path == "" {
		path = cfg.Session.InitialPath
	}
	headless := append([]platform.HeadlessOption{
		platform.WithStorage(storage),
		platform.WithPath(path),
	}, opts.headless...)
	host := platform.NewHeadless(headless...)

	logger := observability.Current()
	st, err := site.New(cfg, host, logger)
	if err != nil {
		_ = release()
		return nil, err
	}

	logger.Debug("Session opened",
		zap.String("storage", cfg.Session.Storage),
		zap.String("path", host.CurrentPath()),
		zap.String("session_id", st.SessionID))

	return &session{Site: st, Host: host, closeStore: release}, nil
}

func (s *session) Close() error {
	_ = s.Site.Close()
	if s.closeStore != nil {
		return s.closeStore()
	}
	return nil
}
