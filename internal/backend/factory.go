// Package backend builds the store and session selected by the config.
package backend

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Tiliavir/trivial-work-log/internal/auth"
	"github.com/Tiliavir/trivial-work-log/internal/config"
	"github.com/Tiliavir/trivial-work-log/internal/logging"
	"github.com/Tiliavir/trivial-work-log/internal/remote/changefeed"
	"github.com/Tiliavir/trivial-work-log/internal/remote/firebase"
	"github.com/Tiliavir/trivial-work-log/internal/remote/memstore"
	"github.com/Tiliavir/trivial-work-log/internal/remote/sqlitestore"
	"github.com/Tiliavir/trivial-work-log/internal/storage"
)

// Factory creates backends from configuration.
type Factory struct {
	logger *logging.Logger
	// dial opens the change feed transport; replaced in tests.
	dial func(url, exchange string, logger *logging.Logger) (changefeed.Transport, error)
}

// NewFactory creates a new backend factory.
func NewFactory(logger *logging.Logger) *Factory {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Factory{
		logger: logger.WithComponent("backend"),
		dial: func(url, exchange string, logger *logging.Logger) (changefeed.Transport, error) {
			return changefeed.NewClient(url, exchange, logger)
		},
	}
}

// Create builds the backend named by cfg.Backend. The session is returned
// unstarted.
func (f *Factory) Create(ctx context.Context, cfg config.Config) (*Result, error) {
	t := Type(cfg.Backend)
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid backend type: %s", cfg.Backend)
	}

	sessionPath := ""
	if cfg.Auth.PersistSession {
		dir, err := cfg.DataDirectory()
		if err != nil {
			return nil, err
		}
		sessionPath = auth.SessionFilePath(dir)
	}

	var (
		res *Result
		err error
	)
	switch t {
	case MemoryBackend:
		res, err = f.createMemoryBackend()
	case FileBackend:
		res, err = f.createFileBackend(cfg)
	case SQLiteBackend:
		res, err = f.createSQLiteBackend(cfg)
	case FirebaseBackend:
		return f.createFirebaseBackend(cfg, sessionPath)
	}
	if err != nil {
		return nil, err
	}
	res.Type = t
	res.Session = auth.NewSession(auth.NewLocalProvider(sessionPath), f.logger)
	return res, nil
}

func (f *Factory) createMemoryBackend() (*Result, error) {
	store, err := memstore.New()
	if err != nil {
		return nil, err
	}
	f.logger.Info("Initialized memory backend")
	return &Result{Store: store, Cleanup: store.Close}, nil
}

func (f *Factory) createFileBackend(cfg config.Config) (*Result, error) {
	path, err := cfg.TreePath()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(path, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open tree file: %w", err)
	}
	res := &Result{Store: store, Cleanup: store.Close}
	if interval := cfg.PollInterval.Std(); interval > 0 {
		res.Loops = append(res.Loops, func(ctx context.Context) error { return store.Watch(ctx, interval) })
	}
	f.withChangeFeed(res, store, cfg)

	f.logger.Info("Initialized file backend", "path", path, "poll_interval", cfg.PollInterval.Std())
	return res, nil
}

func (f *Factory) createSQLiteBackend(cfg config.Config) (*Result, error) {
	path, err := cfg.SQLitePath()
	if err != nil {
		return nil, err
	}
	store, err := sqlitestore.Open(path, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}
	res := &Result{Store: store, Cleanup: store.Close}
	if interval := cfg.PollInterval.Std(); interval > 0 {
		res.Loops = append(res.Loops, func(ctx context.Context) error { return store.Watch(ctx, interval) })
	}
	f.withChangeFeed(res, store, cfg)

	f.logger.Info("Initialized SQLite backend", "db_path", path)
	return res, nil
}

// withChangeFeed wraps a local store in an AMQP change feed when one is
// configured. A broker that cannot be reached only disables the feed.
func (f *Factory) withChangeFeed(res *Result, store changefeed.LocalStore, cfg config.Config) {
	if cfg.AMQP.URL == "" {
		return
	}
	transport, err := f.dial(cfg.AMQP.URL, cfg.AMQP.Exchange, f.logger)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, continuing without change feed", "error", err)
		return
	}
	feed := changefeed.New(store, transport, f.logger)
	res.Store = feed
	res.Cleanup = feed.Close
	res.Loops = append(res.Loops, feed.Run)
	f.logger.Info("Initialized AMQP change feed", "exchange", cfg.AMQP.Exchange)
}

func (f *Factory) createFirebaseBackend(cfg config.Config, sessionPath string) (*Result, error) {
	provider := auth.NewFirebaseProvider(cfg.Firebase.APIKey, auth.WithSessionFile(sessionPath))
	session := auth.NewSession(provider, f.logger)

	client, err := firebase.NewClient(cfg.Firebase.DatabaseURL, session.TokenSource(), firebase.WithLogger(f.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase client: %w", err)
	}
	f.logger.Info("Initialized Firebase backend", "database_url", cfg.Firebase.DatabaseURL)
	return &Result{
		Type:    FirebaseBackend,
		Store:   client,
		Session: session,
		Cleanup: client.Close,
	}, nil
}

// Run runs every loop until ctx is done or one of them fails.
func (r *Result) Run(ctx context.Context) error {
	if len(r.Loops) == 0 {
		<-ctx.Done()
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, loop := range r.Loops {
		g.Go(func() error { return loop(ctx) })
	}
	return g.Wait()
}

// Close releases the store. Closing twice is harmless.
func (r *Result) Close() error {
	if r.Cleanup == nil {
		return nil
	}
	cleanup := r.Cleanup
	r.Cleanup = nil
	return cleanup()
}
