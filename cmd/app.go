package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/trivial-work-log/internal/auth"
	"github.com/Tiliavir/trivial-work-log/internal/backend"
	"github.com/Tiliavir/trivial-work-log/internal/config"
	"github.com/Tiliavir/trivial-work-log/internal/logging"
	"github.com/Tiliavir/trivial-work-log/internal/model"
	"github.com/Tiliavir/trivial-work-log/internal/worklog"
)

// app is the wiring shared by every command: config, logger, backend and
// the data sync service on top of it.
type app struct {
	cfg     config.Config
	log     *logging.Logger
	backend *backend.Result
	svc     *worklog.Service

	stopSignals context.CancelFunc
	stopLoops   context.CancelFunc
	loops       chan error
}

// loadConfig reads the configuration and applies the persistent flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagBackend != "" {
		cfg.Backend = flagBackend
	}
	if flagLayout != "" {
		cfg.Layout = flagLayout
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, cfg.Validate()
}

// start builds the app for cmd. Configuration and backend errors end the
// process with exit code 2. The returned context is canceled on SIGINT or
// SIGTERM.
func start(cmd *cobra.Command) (context.Context, *app) {
	ctx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.New(logging.Config{
		Level:     level,
		Format:    cfg.LogFormat,
		Component: "twl",
		Writer:    os.Stderr,
	})

	res, err := backend.NewFactory(logger).Create(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	layout, _ := worklog.ParseLayout(cfg.Layout)

	loopCtx, stopLoops := context.WithCancel(ctx)
	a := &app{
		cfg:         cfg,
		log:         logger,
		backend:     res,
		svc:         worklog.New(res.Store, logger, worklog.Options{Layout: layout}),
		stopSignals: stopSignals,
		stopLoops:   stopLoops,
		loops:       make(chan error, 1),
	}
	go func() { a.loops <- res.Run(loopCtx) }()

	res.Session.Start(ctx)
	return ctx, a
}

// ready waits for the identity, binds the service to it and returns the
// first complete projection.
func (a *app) ready(ctx context.Context) (worklog.State, error) {
	id, err := a.backend.Session.Wait(ctx)
	if err != nil {
		return worklog.State{}, err
	}
	if err := a.svc.Bind(ctx, id); err != nil {
		return worklog.State{}, err
	}
	return a.svc.WaitSynced(ctx)
}

// follow binds the service once the identity resolves without waiting for
// it. Until then every operation is a no-op.
func (a *app) follow(ctx context.Context) (cancel func()) {
	return a.backend.Session.OnIdentityChange(func(id auth.Identity) {
		// Bind logs its own failure; the service stays unbound.
		_ = a.svc.Bind(ctx, id)
	})
}

// Close releases the service, stops the background loops and closes the
// backend.
func (a *app) Close() {
	a.svc.Close()
	a.stopLoops()
	if err := <-a.loops; err != nil {
		a.log.Warn("background loop failed", "error", err)
	}
	if err := a.backend.Close(); err != nil {
		a.log.Warn("closing backend failed", "error", err)
	}
	a.stopSignals()
}

// fail prints err, releases the app and exits with code 2.
func (a *app) fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	a.Close()
	os.Exit(2)
}

func hasEntry(st worklog.State, id string) bool {
	_, ok := findEntry(st.Entries, id)
	return ok
}

func findEntry(entries []model.Entry, id string) (model.Entry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return model.Entry{}, false
}
