package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"danmud/internal/config"
	"danmud/internal/envstore"
	"danmud/internal/httpapi"
	"danmud/internal/manager"
	"danmud/internal/variant"
	"danmud/internal/watch"
	"danmud/internal/worker"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	noWatch bool
}

// newSpawner selects node with the embedded bootstrap, or a custom worker
// command when one is configured.
func newSpawner(cfg config.Config, t config.Timings, log *zerolog.Logger) (*worker.ProcessSpawner, error) {
	pc := worker.ProcessConfig{
		Bin:            cfg.NodeBin,
		Args:           cfg.NodeArgs,
		UseBootstrap:   true,
		StartupTimeout: t.StartupTimeout,
		StopGrace:      t.StopGrace,
		Logger:         log,
		OnLog:          manager.CountWorkerLog,
	}
	if cfg.WorkerCommand != "" {
		pc.Bin = cfg.WorkerCommand
		pc.Args = cfg.WorkerArgs
		pc.UseBootstrap = false
	}
	return worker.NewProcessSpawner(pc)
}

// newManager wires the env store, resolver and spawner into a Manager.
func newManager(cfg config.Config, opts serveOptions, sp worker.Spawner, store *envstore.Store, log *zerolog.Logger) (*manager.Manager, error) {
	t, err := cfg.Timings()
	if err != nil {
		return nil, err
	}
	return manager.NewWithConfig(manager.ManagerConfig{
		Spawner:        sp,
		Resolver:       variant.Resolver{Root: cfg.VariantsRoot, MarkerFile: cfg.MarkerFile, Entry: cfg.Entry},
		Store:          store,
		EnvFile:        cfg.EnvFile,
		Workers:        cfg.WorkersPerGeneration,
		RequestTimeout: t.RequestTimeout,
		StopGrace:      t.StopGrace,
		Debounce:       t.Debounce,
		Watch: manager.WatchConfig{
			Disabled:     opts.noWatch,
			ExtraDirs:    cfg.WatchExtraDirs,
			Ignore:       cfg.WatchIgnore,
			PollInterval: t.PollInterval,
			ForcePoll:    cfg.ForcePoll,
			New:          watch.New,
		},
		Logger: log,
	})
}

func configureHTTP(cfg config.Config, log zerolog.Logger, base context.Context) {
	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetAdminToken(cfg.AdminToken)
	httpapi.SetBaseContext(base)
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	httpapi.SetCORSOptions(cfg.CORSEnabled, origins,
		[]string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS", "HEAD"},
		[]string{"*"})
}

// serve runs until ctx is canceled or the listener fails. The first
// generation must start; later failures keep the previous one serving.
func serve(ctx context.Context, cfg config.Config, opts serveOptions, log zerolog.Logger) error {
	t, err := cfg.Timings()
	if err != nil {
		return err
	}
	initial, err := envstore.Load(cfg.EnvFile)
	if err != nil {
		return err
	}
	store := envstore.New(initial, &log)
	defer store.Close()

	sp, err := newSpawner(cfg, t, &log)
	if err != nil {
		return err
	}
	mgr, err := newManager(cfg, opts, sp, store, &log)
	if err != nil {
		return err
	}
	startCtx, cancelStart := context.WithTimeout(ctx, t.StartupTimeout+t.StopGrace)
	err = mgr.Start(startCtx)
	cancelStart()
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = mgr.Close(closeCtx)
		return err
	}

	// canceled only after the server stopped accepting, so in-flight
	// forwards finish unless shutdown times out
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	configureHTTP(cfg, log, baseCtx)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tls := cfg.TLSCertFile != ""

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Bool("tls", tls).Str("variants_root", cfg.VariantsRoot).Msg("danmud listening")
		var err error
		if tls {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown error")
		}
		cancelBase()
		if err := mgr.Close(sctx); err != nil {
			log.Warn().Err(err).Msg("workers did not drain in time")
		}
		return nil
	})
	return eg.Wait()
}
