package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Proton-105/shutdown-sequencer/internal/database"
	apperrors "github.com/Proton-105/shutdown-sequencer/internal/errors"
	"github.com/Proton-105/shutdown-sequencer/internal/health"
	"github.com/Proton-105/shutdown-sequencer/internal/lifecycle"
	"github.com/Proton-105/shutdown-sequencer/internal/resources"
	"github.com/Proton-105/shutdown-sequencer/internal/server"
	"github.com/Proton-105/shutdown-sequencer/pkg/config"
	"github.com/Proton-105/shutdown-sequencer/pkg/graceful"
	"github.com/Proton-105/shutdown-sequencer/pkg/logger"
	"github.com/Proton-105/shutdown-sequencer/pkg/metrics"
	"github.com/Proton-105/shutdown-sequencer/pkg/redis"
)

const startupTimeout = 30 * time.Second

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:          filepath.Base(os.Args[0]),
		Short:        "HTTP daemon with an ordered, deadline-bounded graceful shutdown",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the config file (defaults to ./configs/<APP_ENV>.yaml).")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, v, err := config.Load(configPath)
	if err != nil {
		return apperrors.NewConfigError(err)
	}

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
	}

	log, level := logger.New(*cfg)
	slog.SetDefault(log)

	config.Watch(v, log, func(next *config.Config) {
		level.Set(logger.ParseLevel(next.Logger.Level))
	})

	log.Info("starting shutdown sequencer",
		slog.String("addr", cfg.HTTP.Addr),
		slog.Duration("shutdown_deadline", cfg.Shutdown.Deadline),
		slog.Any("shutdown_order", cfg.Shutdown.Order),
	)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	st, err := openStack(ctx, cfg, log)
	cancel()
	if err != nil {
		return err
	}

	httpServer := graceful.NewServer(log, &http.Server{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	})

	coordinator := lifecycle.NewCoordinator(httpServer, log, lifecycle.Config{
		Deadline: cfg.Shutdown.Deadline,
		Exit: func(code int) {
			if cfg.Sentry.Enabled {
				sentry.Flush(cfg.Sentry.FlushTimeout)
			}
			os.Exit(code)
		},
		Recorder: metrics.ShutdownRecorder{},
		Reporter: apperrors.NewHandler(log, cfg.Sentry.Enabled),
	})
	defer coordinator.Recover()

	if err := registerResources(coordinator, cfg.Shutdown.Order, st.closers(), log); err != nil {
		return err
	}

	opts := server.Options{
		Probes:        lifecycle.NewProbes(log, coordinator, st.checker),
		WebSocketPath: cfg.WebSocket.Path,
	}
	if st.hub != nil {
		opts.WebSocket = st.hub
	}
	if st.queue != nil {
		opts.Jobs = st.queue
	}
	httpServer.SetHandler(server.NewRouter(log, opts))

	coordinator.Go("http", func(ctx context.Context) error {
		return httpServer.ListenAndServe()
	})
	if st.child != nil {
		coordinator.Go("child", func(ctx context.Context) error {
			select {
			case <-st.child.Exited():
				if coordinator.State() != lifecycle.StateIdle {
					return nil
				}
				return st.child.HealthCheck(ctx)
			case <-ctx.Done():
				return nil
			}
		})
	}

	return exitStatus(coordinator.Run(context.Background()))
}

// exitStatus lets cobra report a failed session when Exit returns instead of exiting.
func exitStatus(code int) error {
	if code != 0 {
		return fmt.Errorf("shutdown finished with exit code %d", code)
	}
	return nil
}

// stack holds the enabled resources opened at startup.
type stack struct {
	db      *resources.Database
	rdb     *redis.Client
	cache   *resources.Cache
	queue   *resources.Queue
	worker  *resources.Worker
	hub     *resources.Hub
	child   *resources.Child
	checker *health.Checker
}

func openStack(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stack, error) {
	st := &stack{checker: health.NewChecker(log)}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Database.Enabled {
		g.Go(func() error {
			return apperrors.WithRetry(gctx, func(ctx context.Context) error {
				db, err := resources.OpenDatabase(ctx, cfg.Database, log)
				if err != nil {
					log.Warn("database not ready", slog.Any("error", err))
					return err
				}
				st.db = db
				return nil
			})
		})
	}
	if cfg.Redis.Enabled {
		g.Go(func() error {
			return apperrors.WithRetry(gctx, func(ctx context.Context) error {
				rdb, err := redis.New(ctx, cfg.Redis)
				if err != nil {
					log.Warn("redis not ready", slog.Any("error", err))
					return err
				}
				st.rdb = rdb
				st.cache = resources.NewCache(rdb)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		st.release(log)
		return nil, err
	}

	if st.db != nil {
		st.checker.AddCheck(config.ResourceDatabase, health.NewDBChecker(st.db.DB()))

		if dir := cfg.Database.Migrations; dir != "" {
			if err := database.NewMigrator(st.db.DB(), log).ApplyDir(ctx, os.DirFS(dir), "."); err != nil {
				st.release(log)
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
	}
	if st.cache != nil {
		st.checker.AddCheck(config.ResourceRedis, health.NewRedisChecker(st.rdb))
	}
	if cfg.Queue.Enabled {
		st.queue = resources.NewQueue(cfg.Redis)
	}
	if cfg.WebSocket.Enabled {
		st.hub = resources.NewHub(log)
	}
	if cfg.Worker.Enabled {
		worker := resources.NewWorker(cfg.Redis, cfg.Worker, log)
		if err := worker.Start(); err != nil {
			st.release(log)
			return nil, fmt.Errorf("start worker: %w", err)
		}
		st.worker = worker
	}

	// started last so a failed startup never leaves it orphaned
	if cfg.Child.Enabled {
		child, err := resources.StartChild(cfg.Child, log)
		if err != nil {
			st.release(log)
			return nil, err
		}
		st.child = child
		st.checker.AddCheck(config.ResourceChild, child)
	}

	return st, nil
}

func (st *stack) closers() map[string]lifecycle.Resource {
	out := make(map[string]lifecycle.Resource)
	if st.worker != nil {
		out[config.ResourceWorker] = st.worker
	}
	if st.db != nil {
		out[config.ResourceDatabase] = st.db
	}
	if st.cache != nil {
		out[config.ResourceRedis] = st.cache
	}
	if st.queue != nil {
		out[config.ResourceQueue] = st.queue
	}
	if st.hub != nil {
		out[config.ResourceWebSocket] = st.hub
	}
	if st.child != nil {
		out[config.ResourceChild] = st.child
	}
	return out
}

// release closes whatever was opened before a startup failure, in the
// default shutdown order.
func (st *stack) release(log *slog.Logger) {
	ordered, _ := orderResources(st.closers(), config.DefaultShutdownOrder)
	releaseAll(log, ordered)
}

func releaseAll(log *slog.Logger, rs []lifecycle.Resource) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, r := range rs {
		if err := r.Close(ctx); err != nil {
			log.Warn("failed to release resource", slog.String("resource", r.Name()), slog.Any("error", err))
		}
	}
}

// orderResources lists open resources by order, then any left over in
// default order. The names of the leftovers are returned too.
func orderResources(open map[string]lifecycle.Resource, order []string) ([]lifecycle.Resource, []string) {
	ordered := make([]lifecycle.Resource, 0, len(open))
	seen := make(map[string]struct{}, len(open))
	for _, name := range order {
		if r, ok := open[name]; ok {
			if _, dup := seen[name]; !dup {
				ordered = append(ordered, r)
				seen[name] = struct{}{}
			}
		}
	}

	var unlisted []string
	for _, name := range config.DefaultShutdownOrder {
		if _, done := seen[name]; done {
			continue
		}
		if r, ok := open[name]; ok {
			ordered = append(ordered, r)
			unlisted = append(unlisted, name)
		}
	}

	return ordered, unlisted
}

// registerResources adds the open resources in configured order. Open
// resources missing from the order are closed last.
func registerResources(c *lifecycle.Coordinator, order []string, open map[string]lifecycle.Resource, log *slog.Logger) error {
	ordered, unlisted := orderResources(open, order)
	for _, name := range unlisted {
		log.Warn("resource missing from shutdown order, closing it last", slog.String("resource", name))
	}

	for _, r := range ordered {
		if err := c.Add(r); err != nil {
			return err
		}
	}

	return nil
}
