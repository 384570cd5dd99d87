package resources

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/shutdown-sequencer/internal/jobs"
	"github.com/Proton-105/shutdown-sequencer/pkg/config"
)

// Worker processes queued work tasks. Closing it stops fetching new tasks and
// waits up to the configured shutdown timeout for active ones.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *slog.Logger
}

// NewWorker constructs a worker consuming from the Redis instance described by redisCfg.
func NewWorker(redisCfg config.RedisConfig, cfg config.WorkerConfig, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	}, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{jobs.QueueDefault: 1},
		ShutdownTimeout: cfg.ShutdownTimeout,
		RetryDelayFunc:  asynq.DefaultRetryDelayFunc,
		LogLevel:        asynq.WarnLevel,
	})

	mux := asynq.NewServeMux()
	mux.Handle(jobs.TaskTypeWork, jobs.NewWorkHandler(log))

	return &Worker{
		server: server,
		mux:    mux,
		log:    log,
	}
}

// Start begins processing in the background. Unlike asynq's Run it installs no signal handlers.
func (w *Worker) Start() error {
	w.log.Info("jobs worker: starting processing loop")
	return w.server.Start(w.mux)
}

func (w *Worker) Name() string { return config.ResourceWorker }

func (w *Worker) Close(ctx context.Context) error {
	if w == nil || w.server == nil {
		return nil
	}

	w.log.Info("jobs worker: shutting down")
	return closeWithContext(ctx, func() error {
		w.server.Shutdown()
		return nil
	})
}
