package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

type WorkHandler struct {
	log *slog.Logger
}

func NewWorkHandler(log *slog.Logger) *WorkHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WorkHandler{log: log}
}

// ProcessTask sleeps for the payload duration. A cancelled context, which
// asynq delivers when the worker is shutting down, returns early.
func (h *WorkHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload WorkPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.ErrorContext(ctx, "work task: failed to decode payload", slog.String("task_type", t.Type()), slog.Any("error", err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	h.log.InfoContext(ctx, "processing work task", slog.Duration("duration", payload.Duration))

	timer := time.NewTimer(min(payload.Duration, MaxWorkDuration))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
