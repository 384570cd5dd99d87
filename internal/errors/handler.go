package errors

import (
	"context"
	"errors"
	"log/slog"

	slogsentry "github.com/samber/slog-sentry/v2"

	"github.com/Proton-105/shutdown-sequencer/pkg/logger"
)

// Handler is the only path from the daemon to Sentry: the main logger never
// forwards records there, so each handled failure becomes exactly one event.
type Handler struct {
	log    *slog.Logger
	sentry *slog.Logger
}

// NewHandler builds a Handler. With sentryEnabled, serious failures are also sent
// through the current Sentry hub; sentry.Init must run first.
func NewHandler(log *slog.Logger, sentryEnabled bool) *Handler {
	h := &Handler{log: log}
	if sentryEnabled {
		h.sentry = slog.New(logger.NewMaskingHandler(slogsentry.Option{Level: slog.LevelError}.NewSentryHandler()))
	}
	return h
}

// Handle logs err with its classification and reports serious failures to Sentry.
func (h *Handler) Handle(ctx context.Context, err error) {
	if h == nil || err == nil {
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}

	log := h.log
	if log == nil {
		log = slog.Default()
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		attrs := []slog.Attr{
			slog.String("code", appErr.Code),
			slog.String("message", appErr.Message),
			slog.String("severity", string(appErr.Severity)),
		}

		if appErr.Resource != "" {
			attrs = append(attrs, slog.String("resource", appErr.Resource))
		}

		if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
			attrs = append(attrs, slog.String("correlation_id", correlationID))
		}

		log.LogAttrs(ctx, slog.LevelError, "application error", attrs...)

		if appErr.Severity == SeverityCritical || appErr.Severity == SeverityHigh {
			h.sendToSentry(ctx, err)
		}

		return
	}

	attrs := []slog.Attr{
		slog.String("message", err.Error()),
		slog.String("severity", string(SeverityHigh)),
	}

	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}

	log.LogAttrs(ctx, slog.LevelError, "unknown error", attrs...)

	h.sendToSentry(ctx, err)
}

func (h *Handler) sendToSentry(ctx context.Context, err error) {
	if h.sentry == nil || err == nil {
		return
	}

	var tags []any
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		if appErr.Code != "" {
			tags = append(tags, slog.String("code", appErr.Code))
		}
		if appErr.Severity != "" {
			tags = append(tags, slog.String("severity", string(appErr.Severity)))
		}
		if appErr.Resource != "" {
			tags = append(tags, slog.String("resource", appErr.Resource))
		}
	}
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		tags = append(tags, slog.String("session_id", correlationID))
	}

	h.sentry.LogAttrs(ctx, slog.LevelError, err.Error(),
		slog.Any("error", err),
		slog.Group("tags", tags...),
	)
}
