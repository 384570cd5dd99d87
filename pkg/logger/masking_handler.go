package logger

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
)

const mask = "***"

var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"token":         {},
	"secret":        {},
	"api_key":       {},
	"authorization": {},
	"dsn":           {},
}

// credentials embedded in connection strings: "password=x" (lib/pq DSN) and "user:x@" (URLs).
var (
	dsnPassword = regexp.MustCompile(`(?i)(password=)('[^']*'|\S+)`)
	urlPassword = regexp.MustCompile(`(://[^:/@\s]*:)[^@\s]+@`)
)

// MaskingHandler redacts sensitive attributes, including attributes bound with
// With and nested groups, and scrubs credentials out of string and error values.
type MaskingHandler struct {
	next slog.Handler
}

func NewMaskingHandler(next slog.Handler) *MaskingHandler {
	return &MaskingHandler{next: next}
}

func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		masked[i] = maskAttr(attr)
	}
	return &MaskingHandler{next: h.next.WithAttrs(masked)}
}

func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{next: h.next.WithGroup(name)}
}

func (h *MaskingHandler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, scrub(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		masked.AddAttrs(maskAttr(attr))
		return true
	})

	return h.next.Handle(ctx, masked)
}

func maskAttr(attr slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(attr.Key)]; ok {
		return slog.String(attr.Key, mask)
	}

	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindGroup:
		group := value.Group()
		masked := make([]any, len(group))
		for i, a := range group {
			masked[i] = maskAttr(a)
		}
		return slog.Group(attr.Key, masked...)
	case slog.KindString:
		return slog.String(attr.Key, scrub(value.String()))
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			if masked, changed := maskError(err); changed {
				return slog.Any(attr.Key, masked)
			}
		}
	}

	return slog.Attr{Key: attr.Key, Value: value}
}

func scrub(s string) string {
	if !strings.Contains(s, "=") && !strings.Contains(s, "@") {
		return s
	}
	s = dsnPassword.ReplaceAllString(s, "${1}"+mask)
	return urlPassword.ReplaceAllString(s, "${1}"+mask+"@")
}

// maskError scrubs err and, when only a wrapped cause carries credentials,
// appends that cause's scrubbed text.
func maskError(err error) (error, bool) {
	top := err.Error()
	if s := scrub(top); s != top {
		return maskedError{msg: s}, true
	}

	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		if msg := cause.Error(); scrub(msg) != msg {
			return maskedError{msg: top + ": " + scrub(msg)}, true
		}
	}

	return err, false
}

// maskedError replaces an error whose text carried credentials. It does not
// unwrap: Sentry would otherwise report every link of the original chain.
type maskedError struct {
	msg string
}

func (e maskedError) Error() string { return e.msg }
