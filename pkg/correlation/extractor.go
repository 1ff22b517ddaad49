package correlation

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/companion/pkg/logger"
)

// LogKey is the attribute name used for correlation ids in log records.
const LogKey = "correlation_id"

// LoggerExtractor adds the context's correlation id to every log record
// written with a *Context logging call.
func LoggerExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id := FromContext(ctx); id != "" {
			return slog.String(LogKey, id), true
		}
		return slog.Attr{}, false
	}
}
