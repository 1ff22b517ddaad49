package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Identity records the commander/account the session acts for.
func Identity(name string) slog.Attr {
	return slog.String("identity", name)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Endpoint records the API path being requested.
func Endpoint(path string) slog.Attr {
	return slog.String("endpoint", path)
}

// StatusCode records an HTTP status code.
func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

// State records a session or progress state name.
func State(name string) slog.Attr {
	return slog.String("state", name)
}

// Day records a journal day key as yyyy-MM-dd.
func Day(day time.Time) slog.Attr {
	return slog.String("day", day.UTC().Format(time.DateOnly))
}

// PassID records the correlation id of one journal synchronizer pass.
// If id is nil, it returns an empty Attr.
func PassID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("pass_id", id)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
