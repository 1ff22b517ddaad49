// Package logger builds *slog.Logger values for the companion tools.
//
// New applies functional options (format, level, output, static attributes)
// and wraps the resulting handler with LogHandlerDecorator, which injects
// attributes taken from the context on every *Context logging call.
//
// Attribute helpers (Identity, Endpoint, Day, Error, ...) keep key names
// consistent across packages. Error returns an empty attribute for a nil
// error so call sites don't need a nil check:
//
//	log.WarnContext(ctx, "refresh failed", logger.Identity(id), logger.Error(err))
package logger
