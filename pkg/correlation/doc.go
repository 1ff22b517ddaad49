// Package correlation ties together log records that belong to one logical
// operation: a journal synchronizer pass, or a redirect URL travelling from
// the protocol handler to the waiting login process.
//
// Ids live in the context. Ensure attaches one when missing, Middleware
// reads or assigns one per HTTP request using the X-Correlation-ID header,
// SetHeader propagates one on outgoing requests, and LoggerExtractor makes
// logger.New include it in every record:
//
//	log := logger.New(logger.WithContextExtractors(correlation.LoggerExtractor()))
//	ctx, id := correlation.Ensure(ctx)
//	log.InfoContext(ctx, "pass started") // carries correlation_id=id
package correlation
