package callback

import "errors"

var (
	ErrStart        = errors.New("callback: failed to start listener")
	ErrShutdown     = errors.New("callback: failed to shut down listener gracefully")
	ErrEmptyURL     = errors.New("callback: redirect url is empty")
	ErrDeliveryFail = errors.New("callback: delivery was not accepted")
)
