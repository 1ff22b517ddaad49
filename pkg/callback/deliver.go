package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrymomot/companion/pkg/correlation"
)

// Result is what the listener reports back for a delivered URL.
type Result struct {
	State string
	Error string
}

// Deliver posts rawURL to the listener at addr. It is what a protocol
// handler invocation runs to hand the browser redirect to the waiting
// process.
func Deliver(ctx context.Context, addr, rawURL string, client *http.Client) (Result, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Result{}, ErrEmptyURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	endpoint := addr
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	endpoint = strings.TrimRight(endpoint, "/") + "/callback"

	form := url.Values{"url": {rawURL}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("callback: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	correlation.SetHeader(req)

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("callback: deliver: %w", err)
	}
	defer resp.Body.Close()

	var res callbackResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("%w: status %d", ErrDeliveryFail, resp.StatusCode)
	}
	out := Result{State: res.State, Error: res.Error}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("%w: %s", ErrDeliveryFail, res.Error)
	}
	return out, nil
}
