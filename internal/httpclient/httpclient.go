// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

// Package httpclient builds the HTTP clients used for registry requests.
// Every client it produces identifies itself with the module's User-Agent,
// traces outgoing requests through the process logger, and retries only as
// much as the caller asked for — registry requests are not retried unless
// the operator opts in.
package httpclient

import (
	"fmt"
	"log"
	"net/http"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/swiftpkg/swiftregistry/internal/logging"
)

// Options configures a client built by New.
type Options struct {
	// RetryCount is how many times a request with a transient failure is
	// retried. Zero means a single attempt.
	RetryCount int

	// Timeout bounds each individual request, including reading its body.
	// Zero means no client-side deadline.
	Timeout time.Duration
}

// New returns a client for registry requests with the given options.
func New(opts Options) *retryablehttp.Client {
	inner := cleanhttp.DefaultPooledClient()
	inner.Timeout = opts.Timeout
	inner.Transport = &tracingTransport{next: inner.Transport}

	client := retryablehttp.NewClient()
	client.HTTPClient = inner
	client.RetryMax = opts.RetryCount
	client.Logger = logging.HCLogger()
	client.RequestLogHook = func(logger retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Printf("[INFO] retrying request to %s (attempt %d)", req.URL, attempt+1)
		}
	}
	client.ErrorHandler = attemptsExhausted

	return client
}

// tracingTransport stamps the User-Agent onto outgoing requests, unless the
// caller already chose one, and traces them.
type tracingTransport struct {
	next http.RoundTripper
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	log.Printf("[TRACE] %s %s", req.Method, req.URL)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent())
	}
	return t.next.RoundTrip(req)
}

// attemptsExhausted turns the final failed attempt into the client's return
// value. The underlying error is wrapped, not flattened, so that callers can
// still recognize cancellation with errors.Is.
func attemptsExhausted(resp *http.Response, err error, attempts int) (*http.Response, error) {
	if resp != nil {
		// The retry library hands over the last response without reading
		// it; close it since we only report its status.
		resp.Body.Close()
		return nil, fmt.Errorf("request to %s failed after %d attempt(s): %s", resp.Request.URL, attempts, resp.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("request failed after %d attempt(s): %w", attempts, err)
	}
	return nil, fmt.Errorf("request failed after %d attempt(s)", attempts)
}
