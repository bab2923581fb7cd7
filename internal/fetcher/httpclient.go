package fetcher

import (
	"log/slog"
	"time"

	"resty.dev/v3"
)

const (
	// Default retry configuration. Retries are opt-in because every retry is an
	// extra request against the trade API's per-minute budget.
	defaultRetryWaitTime    = 1 * time.Second
	defaultRetryMaxWaitTime = 10 * time.Second

	defaultTimeout = 30 * time.Second
)

// ClientOptions configures NewHTTPClient
type ClientOptions struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	RetryCount int
}

// NewHTTPClient creates a JSON HTTP client with the descriptive User-Agent and
// optional retry logic with exponential backoff
func NewHTTPClient(opts ClientOptions) *resty.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}

	if opts.RetryCount > 0 {
		client.
			SetRetryCount(opts.RetryCount).
			SetRetryWaitTime(defaultRetryWaitTime).
			SetRetryMaxWaitTime(defaultRetryMaxWaitTime).
			AddRetryConditions(retryCondition).
			AddRetryHooks(retryHook)
	}

	return client
}

// retryCondition retries network errors and any status the error taxonomy
// marks as retryable
func retryCondition(r *resty.Response, err error) bool {
	// Retry on network errors
	if err != nil {
		return true
	}

	code := r.StatusCode()
	if code < 400 {
		return false
	}
	return ClassifyHTTPError(code).Retryable
}

// retryHook logs retry attempts for observability
func retryHook(r *resty.Response, err error) {
	if err != nil {
		slog.Debug("retrying request due to error",
			"url", r.Request.URL,
			"attempt", r.Request.Attempt,
			"error", err.Error())
		return
	}

	slog.Debug("retrying request due to status code",
		"url", r.Request.URL,
		"attempt", r.Request.Attempt,
		"status_code", r.StatusCode())
}
