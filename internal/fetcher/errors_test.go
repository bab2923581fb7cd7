package fetcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		wantType    ErrorType
		wantNil     bool
	}{
		{"ok json", 200, "application/json", "", true},
		{"ok json with charset", 200, "application/json; charset=utf-8", "", true},
		{"ok html", 200, "text/html", ErrorTypeValidation, false},
		{"ok no content type", 200, "", ErrorTypeValidation, false},
		{"rate limited", 429, "application/json", ErrorTypeRateLimit, false},
		{"server error", 503, "application/json", ErrorTypeServer, false},
		{"bad request", 400, "application/json", ErrorTypeClient, false},
		{"created", 201, "application/json", ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyResponse(tt.status, tt.contentType)
			if tt.wantNil {
				if err != nil {
					t.Fatalf("ClassifyResponse() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("ClassifyResponse() = nil, want error")
			}
			if err.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", err.Type, tt.wantType)
			}
		})
	}
}

func TestClassifyTransportError(t *testing.T) {
	timeout := ClassifyTransportError(fmt.Errorf("post: %w", context.DeadlineExceeded))
	if timeout.Type != ErrorTypeTimeout {
		t.Errorf("Type = %q, want %q", timeout.Type, ErrorTypeTimeout)
	}
	if !errors.Is(timeout, context.DeadlineExceeded) {
		t.Error("timeout error does not unwrap to context.DeadlineExceeded")
	}

	network := ClassifyTransportError(errors.New("connection refused"))
	if network.Type != ErrorTypeNetwork || !network.Retryable {
		t.Errorf("got %+v, want retryable network error", network)
	}

	existing := NewValidationError("bad json", nil)
	if got := ClassifyTransportError(fmt.Errorf("wrapped: %w", existing)); got != existing {
		t.Error("ClassifyTransportError() did not preserve an existing FetchError")
	}
}

func TestFetchError_Error(t *testing.T) {
	if got := NewRateLimitError(429).Error(); got != "rate_limit error (status 429): rate limit exceeded" {
		t.Errorf("Error() = %q", got)
	}
	if got := NewNetworkError(errors.New("dial tcp")).Error(); got != "network error: network request failed: dial tcp" {
		t.Errorf("Error() = %q", got)
	}
}
