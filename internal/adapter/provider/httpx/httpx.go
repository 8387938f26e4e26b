// Package httpx carries the HTTP plumbing shared by the provider clients:
// instrumented transport, response snippets for error context, and the
// mapping from upstream status codes to the domain error taxonomy.
package httpx

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// NewClient returns an otel-instrumented HTTP client with the given timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Snippet reads up to n bytes from r for inclusion in error messages.
func Snippet(r io.Reader, n int) string {
	if r == nil || n <= 0 {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, int64(n)))
	return string(b)
}

// policyMarkers are substrings providers use when refusing for safety.
var policyMarkers = []string{
	"content policy", "content_policy", "safety system", "moderation",
	"policy violation", "rejected by safety",
}

// IsPolicyRefusal reports whether a provider message is a safety refusal.
func IsPolicyRefusal(msg string) bool {
	m := strings.ToLower(msg)
	for _, marker := range policyMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}

// StatusError maps an upstream HTTP status to the domain taxonomy.
// Timeouts, rate limits and 5xx are transient; auth failures and refusals
// are permanent.
func StatusError(provider string, status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s status %d", domain.ErrUnauthorized, provider, status)
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status == http.StatusGatewayTimeout,
		status >= 500:
		return fmt.Errorf("%w: %s status %d: %s", domain.ErrTransient, provider, status, body)
	case IsPolicyRefusal(body):
		return fmt.Errorf("%w: %s: %s", domain.ErrContentPolicy, provider, body)
	case status >= 400:
		return fmt.Errorf("%w: %s status %d: %s", domain.ErrProviderPermanent, provider, status, body)
	}
	return nil
}
