package httpx

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

func TestStatusError(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, "", domain.ErrUnauthorized},
		{http.StatusForbidden, "", domain.ErrUnauthorized},
		{http.StatusTooManyRequests, "slow down", domain.ErrTransient},
		{http.StatusRequestTimeout, "", domain.ErrTransient},
		{http.StatusGatewayTimeout, "", domain.ErrTransient},
		{http.StatusInternalServerError, "", domain.ErrTransient},
		{http.StatusBadGateway, "", domain.ErrTransient},
		{http.StatusBadRequest, "your prompt violates our content policy", domain.ErrContentPolicy},
		{http.StatusBadRequest, "malformed field", domain.ErrProviderPermanent},
		{http.StatusUnprocessableEntity, "nope", domain.ErrProviderPermanent},
	}
	for _, tc := range cases {
		err := StatusError("prov", tc.status, tc.body)
		require.ErrorIs(t, err, tc.want, "status %d body %q", tc.status, tc.body)
		assert.Contains(t, err.Error(), "prov")
	}
	assert.NoError(t, StatusError("prov", http.StatusOK, ""))
}

func TestIsPolicyRefusal(t *testing.T) {
	assert.True(t, IsPolicyRefusal("Rejected by safety system"))
	assert.True(t, IsPolicyRefusal("this violates the CONTENT POLICY"))
	assert.True(t, IsPolicyRefusal("flagged by moderation"))
	assert.False(t, IsPolicyRefusal("internal server error"))
	assert.False(t, IsPolicyRefusal(""))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "hello", Snippet(strings.NewReader("hello world"), 5))
	assert.Equal(t, "", Snippet(nil, 5))
	assert.Equal(t, "", Snippet(strings.NewReader("x"), 0))
}
