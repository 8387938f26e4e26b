package research_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/research"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

func TestSearchAndAnalyze(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("POST /v1/search", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query    string `json:"query"`
			MinViews int64  `json:"min_views"`
			Limit    int    `json:"limit"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "standing desk", req.Query)
		assert.Equal(t, int64(100000), req.MinViews)
		assert.Equal(t, 10, req.Limit)
		_, _ = fmt.Fprint(w, `{"videos": [
			{"url": "https://t.example/1", "title": "desk setup tour", "views": 900000, "category": "tech"},
			{"url": "https://t.example/2", "title": "wfh upgrade", "views": 400000, "category": "tech"}
		]}`)
	})
	mux.HandleFunc("POST /v1/analyze", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query  string `json:"query"`
			Videos []struct {
				URL string `json:"url"`
			} `json:"videos"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Videos, 2)
		_, _ = fmt.Fprint(w, `{"summary": "fast hooks, desk reveals, bold captions"}`)
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	c := research.New(config.Config{ResearchBaseURL: srv.URL, ResearchTimeout: 5 * time.Second})
	videos, err := c.Search(context.Background(), "standing desk", 100000, "")
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, int64(900000), videos[0].Views)

	summary, err := c.Analyze(context.Background(), videos, "standing desk")
	require.NoError(t, err)
	assert.Equal(t, "fast hooks, desk reveals, bold captions", summary)
}

func TestAnalyzeEmptySummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"summary": "  "}`)
	}))
	defer srv.Close()

	c := research.New(config.Config{ResearchBaseURL: srv.URL, ResearchTimeout: time.Second})
	_, err := c.Analyze(context.Background(), []domain.ResearchVideo{{URL: "u"}}, "q")
	require.ErrorIs(t, err, domain.ErrProviderPermanent)
}
