package searchconsole

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testDate() time.Time {
	return time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
}

func TestFetchDailyTotals(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2026-08-20", req.StartDate)
		assert.Equal(t, "2026-08-20", req.EndDate)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"rows": []map[string]interface{}{
				{"clicks": 120, "impressions": 3400, "ctr": 0.035, "position": 8.2},
			},
		})
	}))
	defer server.Close()

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	client := NewClient(tokens, 5*time.Second, WithBaseURL(server.URL))

	row, err := client.FetchDailyTotals(context.Background(), "sc-domain:example.com", testDate())
	require.NoError(t, err)
	assert.Equal(t, int64(120), row.Clicks)
	assert.Equal(t, int64(3400), row.Impressions)
	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestFetchDailyTotalsEmptyDay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer server.Close()

	client := NewClient(nil, 5*time.Second, WithBaseURL(server.URL))

	row, err := client.FetchDailyTotals(context.Background(), "sc-domain:example.com", testDate())
	require.NoError(t, err)
	assert.Zero(t, row.Clicks)
	assert.Zero(t, row.Impressions)
}

func TestFetchClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   Kind
	}{
		{"unauthorized", http.StatusUnauthorized, KindAuth},
		{"forbidden", http.StatusForbidden, KindAuth},
		{"not found", http.StatusNotFound, KindNotFound},
		{"rate limited", http.StatusTooManyRequests, KindTransient},
		{"server error", http.StatusInternalServerError, KindTransient},
		{"bad request", http.StatusBadRequest, KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewClient(nil, 5*time.Second, WithBaseURL(server.URL))
			_, err := client.FetchDailyTotals(context.Background(), "sc-domain:example.com", testDate())
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestFetchConnectionFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client := NewClient(nil, time.Second, WithBaseURL(server.URL))
	_, err := client.FetchDailyTotals(context.Background(), "sc-domain:example.com", testDate())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestFetchPageBreakdownSkipsMalformedRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"rows": []map[string]interface{}{
				{"keys": []string{"/pricing"}, "clicks": 50, "impressions": 900, "ctr": 0.055, "position": 3.1},
				{"keys": []string{}, "clicks": 10, "impressions": 100},
				{"keys": []string{"/broken"}, "clicks": -4, "impressions": 100},
				{"keys": []string{"/blog"}, "clicks": 20, "impressions": 400, "ctr": 0.05, "position": 6.0},
			},
		})
	}))
	defer server.Close()

	client := NewClient(nil, 5*time.Second, WithBaseURL(server.URL))

	pages, err := client.FetchPageBreakdown(context.Background(), "sc-domain:example.com", testDate())
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "/pricing", pages[0].Page)
	assert.Equal(t, "/blog", pages[1].Page)
}

func TestFetchQueryBreakdownSetsDimension(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"query"}, req.Dimensions)
		assert.Equal(t, 250, req.RowLimit)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"rows": []map[string]interface{}{
				{"keys": []string{"best widgets"}, "clicks": 30, "impressions": 500, "ctr": 0.06, "position": 4.4},
			},
		})
	}))
	defer server.Close()

	client := NewClient(nil, 5*time.Second, WithBaseURL(server.URL), WithRowLimit(250))

	queries, err := client.FetchQueryBreakdown(context.Background(), "sc-domain:example.com", testDate())
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "best widgets", queries[0].Query)
}

func TestKindOfDefaultsToTransient(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(assert.AnError))
	assert.Equal(t, KindAuth, KindOf(&Error{Kind: KindAuth, Op: "x", Err: assert.AnError}))
}
