package searchconsole

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

const defaultBaseURL = "https://www.googleapis.com/webmasters/v3"

// Row holds the four search-performance measures returned by the upstream API
type Row struct {
	Clicks      int64
	Impressions int64
	CTR         float64
	Position    float64
}

// PageRow is a Row keyed by page path
type PageRow struct {
	Page string
	Row
}

// QueryRow is a Row keyed by search query
type QueryRow struct {
	Query string
	Row
}

// Fetcher is the analytics fetch capability consumed by the collector.
// Implementations must bound every call with a timeout and classify
// failures via *Error.
type Fetcher interface {
	FetchDailyTotals(ctx context.Context, siteRef string, date time.Time) (*Row, error)
	FetchPageBreakdown(ctx context.Context, siteRef string, date time.Time) ([]PageRow, error)
	FetchQueryBreakdown(ctx context.Context, siteRef string, date time.Time) ([]QueryRow, error)
}

// Client is an HTTP client for the Search Console search analytics API
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     oauth2.TokenSource
	rowLimit   int
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the API base URL (tests, proxies)
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithRowLimit caps breakdown rows requested per fetch
func WithRowLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.rowLimit = n
		}
	}
}

// NewClient creates a search analytics client. tokens supplies OAuth access
// tokens; token acquisition and refresh live outside this package.
func NewClient(tokens oauth2.TokenSource, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultBaseURL,
		tokens:     tokens,
		rowLimit:   1000,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// queryRequest is the searchanalytics/query request body
type queryRequest struct {
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	Dimensions []string `json:"dimensions,omitempty"`
	RowLimit   int      `json:"rowLimit,omitempty"`
}

// queryResponse is the searchanalytics/query response body
type queryResponse struct {
	Rows []struct {
		Keys        []string `json:"keys"`
		Clicks      float64  `json:"clicks"`
		Impressions float64  `json:"impressions"`
		CTR         float64  `json:"ctr"`
		Position    float64  `json:"position"`
	} `json:"rows"`
}

// FetchDailyTotals fetches site-wide totals for one date. A day with no
// search traffic returns a zero Row, not an error.
func (c *Client) FetchDailyTotals(ctx context.Context, siteRef string, date time.Time) (*Row, error) {
	const op = "FetchDailyTotals"

	resp, err := c.query(ctx, op, siteRef, queryRequest{
		StartDate: date.Format("2006-01-02"),
		EndDate:   date.Format("2006-01-02"),
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Rows) == 0 {
		return &Row{}, nil
	}

	r := resp.Rows[0]
	row := Row{
		Clicks:      int64(r.Clicks),
		Impressions: int64(r.Impressions),
		CTR:         r.CTR,
		Position:    r.Position,
	}
	if row.Clicks < 0 || row.Impressions < 0 || row.Position < 0 {
		return nil, &Error{Kind: KindValidation, Op: op, SiteRef: siteRef,
			Err: fmt.Errorf("negative metric values in upstream totals")}
	}
	return &row, nil
}

// FetchPageBreakdown fetches per-page rows for one date. Malformed rows are
// dropped; only a fully unusable payload is an error.
func (c *Client) FetchPageBreakdown(ctx context.Context, siteRef string, date time.Time) ([]PageRow, error) {
	const op = "FetchPageBreakdown"

	resp, err := c.query(ctx, op, siteRef, queryRequest{
		StartDate:  date.Format("2006-01-02"),
		EndDate:    date.Format("2006-01-02"),
		Dimensions: []string{"page"},
		RowLimit:   c.rowLimit,
	})
	if err != nil {
		return nil, err
	}

	pages := make([]PageRow, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		if len(r.Keys) < 1 || r.Keys[0] == "" || r.Clicks < 0 || r.Impressions < 0 {
			continue
		}
		pages = append(pages, PageRow{
			Page: r.Keys[0],
			Row: Row{
				Clicks:      int64(r.Clicks),
				Impressions: int64(r.Impressions),
				CTR:         r.CTR,
				Position:    r.Position,
			},
		})
	}
	return pages, nil
}

// FetchQueryBreakdown fetches per-query rows for one date
func (c *Client) FetchQueryBreakdown(ctx context.Context, siteRef string, date time.Time) ([]QueryRow, error) {
	const op = "FetchQueryBreakdown"

	resp, err := c.query(ctx, op, siteRef, queryRequest{
		StartDate:  date.Format("2006-01-02"),
		EndDate:    date.Format("2006-01-02"),
		Dimensions: []string{"query"},
		RowLimit:   c.rowLimit,
	})
	if err != nil {
		return nil, err
	}

	queries := make([]QueryRow, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		if len(r.Keys) < 1 || r.Keys[0] == "" || r.Clicks < 0 || r.Impressions < 0 {
			continue
		}
		queries = append(queries, QueryRow{
			Query: r.Keys[0],
			Row: Row{
				Clicks:      int64(r.Clicks),
				Impressions: int64(r.Impressions),
				CTR:         r.CTR,
				Position:    r.Position,
			},
		})
	}
	return queries, nil
}

func (c *Client) query(ctx context.Context, op, siteRef string, req queryRequest) (*queryResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Op: op, SiteRef: siteRef, Err: err}
	}

	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query", c.baseURL, url.PathEscape(siteRef))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindValidation, Op: op, SiteRef: siteRef, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, &Error{Kind: KindAuth, Op: op, SiteRef: siteRef,
				Err: fmt.Errorf("failed to obtain access token: %w", err)}
		}
		token.SetAuthHeader(httpReq)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Timeouts and connection failures are retryable by a later pass
		return nil, &Error{Kind: KindTransient, Op: op, SiteRef: siteRef, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{
			Kind:    classifyStatus(resp.StatusCode),
			Op:      op,
			SiteRef: siteRef,
			Err:     fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(payload)),
		}
	}

	var decoded queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &Error{Kind: KindValidation, Op: op, SiteRef: siteRef,
			Err: fmt.Errorf("failed to decode upstream response: %w", err)}
	}
	return &decoded, nil
}

// classifyStatus maps HTTP status codes onto the error taxonomy
func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests:
		return KindTransient
	case code >= 500:
		return KindTransient
	default:
		return KindValidation
	}
}
