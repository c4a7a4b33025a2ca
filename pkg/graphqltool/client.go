// Package graphqltool implements the GraphQL tool pipeline: query
// classification, entity extraction, ID resolution against pre-built
// catalogs, rate-limited execution against the remote Atlas API, and
// deep-linked result formatting.
package graphqltool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/growthlab/askatlas/pkg/version"
)

// requestTimeout bounds every outbound GraphQL request.
const requestTimeout = 30 * time.Second

// userAgent identifies this client to the remote API.
var userAgent = version.Full()

// GraphQLResponseError reports an HTTP failure or GraphQL-level errors
// field. Never retried: the remote API has idempotency concerns under rate
// limiting.
type GraphQLResponseError struct {
	StatusCode int
	Errors     string
}

func (e *GraphQLResponseError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("GraphQL endpoint returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("GraphQL errors: %s", e.Errors)
}

// Client posts GraphQL queries with process-wide politeness limits: a
// small concurrency semaphore plus a fixed delay between request starts.
type Client struct {
	endpoint string
	http     *http.Client
	sem      chan struct{}
	limiter  *rate.Limiter
}

// NewClient creates a rate-limited GraphQL client: at most concurrency
// in-flight requests, with delay between request admissions.
func NewClient(endpoint string, concurrency int, delay time.Duration) *Client {
	if concurrency <= 0 {
		concurrency = 2
	}
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: requestTimeout},
		sem:      make(chan struct{}, concurrency),
		limiter:  rate.NewLimiter(rate.Every(delay), 1),
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

// Post executes one GraphQL query and returns the data payload. An errors
// field in the response or a non-2xx status becomes a
// GraphQLResponseError.
func (c *Client) Post(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal GraphQL request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build GraphQL request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post GraphQL query: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read GraphQL response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &GraphQLResponseError{StatusCode: resp.StatusCode}
	}

	var parsed graphqlResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("decode GraphQL response: %w", err)
	}
	if len(parsed.Errors) > 0 && string(parsed.Errors) != "null" {
		return nil, &GraphQLResponseError{Errors: string(parsed.Errors)}
	}
	return parsed.Data, nil
}
