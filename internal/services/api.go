// HTTP plumbing shared by every upstream client
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/lumarr/internal/shared"
	"golang.org/x/time/rate"
)

const userAgent = "lumarr/0.1 (+https://github.com/desertthunder/lumarr)"

// APIClient performs requests against one base URL with retries and optional pacing.
//
// Network errors, 429 and 5xx responses are classified as [shared.ErrTransientFetch] and retried
// according to the [shared.RetryPolicy]. Other 4xx responses become a [StatusError].
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	headers    http.Header
	retry      shared.RetryPolicy
	limiter    *rate.Limiter
}

// NewAPIClient creates a client for baseURL. A nil client means [http.DefaultClient].
func NewAPIClient(baseURL string, client *http.Client, policy shared.RetryPolicy) *APIClient {
	if client == nil {
		client = http.DefaultClient
	}

	headers := make(http.Header)
	headers.Set("User-Agent", userAgent)

	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		headers:    headers,
		retry:      policy,
	}
}

// WithHeader sets a header sent on every request.
func (a *APIClient) WithHeader(key, value string) *APIClient {
	a.headers.Set(key, value)
	return a
}

// WithRateLimit spaces requests to at most rps per second. Non-positive values disable pacing.
func (a *APIClient) WithRateLimit(rps float64) *APIClient {
	if rps > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return a
}

// WithInterval spaces requests at least d apart.
func (a *APIClient) WithInterval(d time.Duration) *APIClient {
	if d > 0 {
		a.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
	return a
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into result.
func (r *APIResponse) Decode(result any) error {
	if err := json.Unmarshal(r.Body, result); err != nil {
		return fmt.Errorf("%w: failed to decode response: %w", shared.ErrAPIRequest, err)
	}
	return nil
}

// StatusError is a non-retryable HTTP error response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.URL, e.StatusCode, body)
}

func (e *StatusError) Unwrap() error {
	return shared.ErrAPIRequest
}

// Get performs a GET request, retrying transient failures.
func (a *APIClient) Get(ctx context.Context, path string, query url.Values) (*APIResponse, error) {
	return a.Do(ctx, http.MethodGet, path, query, nil)
}

// GetJSON performs a GET request and decodes the JSON body into result.
func (a *APIClient) GetJSON(ctx context.Context, path string, query url.Values, result any) error {
	resp, err := a.Get(ctx, path, query)
	if err != nil {
		return err
	}
	return resp.Decode(result)
}

// Post performs a POST request with a JSON body, retrying transient failures.
func (a *APIClient) Post(ctx context.Context, path string, body any) (*APIResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return a.Do(ctx, http.MethodPost, path, nil, data)
}

// Do sends a request under the client's retry policy.
func (a *APIClient) Do(ctx context.Context, method, path string, query url.Values, body []byte) (*APIResponse, error) {
	return shared.RetryWithData(ctx, a.retry, func() (*APIResponse, error) {
		return a.send(ctx, method, path, query, body)
	})
}

// send performs exactly one attempt and classifies the outcome.
func (a *APIClient) send(ctx context.Context, method, path string, query url.Values, body []byte) (*APIResponse, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	fullURL := a.resolve(path)
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range a.headers {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %w", shared.ErrTransientFetch, method, fullURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", shared.ErrTransientFetch, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &shared.RateLimitError{URL: fullURL, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s %s returned %d", shared.ErrTransientFetch, method, fullURL, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, &StatusError{Method: method, URL: fullURL, StatusCode: resp.StatusCode, Body: data}
	}

	return &APIResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

// resolve joins path onto the base URL unless it is already absolute.
func (a *APIClient) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return a.baseURL + path
}

// parseRetryAfter accepts either delay-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
