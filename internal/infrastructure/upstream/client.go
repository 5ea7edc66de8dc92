package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/paperd/internal/config"
	"github.com/turtacn/paperd/internal/domain/citation"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/pkg/errors"
)

// maxRelationLimit is Upstream's hard cap on a single relation page.
const maxRelationLimit = 1000

// maxSearchLimit is Upstream's hard cap on a single search page.
const maxSearchLimit = 100

// maxBatchSize is Upstream's hard cap on a POST paper/batch request.
const maxBatchSize = 500

type httpClient struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	limiter    *rate.Limiter
	log        logging.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient builds the production Client from configuration.  The rate
// limiter is a process-wide token bucket: every fetch issued anywhere in
// the process passes through it, so the configured requests-per-second is
// a global budget rather than a per-caller one.
func NewClient(cfg config.UpstreamConfig, log logging.Logger) Client {
	return &httpClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		log:        log.Named("upstream"),
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
		maxDelay:   cfg.RetryMaxDelay,
	}
}

func (c *httpClient) FetchPaper(ctx context.Context, paperRef, fieldExpr string) (map[string]any, error) {
	params := url.Values{}
	if fieldExpr != "" {
		params.Set("fields", fieldExpr)
	}
	var record map[string]any
	if err := c.do(ctx, http.MethodGet, "/paper/"+url.PathEscape(paperRef), params, nil, &record); err != nil {
		return nil, err
	}
	return record, nil
}

func (c *httpClient) FetchRelationPage(ctx context.Context, paperID string, kind citation.Kind, offset, limit int, fieldExpr string) (*RelationPage, error) {
	if limit > maxRelationLimit {
		limit = maxRelationLimit
	}
	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(limit))
	if fieldExpr != "" {
		params.Set("fields", fieldExpr)
	}

	// The wire shape nests the neighbor under a direction-specific key.
	neighborKey := "citingPaper"
	if kind == citation.KindReferences {
		neighborKey = "citedPaper"
	}

	var raw struct {
		Total  int  `json:"total"`
		Offset int  `json:"offset"`
		Next   *int `json:"next"`
		Data   []map[string]any
	}
	path := fmt.Sprintf("/paper/%s/%s", url.PathEscape(paperID), string(kind))
	if err := c.do(ctx, http.MethodGet, path, params, nil, &raw); err != nil {
		return nil, err
	}

	page := &RelationPage{
		Total:  raw.Total,
		Offset: raw.Offset,
		Next:   raw.Next,
		Items:  make([]RelationItem, 0, len(raw.Data)),
	}
	for _, entry := range raw.Data {
		item := RelationItem{}
		if p, ok := entry[neighborKey].(map[string]any); ok {
			item.Paper = p
		}
		item.Contexts = stringSlice(entry["contexts"])
		item.Intents = stringSlice(entry["intents"])
		item.IsInfluential, _ = entry["isInfluential"].(bool)
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func (c *httpClient) FetchBatch(ctx context.Context, paperRefs []string, fieldExpr string) ([]map[string]any, error) {
	if len(paperRefs) > maxBatchSize {
		return nil, errors.New(errors.ErrCodeBatchTooLarge,
			fmt.Sprintf("batch of %d exceeds the %d-id limit", len(paperRefs), maxBatchSize))
	}
	params := url.Values{}
	if fieldExpr != "" {
		params.Set("fields", fieldExpr)
	}
	body := map[string]any{"ids": paperRefs}

	var records []map[string]any
	if err := c.do(ctx, http.MethodPost, "/paper/batch", params, body, &records); err != nil {
		return nil, err
	}
	// Upstream preserves order and marks misses as null; a short response
	// is padded so callers can rely on positional correspondence.
	for len(records) < len(paperRefs) {
		records = append(records, nil)
	}
	return records, nil
}

func (c *httpClient) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	limit := q.Limit
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	params := url.Values{}
	params.Set("query", q.Query)
	params.Set("offset", strconv.Itoa(q.Offset))
	params.Set("limit", strconv.Itoa(limit))
	if q.FieldExpr != "" {
		params.Set("fields", q.FieldExpr)
	}
	addFilters(params, q.Filters)

	var result SearchResult
	if err := c.do(ctx, http.MethodGet, "/paper/search", params, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *httpClient) SearchByTitleMatch(ctx context.Context, query string, filters SearchFilters, fieldExpr string) (map[string]any, error) {
	params := url.Values{}
	params.Set("query", query)
	if fieldExpr != "" {
		params.Set("fields", fieldExpr)
	}
	addFilters(params, filters)

	var result struct {
		Data []map[string]any `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/paper/search/match", params, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, errors.New(errors.ErrCodePaperNotFound, "no title match")
	}
	return result.Data[0], nil
}

func addFilters(params url.Values, f SearchFilters) {
	if f.Year != "" {
		params.Set("year", f.Year)
	}
	if f.Venue != "" {
		params.Set("venue", f.Venue)
	}
	if f.FieldsOfStudy != "" {
		params.Set("fieldsOfStudy", f.FieldsOfStudy)
	}
	if f.OpenAccessPDF {
		params.Set("openAccessPdf", "")
	}
}

// do runs one logical request: rate-limit admission, then up to
// maxRetries+1 attempts with exponential backoff and jitter.  Only the
// transient taxonomy (RateLimited, Timeout, UpstreamUnavailable,
// Transport) is retried; a Retry-After hint overrides the computed
// backoff for that attempt.
func (c *httpClient) do(ctx context.Context, method, path string, params url.Values, body any, dest any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode request body")
		}
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt, lastErr)
			c.log.Debug("retrying upstream request",
				logging.String("path", path),
				logging.Int("attempt", attempt),
				logging.Duration("wait", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return deadlineError(ctx)
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return deadlineError(ctx)
		}

		attemptErr := c.attempt(ctx, method, fullURL, bodyBytes, dest)
		if attemptErr == nil {
			return nil
		}
		lastErr = attemptErr
		if !errors.IsRetryable(errors.GetCode(attemptErr)) {
			return attemptErr
		}
	}
	return lastErr
}

func (c *httpClient) attempt(ctx context.Context, method, fullURL string, body []byte, dest any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTransport, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return deadlineError(ctx)
		}
		return errors.Wrap(err, errors.ErrCodeTransport, "upstream request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTransport, "failed to read upstream response")
	}
	c.log.Debug("upstream response",
		logging.String("method", method),
		logging.String("url", fullURL),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 400 {
		return statusError(resp, respBody)
	}

	if dest != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, dest); err != nil {
			return errors.Wrap(err, errors.ErrCodeUpstreamBadResponse, "failed to decode upstream response")
		}
	}
	return nil
}

// backoff computes the wait before the given retry attempt.  A
// Retry-After carried by the previous error wins over the exponential
// schedule.
func (c *httpClient) backoff(attempt int, lastErr error) time.Duration {
	if ra := retryAfterOf(lastErr); ra > 0 {
		return ra
	}
	wait := c.baseDelay * time.Duration(1<<uint(attempt-1))
	if wait > c.maxDelay {
		wait = c.maxDelay
	}
	// up to 25% jitter
	return wait + time.Duration(rand.Int63n(int64(wait/4)+1))
}

// rateLimitedError is an AppError enriched with Upstream's Retry-After
// hint so the retry loop can honor it.
type rateLimitedError struct {
	*errors.AppError
	retryAfter time.Duration
}

func (e *rateLimitedError) Unwrap() error { return e.AppError }

func retryAfterOf(err error) time.Duration {
	if rle, ok := err.(*rateLimitedError); ok {
		return rle.retryAfter
	}
	return 0
}

func statusError(resp *http.Response, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 512 {
		detail = detail[:512]
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.New(errors.ErrCodePaperNotFound, "upstream reported not found")
	case resp.StatusCode == http.StatusTooManyRequests:
		ae := errors.New(errors.ErrCodeRateLimited, "upstream rate limit exceeded").WithDetail(detail)
		ra := time.Duration(0)
		if h := resp.Header.Get("Retry-After"); h != "" {
			if secs, err := strconv.Atoi(h); err == nil {
				ra = time.Duration(secs) * time.Second
			}
		}
		return &rateLimitedError{AppError: ae, retryAfter: ra}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.New(errors.ErrCodeUnauthorized, "upstream rejected credentials").WithDetail(detail)
	case resp.StatusCode == http.StatusBadRequest:
		return errors.New(errors.ErrCodeBadRequest, "upstream rejected request").WithDetail(detail)
	case resp.StatusCode >= 500:
		return errors.New(errors.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("upstream returned %d", resp.StatusCode)).WithDetail(detail)
	default:
		return errors.New(errors.ErrCodeTransport,
			fmt.Sprintf("unexpected upstream status %d", resp.StatusCode)).WithDetail(detail)
	}
}

func deadlineError(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.New(errors.ErrCodeTimeout, "deadline exceeded waiting for upstream")
	}
	return errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "request cancelled")
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
