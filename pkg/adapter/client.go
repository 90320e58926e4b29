package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
	"github.com/tidwall/gjson"
)

const (
	searchTimeout = 8 * time.Second
	writeTimeout  = 12 * time.Second
	chatTimeout   = 60 * time.Second
	healthTimeout = 3 * time.Second

	searchTries = 3 // initial attempt + 2 retries
	writeTries  = 3
	chatTries   = 2
	healthTries = 2

	retryBaseInterval = 150 * time.Millisecond

	healthCacheTTL = 45 * time.Second

	maxErrorBody = 256
)

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL    string
	userID     string
	collection string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time

	healthMu      sync.Mutex
	healthValue   bool
	healthChecked time.Time

	writes sync.WaitGroup
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock injects a clock for the health cache in tests.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// NewClient creates a memory service client.
func NewClient(baseURL, userID, collection string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, goerr.New("memory service URL is required")
	}
	if userID == "" {
		return nil, goerr.New("user ID is required")
	}

	c := &Client{
		baseURL:    baseURL,
		userID:     userID,
		collection: collection,
		httpClient: &http.Client{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// call performs one endpoint call with per-attempt timeout and exponential
// backoff retry. Non-2xx responses fail the attempt like network errors.
func (c *Client) call(ctx context.Context, method, path string, payload any, timeout time.Duration, maxTries uint) ([]byte, error) {
	var body []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal request payload")
		}
		body = data
	}

	operation := func() ([]byte, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create request")
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, goerr.Wrap(err, "request failed", goerr.V("path", path))
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read response body", goerr.V("path", path))
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, goerr.Wrap(ErrTransport, "unexpected status",
				goerr.V("path", path),
				goerr.V("status", resp.StatusCode),
				goerr.V("body", truncate(string(respBody), maxErrorBody)))
		}

		return respBody, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBaseInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(maxTries),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "call failed after retries",
			goerr.V("path", path), goerr.V("tries", maxTries))
	}
	return result, nil
}

// Search queries the memory service and normalizes the response channels.
func (c *Client) Search(ctx context.Context, input *SearchInput) (*model.SearchResult, error) {
	payload := map[string]any{
		"query":      input.Query,
		"user_id":    c.userID,
		"collection": c.collection,
		"top_k":      input.TopK,
	}
	if input.Filter != nil {
		payload["filter"] = input.Filter
	}
	if input.IncludeSkills {
		payload["include_skills"] = true
	}
	if input.IncludePreferences {
		payload["include_preferences"] = true
	}

	body, err := c.call(ctx, http.MethodPost, "/api/v1/memories/search", payload, searchTimeout, searchTries)
	if err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(body)
	result := &model.SearchResult{
		Memories:    normalizeCandidates(firstExisting(root, "memories", "results")),
		Skills:      normalizeCandidates(root.Get("skills")),
		Preferences: normalizeCandidates(root.Get("preferences")),
	}
	return result, nil
}

// Add persists the record without blocking the caller. Failures are logged
// and swallowed; the triggering hook must never stall on persistence. The
// write is tracked so Flush can drain it before the process exits.
func (c *Client) Add(ctx context.Context, rec *model.Record) {
	logger := logging.From(ctx)
	detached := context.WithoutCancel(ctx)

	c.writes.Add(1)
	go func() {
		defer c.writes.Done()
		if err := c.AddWait(detached, rec); err != nil {
			logger.Warn("async memory write failed", "error", err)
		}
	}()
}

// Flush waits for in-flight Add writes to settle or the context to expire.
func (c *Client) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.writes.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "async writes still in flight")
	}
}

// AddWait persists the record and waits for confirmation.
func (c *Client) AddWait(ctx context.Context, rec *model.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	payload := map[string]any{
		"user_id":    c.userID,
		"collection": c.collection,
		"content":    rec.Content,
		"tags":       rec.Tags,
	}
	if rec.Info != nil {
		payload["info"] = rec.Info
	}

	if _, err := c.call(ctx, http.MethodPost, "/api/v1/memories", payload, writeTimeout, writeTries); err != nil {
		return err
	}
	return nil
}

// Chat sends a completion prompt through the service, with the service's own
// memory side-effects disabled for the call.
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"query":          prompt,
		"user_id":        c.userID,
		"collection":     c.collection,
		"disable_memory": true,
	}

	body, err := c.call(ctx, http.MethodPost, "/api/v1/chat", payload, chatTimeout, chatTries)
	if err != nil {
		return "", err
	}

	root := gjson.ParseBytes(body)
	text := firstExisting(root, "response", "text", "answer", "content")
	if !text.Exists() {
		return "", goerr.New("chat response carries no text", goerr.V("body", truncate(string(body), maxErrorBody)))
	}
	return text.String(), nil
}

// IsHealthy probes a cheap metadata endpoint, caching the verdict. This is
// the primary circuit breaker: every substantive read and write path
// consults it first.
func (c *Client) IsHealthy(ctx context.Context) bool {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	now := c.now()
	if !c.healthChecked.IsZero() && now.Sub(c.healthChecked) < healthCacheTTL {
		return c.healthValue
	}

	_, err := c.call(ctx, http.MethodGet, "/api/v1/health", nil, healthTimeout, healthTries)
	if err != nil {
		logging.From(ctx).Debug("memory service unreachable", "error", err)
	}

	c.healthValue = err == nil
	c.healthChecked = now
	return c.healthValue
}

// normalizeCandidates converts one response channel into canonical
// candidates. Items expose their text under several legacy field names;
// this is the single place that fallback is resolved.
func normalizeCandidates(list gjson.Result) []model.Candidate {
	if !list.Exists() || !list.IsArray() {
		return nil
	}

	var out []model.Candidate
	for _, item := range list.Array() {
		text := firstExisting(item, "content", "memory", "text")
		if !text.Exists() || text.String() == "" {
			continue
		}

		c := model.Candidate{Text: text.String()}

		if tags := item.Get("tags"); tags.IsArray() {
			for _, tag := range tags.Array() {
				c.Tags = append(c.Tags, tag.String())
			}
		}

		info := firstExisting(item, "metadata.info", "info")
		if info.IsObject() {
			if m, ok := info.Value().(map[string]any); ok {
				c.Info = m
			}
		}

		out = append(out, c)
	}
	return out
}

// firstExisting returns the first existing field among the given paths.
func firstExisting(r gjson.Result, paths ...string) gjson.Result {
	for _, path := range paths {
		if v := r.Get(path); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
