package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RemoteConfig configures the HTTP embedding backend.
type RemoteConfig struct {
	// URL is the base address of the embedding service; requests go to URL+"/infer".
	URL string

	// Model is the model identifier reported by the backend; folded into Version().
	Model string

	// Dim is the expected output dimensionality.
	Dim int

	// Timeout bounds a single HTTP call.
	Timeout time.Duration

	// QueryPrefix / DocumentPrefix are prepended to text before embedding, per role.
	QueryPrefix    string
	DocumentPrefix string

	// MaxBatch bounds how many texts are sent in a single request; larger batches
	// passed to Embed are chunked.
	MaxBatch int

	// MaxInFlight bounds concurrent in-flight requests to the backend; callers
	// beyond the cap queue up to MaxQueueDepth before failing ErrBusy.
	MaxInFlight   int
	MaxQueueDepth int

	// MaxRetries and BaseBackoff control the exponential-backoff retry loop.
	MaxRetries int
	BaseBackoff time.Duration
}

func (c *RemoteConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 32
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 4
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = 32
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 250 * time.Millisecond
	}
}

func (c RemoteConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dim <= 0 {
		return fmt.Errorf("%w: dim must be positive", ErrInvalidConfig)
	}
	return nil
}

// inferRequest is the wire shape posted to $URL/infer.
type inferRequest struct {
	Inputs []string `json:"inputs"`
}

type inferResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Scores     []float32   `json:"scores,omitempty"`
}

// RemoteClient calls a remote embedding service's /infer endpoint. Grounded on
// the TEI-style HTTP contract and the rate-limited retry loop used elsewhere in
// this codebase for external RPCs.
type RemoteClient struct {
	cfg     RemoteConfig
	http    *http.Client
	logger  *zap.Logger
	metrics *Metrics

	// inflight bounds concurrent requests actually executing; tokens are acquired
	// before each HTTP call. queue bounds callers that are executing or waiting
	// for an inflight slot (MaxInFlight+MaxQueueDepth tickets); a caller that can't even get a queue ticket fails ErrBusy immediately
	// rather than blocking unboundedly.
	inflight chan struct{}
	queue    chan struct{}
}

// NewRemoteClient builds a RemoteClient. logger and metrics may be nil.
func NewRemoteClient(cfg RemoteConfig, logger *zap.Logger, metrics *Metrics) (*RemoteClient, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteClient{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		metrics:  metrics,
		inflight: make(chan struct{}, cfg.MaxInFlight),
		queue:    make(chan struct{}, cfg.MaxInFlight+cfg.MaxQueueDepth),
	}, nil
}

func (c *RemoteClient) Dimension() int { return c.cfg.Dim }

func (c *RemoteClient) Version() string {
	return fmt.Sprintf("remote:%s:%d", c.cfg.Model, c.cfg.Dim)
}

func (c *RemoteClient) Close() error { return nil }

func (c *RemoteClient) Embed(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	prefix := c.cfg.DocumentPrefix
	if role == RoleQuery {
		prefix = c.cfg.QueryPrefix
	}
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = prefix + t
	}

	out := make([][]float32, 0, len(prefixed))
	for start := 0; start < len(prefixed); start += c.cfg.MaxBatch {
		end := start + c.cfg.MaxBatch
		if end > len(prefixed) {
			end = len(prefixed)
		}
		chunk := prefixed[start:end]
		vecs, err := c.doInfer(ctx, chunk, "embed")
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *RemoteClient) Classify(ctx context.Context, texts []string) ([]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	resp, err := c.doRequest(ctx, texts, "classify")
	if err != nil {
		return nil, err
	}
	return resp.Scores, nil
}

func (c *RemoteClient) doInfer(ctx context.Context, texts []string, op string) ([][]float32, error) {
	resp, err := c.doRequest(ctx, texts, op)
	if err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

// doRequest acquires an in-flight slot, waiting in a bounded queue when all
// MaxInFlight slots are taken. A caller that can't even claim a queue ticket
// (MaxInFlight+MaxQueueDepth all occupied) fails ErrBusy immediately rather
// than blocking unboundedly. Once queued, retries the HTTP call with bounded
// exponential backoff honoring ctx.Done(), matching the teacher's llm client
// retry loop.
func (c *RemoteClient) doRequest(ctx context.Context, texts []string, op string) (*inferResponse, error) {
	select {
	case c.queue <- struct{}{}:
	default:
		return nil, ErrBusy
	}
	defer func() { <-c.queue }()

	select {
	case c.inflight <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.inflight }()

	started := time.Now()
	backoff := c.cfg.BaseBackoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, err := c.send(ctx, texts, op)
		if err == nil {
			if c.metrics != nil {
				c.metrics.RecordGeneration(ctx, c.cfg.Model, op, time.Since(started), len(texts), nil)
			}
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
		c.logger.Warn("embedding request failed, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = c.cfg.MaxRetries + 1
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	if c.metrics != nil {
		c.metrics.RecordGeneration(ctx, c.cfg.Model, op, time.Since(started), len(texts), lastErr)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *RemoteClient) send(ctx context.Context, texts []string, op string) (*inferResponse, error) {
	body, err := json.Marshal(inferRequest{Inputs: texts})
	if err != nil {
		return nil, err
	}
	url := c.cfg.URL + "/infer"
	if op == "classify" {
		url = c.cfg.URL + "/infer?op=classify"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &retryableError{status: resp.StatusCode, body: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding backend returned %d: %s", resp.StatusCode, respBody)
	}

	var out inferResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}
	return &out, nil
}

// retryableError marks transient HTTP failures (429/5xx) as retryable.
type retryableError struct {
	status int
	body   string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("transient error (status %d): %s", e.status, e.body)
}

func isRetryable(err error) bool {
	_, ok := err.(*retryableError)
	return ok
}

var _ Client = (*RemoteClient)(nil)
