package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/abia-desktop/abia/llm"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"
)

const (
	chatCompletionsPath = "/chat/completions"
	minTemperature      = 0.0
	maxTemperature      = 2.0
)

// RequestOptions are the per-call overrides. Zero values fall back to the
// client configuration.
type RequestOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	Stream      bool
	MaxRetries  *int
	RetryDelay  time.Duration
	Timeout     time.Duration
	// RequestID correlates calls that may share a cached response. When it is
	// empty a fresh id is generated and the cache can never hit.
	RequestID string
	SkipCache bool
}

// Client wraps the DeepSeek chat completion API with retries, a response
// cache and a shared connection status.
type Client struct {
	mu  sync.RWMutex
	cfg Config

	httpClient *http.Client
	timer      backoff.Timer
	usage      UsageRecorder
	logger     zerolog.Logger
	now        func() time.Time

	cache     *Cache
	status    *llm.StatusTracker
	transport *transport
	flight    singleflight.Group
}

// New constructs a client. Zero-valued config fields take the package defaults.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:        withDefaults(cfg),
		httpClient: &http.Client{},
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cache = NewCache(c.cfg.CacheMaxSize, c.cfg.CacheTTL, c.now)
	c.status = llm.NewStatusTracker(c.now)
	c.transport = &transport{
		httpClient: c.httpClient,
		timer:      c.timer,
		logger:     c.logger,
	}
	return c
}

// Configure merges the non-nil fields of update into the current configuration.
func (c *Client) Configure(update ConfigUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	update.apply(&c.cfg)
	c.logger.Debug().Str("model", c.cfg.Model).Str("base_url", c.cfg.BaseURL).Msg("Client reconfigured")
}

// Config returns a copy of the current configuration.
func (c *Client) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// IsConfigured reports whether an API key is available, either explicitly
// or through DEEPSEEK_API_KEY.
func (c *Client) IsConfigured() bool {
	return c.Config().resolvedAPIKey() != ""
}

// ConnectionStatus returns the last observed connection status.
func (c *Client) ConnectionStatus() llm.ConnectionStatus {
	return c.status.Snapshot()
}

// ClearCache drops every cached response.
func (c *Client) ClearCache() {
	c.cache.Clear()
}

// SendRequest sends msgs to the chat completion endpoint. Unless opts.Stream
// or opts.SkipCache is set, the cache is consulted first and a successful
// response is stored.
func (c *Client) SendRequest(ctx context.Context, msgs []llm.Message, opts RequestOptions) (Response, error) {
	cfg := c.Config()
	apiKey := cfg.resolvedAPIKey()
	if apiKey == "" {
		return Response{}, llm.ErrNotConfigured
	}
	payload, policy, err := resolveRequest(cfg, msgs, opts)
	if err != nil {
		return Response{}, err
	}

	if opts.Stream {
		return c.collectStream(ctx, cfg, apiKey, payload, opts.Timeout)
	}
	if opts.SkipCache {
		return c.execute(ctx, cfg, apiKey, payload, policy)
	}

	key := NewCacheKey(payload.Messages, payload.Model, payload.Temperature, payload.MaxTokens, opts.RequestID).String()
	if cached, ok := c.cache.Get(key); ok {
		c.logger.Debug().Str("cache_key", key).Msg("Response served from cache")
		return cached, nil
	}

	if err := ctx.Err(); err != nil {
		return Response{}, llm.NewCanceledError(err)
	}

	// The flight outlives any single caller: each caller stops waiting when
	// its own ctx is done, and the request is bounded by the retry budget.
	results := c.flight.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), policy.budget())
		defer cancel()
		resp, err := c.execute(flightCtx, cfg, apiKey, payload, policy)
		if err != nil {
			return nil, err
		}
		c.cache.Put(key, resp)
		return resp, nil
	})

	select {
	case <-ctx.Done():
		c.logger.Debug().Str("cache_key", key).Msg("Caller stopped waiting for in-flight request")
		return Response{}, llm.NewCanceledError(ctx.Err())
	case res := <-results:
		if res.Err != nil {
			return Response{}, res.Err
		}
		if res.Shared {
			c.logger.Debug().Str("cache_key", key).Msg("Joined in-flight request with the same key")
		}
		return res.Val.(Response), nil
	}
}

func (c *Client) execute(ctx context.Context, cfg Config, apiKey string, payload chatCompletionRequest, policy retryPolicy) (Response, error) {
	resp, attempts, err := c.transport.do(ctx, cfg.BaseURL+chatCompletionsPath, apiKey, payload, policy)
	if err != nil {
		c.status.MarkError(err)
		return Response{}, err
	}
	c.status.MarkConnected()
	c.logger.Debug().Int("attempts", attempts).Str("model", payload.Model).Msg("Chat completion succeeded")
	c.recordUsage(ctx, payload.Model, responseUsage(payload.Messages, resp))
	return resp, nil
}

func (c *Client) recordUsage(ctx context.Context, model string, usage llm.Usage) {
	if c.usage == nil {
		return
	}
	if err := c.usage.Record(ctx, model, usage); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to record token usage")
	}
}

// StreamRequest opens a streamed completion and calls onChunk with every
// non-empty content delta. It never reads or writes the cache.
func (c *Client) StreamRequest(ctx context.Context, msgs []llm.Message, onChunk func(string), opts RequestOptions) error {
	if onChunk == nil {
		return errors.New("stream request: onChunk callback is required")
	}
	cfg := c.Config()
	apiKey := cfg.resolvedAPIKey()
	if apiKey == "" {
		return llm.ErrNotConfigured
	}
	payload, _, err := resolveRequest(cfg, msgs, opts)
	if err != nil {
		return err
	}
	return c.stream(ctx, cfg, apiKey, payload, opts.Timeout, onChunk)
}

func (c *Client) stream(ctx context.Context, cfg Config, apiKey string, payload chatCompletionRequest, timeout time.Duration, onChunk func(string)) error {
	payload.Stream = true
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("stream request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("stream request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		llmErr := classifyTransportError(err)
		c.status.MarkError(llmErr)
		c.logger.Error().Err(llmErr).Msg("Streaming request failed")
		return llmErr
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxStreamLine)) //nolint:errcheck // best-effort error detail
		statusErr := llm.NewStatusError(resp.StatusCode, apiErrorMessage(data, resp.Status), nil)
		c.status.MarkError(statusErr)
		c.logger.Error().Err(statusErr).Msg("Streaming request rejected")
		return statusErr
	}
	c.status.MarkConnected()

	chunks, err := readStream(resp.Body, onChunk, c.logger)
	if err != nil {
		llmErr := classifyTransportError(err)
		c.status.MarkError(llmErr)
		return llmErr
	}
	c.logger.Debug().Int("chunks", chunks).Msg("Stream completed")
	return nil
}

// collectStream serves SendRequest calls with Stream set by accumulating the
// deltas into a single response.
func (c *Client) collectStream(ctx context.Context, cfg Config, apiKey string, payload chatCompletionRequest, timeout time.Duration) (Response, error) {
	var sb strings.Builder
	if err := c.stream(ctx, cfg, apiKey, payload, timeout, func(s string) { sb.WriteString(s) }); err != nil {
		return Response{}, err
	}
	return Response{
		Model: payload.Model,
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: sb.String()},
			FinishReason: openai.FinishReasonStop,
		}},
	}, nil
}

// CheckConnection sends a one-token probe with the cache bypassed and a short
// timeout. Failures are logged and reported as false.
func (c *Client) CheckConnection(ctx context.Context) bool {
	msgs := []llm.Message{
		llm.SystemMessage(connectionProbeSystemPrompt),
		llm.UserMessage(connectionProbeUserPrompt),
	}
	_, err := c.SendRequest(ctx, msgs, RequestOptions{
		MaxTokens: 1,
		Timeout:   connectionProbeTimeout,
		SkipCache: true,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("DeepSeek connection test failed")
		return false
	}
	return true
}

func resolveRequest(cfg Config, msgs []llm.Message, opts RequestOptions) (chatCompletionRequest, retryPolicy, error) {
	if len(msgs) == 0 {
		return chatCompletionRequest{}, retryPolicy{}, errors.New("at least one message is required")
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return chatCompletionRequest{}, retryPolicy{}, fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}

	temperature := lo.FromPtrOr(opts.Temperature, cfg.Temperature)
	if temperature < minTemperature || temperature > maxTemperature {
		return chatCompletionRequest{}, retryPolicy{}, fmt.Errorf("temperature %.2f is outside [%.0f, %.0f]", temperature, minTemperature, maxTemperature)
	}

	payload := chatCompletionRequest{
		Model:       lo.Ternary(opts.Model != "", opts.Model, cfg.Model),
		Messages:    llm.CloneMessages(msgs),
		Temperature: temperature,
		MaxTokens:   lo.Ternary(opts.MaxTokens > 0, opts.MaxTokens, cfg.MaxTokens),
		Stream:      opts.Stream,
	}
	policy := retryPolicy{
		maxRetries: max(lo.FromPtrOr(opts.MaxRetries, cfg.MaxRetries), 0),
		delay:      lo.Ternary(opts.RetryDelay > 0, opts.RetryDelay, cfg.RetryDelay),
		timeout:    lo.Ternary(opts.Timeout > 0, opts.Timeout, cfg.Timeout),
	}
	return payload, policy, nil
}

var (
	_ llm.Chatter           = (*Client)(nil)
	_ llm.ConnectionChecker = (*Client)(nil)
)
