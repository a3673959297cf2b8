package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/abia-desktop/abia/llm"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// maxBackoffInterval keeps the exponential backoff uncapped for any
// realistic retry count.
const maxBackoffInterval = 24 * time.Hour

// Response is the non-streaming chat completion body.
type Response = openai.ChatCompletionResponse

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type apiErrorBody struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// retryPolicy is the resolved per-call retry configuration.
type retryPolicy struct {
	maxRetries int
	delay      time.Duration
	timeout    time.Duration
}

// budget bounds one logical request: every attempt timing out plus every
// backoff delay, with one extra attempt timeout as slack.
func (p retryPolicy) budget() time.Duration {
	total := time.Duration(p.maxRetries+2) * p.timeout
	delay := p.delay
	for range p.maxRetries {
		total += delay
		delay = min(delay*2, maxBackoffInterval)
	}
	return total
}

type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeRetry
	outcomeAbort
)

func (o attemptOutcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeRetry:
		return "retry"
	case outcomeAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// attemptResult is the tagged result of one HTTP attempt.
type attemptResult struct {
	outcome  attemptOutcome
	response Response
	err      *llm.Error
}

// transport executes one logical chat-completion request with bounded retries.
type transport struct {
	httpClient *http.Client
	timer      backoff.Timer
	logger     zerolog.Logger
}

// do runs the request until it succeeds, fails non-recoverably, or the retry
// budget is spent. It makes at most policy.maxRetries+1 attempts and waits
// delay*2^(k-2) before attempt k.
func (t *transport) do(ctx context.Context, endpoint, apiKey string, payload chatCompletionRequest, policy retryPolicy) (Response, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, 0, fmt.Errorf("encode request body: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.delay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = maxBackoffInterval
	eb.MaxElapsedTime = 0
	eb.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(policy.maxRetries)), ctx) //nolint:gosec // maxRetries is validated non-negative

	attempts := 0
	var resp Response
	var lastErr *llm.Error
	operation := func() error {
		attempts++
		t.logger.Debug().
			Int("attempt", attempts).
			Int("max_attempts", policy.maxRetries+1).
			Str("model", payload.Model).
			Msg("Sending chat completion request")

		res := t.attempt(ctx, endpoint, apiKey, body, policy.timeout)
		switch res.outcome {
		case outcomeSuccess:
			resp = res.response
			return nil
		case outcomeAbort:
			lastErr = res.err
			t.logger.Error().Err(res.err).Int("status", res.err.StatusCode).Msg("Non-recoverable error, giving up without retrying")
			return backoff.Permanent(res.err)
		default:
			lastErr = res.err
			return res.err
		}
	}
	notify := func(err error, delay time.Duration) {
		ev := t.logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Int("max_attempts", policy.maxRetries+1).
			Dur("next_delay", delay)
		if llm.IsRateLimitError(err) {
			ev = ev.Bool("rate_limited", true)
		}
		if retryAfter := llm.ExtractRetryAfter(err); retryAfter != nil {
			ev = ev.Dur("retry_after", *retryAfter)
		}
		ev.Msg("Chat completion attempt failed, retrying after delay")
	}

	if err := backoff.RetryNotifyWithTimer(operation, b, notify, t.timer); err != nil {
		if lastErr == nil || ctx.Err() != nil {
			return Response{}, attempts, llm.NewCanceledError(err)
		}
		if lastErr.Retryable {
			t.logger.Error().Err(lastErr).Int("attempts", attempts).Msg("Chat completion failed after exhausting retries")
		}
		return Response{}, attempts, lastErr
	}
	return resp, attempts, nil
}

// attempt performs a single HTTP round trip bounded by timeout and classifies
// the outcome.
func (t *transport) attempt(ctx context.Context, endpoint, apiKey string, body []byte, timeout time.Duration) attemptResult {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return attemptResult{outcome: outcomeAbort, err: &llm.Error{
			Type:        llm.ErrorTypeInvalidRequest,
			Message:     "build request",
			ProviderErr: err,
		}}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	httpResp, err := t.httpClient.Do(req)
	if err != nil {
		return attemptResult{outcome: outcomeRetry, err: classifyTransportError(err)}
	}
	defer httpResp.Body.Close() //nolint:errcheck // body fully read below

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return attemptResult{outcome: outcomeRetry, err: classifyTransportError(err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		statusErr := llm.NewStatusError(httpResp.StatusCode, apiErrorMessage(data, httpResp.Status), nil)
		if retryAfter, ok := parseRetryAfter(httpResp.Header.Get("Retry-After")); ok {
			statusErr.RetryAfter = &retryAfter
		}
		if !statusErr.Retryable {
			return attemptResult{outcome: outcomeAbort, err: statusErr}
		}
		return attemptResult{outcome: outcomeRetry, err: statusErr}
	}

	var completion Response
	if err := json.Unmarshal(data, &completion); err != nil {
		return attemptResult{outcome: outcomeRetry, err: llm.NewProviderError("decode chat completion response", err)}
	}
	return attemptResult{outcome: outcomeSuccess, response: completion}
}

// classifyTransportError maps a failed round trip to canceled, network or
// unknown errors.
func classifyTransportError(err error) *llm.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llm.NewCanceledError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return llm.NewCanceledError(err)
	}
	if code := networkErrorCode(err); code != "" {
		return llm.NewNetworkError(code, err)
	}
	return llm.NewProviderError("unable to reach the DeepSeek API", err)
}

func networkErrorCode(err error) string {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED:
			return "ECONNREFUSED"
		case syscall.ECONNRESET:
			return "ECONNRESET"
		case syscall.ETIMEDOUT:
			return "ETIMEDOUT"
		case syscall.EHOSTUNREACH:
			return "EHOSTUNREACH"
		case syscall.ENETUNREACH:
			return "ENETUNREACH"
		case syscall.EPIPE:
			return "EPIPE"
		default:
			return "ERRNO_" + strconv.Itoa(int(errno))
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "ENOTFOUND"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "E" + strings.ToUpper(opErr.Op)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return "ECONNRESET"
	}
	return ""
}

func apiErrorMessage(data []byte, fallback string) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error != nil {
		if msg := strings.TrimSpace(parsed.Error.Message); msg != "" {
			return msg
		}
	}
	if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
		return summarizePayloadSnippet(trimmed)
	}
	return fallback
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func summarizePayloadSnippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
