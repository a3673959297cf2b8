package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/abia-desktop/abia/llm"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// recordingTimer fires immediately and remembers every requested delay.
type recordingTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	ch     chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{ch: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	t.ch <- time.Time{}
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.ch }

func (t *recordingTimer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}

type recordedUsage struct {
	model string
	usage llm.Usage
}

type fakeUsageRecorder struct {
	mu      sync.Mutex
	records []recordedUsage
}

func (f *fakeUsageRecorder) Record(_ context.Context, model string, usage llm.Usage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recordedUsage{model: model, usage: usage})
	return nil
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test server
		"id":    "chatcmpl-1",
		"model": "deepseek-chat",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
	})
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *recordingTimer) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	timer := newRecordingTimer()
	all := append([]Option{WithBackoffTimer(timer), WithLogger(zerolog.Nop())}, opts...)
	c := New(Config{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		RetryDelay: 10 * time.Millisecond,
		Timeout:    5 * time.Second,
	}, all...)
	return c, timer
}

func TestClient_ChatReturnsFirstChoice(t *testing.T) {
	var gotBody chatCompletionRequest
	var gotAuth, gotPath string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		writeCompletion(w, "4")
	})

	got, err := c.Chat(context.Background(), "What is 2+2?", "")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if got != "4" {
		t.Errorf("Expected '4', got %q", got)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Expected bearer auth header, got %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("Expected /chat/completions, got %q", gotPath)
	}
	if gotBody.Model != DefaultModel || gotBody.MaxTokens != DefaultMaxTokens || gotBody.Temperature != DefaultTemperature {
		t.Errorf("Expected configured defaults in body, got %+v", gotBody)
	}
	if len(gotBody.Messages) != 1 || gotBody.Messages[0].Role != llm.RoleUser {
		t.Errorf("Expected a single user message without a system prompt, got %+v", gotBody.Messages)
	}
}

func TestClient_ChatIncludesSystemPrompt(t *testing.T) {
	var gotBody chatCompletionRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody) //nolint:errcheck // asserted below
		writeCompletion(w, "ok")
	})

	if _, err := c.Chat(context.Background(), "hello", "be brief"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != llm.RoleSystem || gotBody.Messages[0].Content != "be brief" {
		t.Errorf("Expected system then user message, got %+v", gotBody.Messages)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	c := New(Config{}, WithLogger(zerolog.Nop()))
	if c.IsConfigured() {
		t.Fatal("Expected client without key to be unconfigured")
	}
	_, err := c.SendRequest(context.Background(), []llm.Message{llm.UserMessage("hi")}, RequestOptions{})
	if !errors.Is(err, llm.ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestClient_IsConfiguredFromEnv(t *testing.T) {
	t.Setenv(APIKeyEnv, "env-key")
	c := New(Config{})
	if !c.IsConfigured() {
		t.Error("Expected DEEPSEEK_API_KEY to configure the client")
	}
}

func TestClient_RetriesUpToCeiling(t *testing.T) {
	var hits atomic.Int32
	c, timer := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	})

	_, err := c.SendRequest(context.Background(), []llm.Message{llm.UserMessage("hi")}, RequestOptions{MaxRetries: lo.ToPtr(2)})
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
	var llmErr *llm.Error
	if !errors.As(err, &llmErr) || llmErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Expected status error 503, got %v", err)
	}
	if !strings.Contains(llmErr.Message, "overloaded") {
		t.Errorf("Expected API error message to be surfaced, got %q", llmErr.Message)
	}

	delays := timer.Delays()
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("Expected delays %v, got %v", want, delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("Delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestClient_DefaultRetryCeiling(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := c.SendRequest(context.Background(), []llm.Message{llm.UserMessage("hi")}, RequestOptions{}); err == nil {
		t.Fatal("Expected error")
	}
	if got := hits.Load(); got != DefaultMaxRetries+1 {
		t.Errorf("Expected %d attempts, got %d", DefaultMaxRetries+1, got)
	}
}

func TestClient_ZeroRetriesMakesOneAttempt(t *testing.T) {
	var hits atomic.Int32
	c, timer := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	if _, err := c.SendRequest(context.Background(), []llm.Message{llm.UserMessage("hi")}, RequestOptions{MaxRetries: lo.ToPtr(0)}); err == nil {
		t.Fatal("Expected error")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("Expected 1 attempt, got %d", got)
	}
	if len(timer.Delays()) != 0 {
		t.Errorf("Expected no backoff waits, got %v", timer.Delays())
	}
}

func TestClient_NonRecoverableStatusShortCircuits(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound} {
		t.Run(fmt.Sprintf("status_%d", status), func(t *testing.T) {
			var hits atomic.Int32
			c, timer := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(status)
			})

			_, err := c.SendRequest(context.Background(), []llm.Message{llm.UserMessage("hi")}, RequestOptions{MaxRetries: lo.ToPtr(3)})
			if !llm.IsNonRecoverable(err) {
				t.Fatalf("Expected non-recoverable error, got %v", err)
			}
			if got := hits.Load(); got != 1 {
				t.Errorf("Expected exactly 1 attempt, got %d", got)
			}
			if len(timer.Delays()) != 0 {
				t.Errorf("Expected no backoff waits, got %v", timer.Delays())
			}
			st := c.ConnectionStatus()
			if st.State != llm.StateError || st.LastError == nil {
				t.Errorf("Expected error status with details, got %+v", st)
			}
		})
	}
}

func TestClient_RateLimitThenSuccess(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeCompletion(w, "done")
	})

	got, err := c.Chat(context.Background(), "hi", "")
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if got != "done" || hits.Load() != 2 {
		t.Errorf("Expected 'done' after 2 attempts, got %q after %d", got, hits.Load())
	}
	if c.ConnectionStatus().State != llm.StateConnected {
		t.Errorf("Expected connected status, got %s", c.ConnectionStatus().State)
	}
}

type failingRoundTripper struct {
	calls atomic.Int32
	err   error
}

func (f *failingRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls.Add(1)
	return nil, f.err
}

func TestClient_NetworkErrorRetriesThenFails(t *testing.T) {
	rt := &failingRoundTripper{err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}}
	timer := newRecordingTimer()
	c := New(Config{APIKey: "k", BaseURL: "http://deepseek.invalid"},
		WithHTTPClient(&http.Client{Transport: rt}),
		WithBackoffTimer(timer),
	)

	_, err := c.SendRequest(context.Background(), []llm.Message{llm.UserMessage("hi")}, RequestOptions{MaxRetries: lo.ToPtr(2)})
	if err == nil {
		t.Fatal("Expected network error")
	}
	if got := rt.calls.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
	if !strings.Contains(err.Error(), "network error") {
		t.Errorf("Expected 'network error' in %q", err.Error())
	}
	var llmErr *llm.Error
	if !errors.As(err, &llmErr) || llmErr.Code != "ECONNREFUSED" {
		t.Errorf("Expected ECONNREFUSED code, got %v", err)
	}
	status := c.ConnectionStatus()
	if status.State != llm.StateError || status.LastError == nil || status.LastError.Code != "ECONNREFUSED" {
		t.Errorf("Expected error status with ECONNREFUSED, got %+v", status)
	}
}

func TestClient_CanceledContext(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeCompletion(w, "late")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SendRequest(ctx, []llm.Message{llm.UserMessage("hi")}, RequestOptions{})
	if !llm.IsCanceled(err) {
		t.Errorf("Expected canceled error, got %v", err)
	}
}

func TestClient_AttemptTimeoutIsRetriedThenCanceled(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
			return
		case <-time.After(300 * time.Millisecond):
		}
		writeCompletion(w, "too late")
	})

	_, err := c.SendRequest(context.Background(), []llm.Message{llm.UserMessage("hi")}, RequestOptions{
		Timeout:    50 * time.Millisecond,
		MaxRetries: lo.ToPtr(1),
	})
	if !llm.IsCanceled(err) {
		t.Fatalf("Expected canceled error, got %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("Expected 2 attempts, got %d", got)
	}
	if c.ConnectionStatus().State != llm.StateError {
		t.Errorf("Expected error status, got %s", c.ConnectionStatus().State)
	}
}

func TestClient_UndecodableBodyIsUnknownError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("not json")) //nolint:errcheck // test server
	})

	_, err := c.SendRequest(context.Background(), []llm.Message{llm.UserMessage("hi")}, RequestOptions{MaxRetries: lo.ToPtr(0)})
	var llmErr *llm.Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("Expected *llm.Error, got %v", err)
	}
	if llmErr.Type != llm.ErrorTypeUnknown {
		t.Errorf("Expected unknown error type, got %q", llmErr.Type)
	}
}

// blockingServer holds every request until release is called.
type blockingServer struct {
	hits    atomic.Int32
	arrived chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newBlockingServer() *blockingServer {
	return &blockingServer{arrived: make(chan struct{}, 4), done: make(chan struct{})}
}

func (b *blockingServer) handle(w http.ResponseWriter, _ *http.Request) {
	b.hits.Add(1)
	b.arrived <- struct{}{}
	<-b.done
	writeCompletion(w, "shared")
}

func (b *blockingServer) release() {
	b.once.Do(func() { close(b.done) })
}

type sendResult struct {
	resp Response
	err  error
}

func TestClient_JoinedCallerSurvivesOtherCallerCancel(t *testing.T) {
	srv := newBlockingServer()
	c, _ := newTestClient(t, srv.handle)
	t.Cleanup(srv.release)
	msgs := []llm.Message{llm.UserMessage("hi")}
	opts := RequestOptions{RequestID: "shared"}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.SendRequest(ctxA, msgs, opts)
		errA <- err
	}()
	<-srv.arrived
	cancelA()
	if err := <-errA; !llm.IsCanceled(err) {
		t.Errorf("Expected the canceled caller to see a canceled error, got %v", err)
	}

	resB := make(chan sendResult, 1)
	go func() {
		resp, err := c.SendRequest(context.Background(), msgs, opts)
		resB <- sendResult{resp, err}
	}()
	time.Sleep(20 * time.Millisecond)
	srv.release()

	res := <-resB
	if res.err != nil {
		t.Fatalf("Expected the second caller to succeed, got %v", res.err)
	}
	if FirstContent(res.resp) != "shared" {
		t.Errorf("Unexpected content %q", FirstContent(res.resp))
	}
	if got := srv.hits.Load(); got != 1 {
		t.Errorf("Expected 1 transport call, got %d", got)
	}
}

func TestClient_JoinedCallerHonoursOwnCancel(t *testing.T) {
	srv := newBlockingServer()
	c, _ := newTestClient(t, srv.handle)
	t.Cleanup(srv.release)
	msgs := []llm.Message{llm.UserMessage("hi")}
	opts := RequestOptions{RequestID: "shared"}

	resA := make(chan sendResult, 1)
	go func() {
		resp, err := c.SendRequest(context.Background(), msgs, opts)
		resA <- sendResult{resp, err}
	}()
	<-srv.arrived

	ctxB, cancelB := context.WithCancel(context.Background())
	errB := make(chan error, 1)
	go func() {
		_, err := c.SendRequest(ctxB, msgs, opts)
		errB <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancelB()

	select {
	case err := <-errB:
		if !llm.IsCanceled(err) {
			t.Errorf("Expected canceled error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the canceled caller to return while the request is still in flight")
	}

	srv.release()
	res := <-resA
	if res.err != nil || FirstContent(res.resp) != "shared" {
		t.Errorf("Expected the first caller to succeed, got %q, %v", FirstContent(res.resp), res.err)
	}
	if got := srv.hits.Load(); got != 1 {
		t.Errorf("Expected 1 transport call, got %d", got)
	}
}

func TestClient_RateLimitRetryLogsRetryAfter(t *testing.T) {
	var hits atomic.Int32
	var logs bytes.Buffer
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeCompletion(w, "done")
	}, WithLogger(zerolog.New(&logs)))

	if _, err := c.Chat(context.Background(), "hi", ""); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	out := logs.String()
	if !strings.Contains(out, `"rate_limited":true`) {
		t.Errorf("Expected rate_limited field in retry log, got %s", out)
	}
	if !strings.Contains(out, `"retry_after":`) {
		t.Errorf("Expected retry_after field in retry log, got %s", out)
	}
}

func TestClient_CacheHitWithSameRequestID(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		writeCompletion(w, "cached")
	})
	msgs := []llm.Message{llm.UserMessage("hi")}

	for i := 0; i < 2; i++ {
		resp, err := c.SendRequest(context.Background(), msgs, RequestOptions{RequestID: "r1"})
		if err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
		if FirstContent(resp) != "cached" {
			t.Errorf("Request %d: unexpected content %q", i, FirstContent(resp))
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("Expected 1 transport call, got %d", got)
	}

	c.ClearCache()
	if _, err := c.SendRequest(context.Background(), msgs, RequestOptions{RequestID: "r1"}); err != nil {
		t.Fatalf("Request after ClearCache failed: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("Expected ClearCache to force a transport call, got %d calls", got)
	}
}

func TestClient_NoRequestIDNeverHitsCache(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		writeCompletion(w, "fresh")
	})
	msgs := []llm.Message{llm.UserMessage("hi")}

	for i := 0; i < 2; i++ {
		if _, err := c.SendRequest(context.Background(), msgs, RequestOptions{}); err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("Expected 2 transport calls, got %d", got)
	}
}

func TestClient_SkipCache(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		writeCompletion(w, "fresh")
	})
	msgs := []llm.Message{llm.UserMessage("hi")}

	for i := 0; i < 2; i++ {
		if _, err := c.SendRequest(context.Background(), msgs, RequestOptions{RequestID: "r1", SkipCache: true}); err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("Expected 2 transport calls, got %d", got)
	}
	if c.cache.Len() != 0 {
		t.Errorf("Expected SkipCache to leave the cache empty, got %d entries", c.cache.Len())
	}
}

func TestClient_FailedRequestIsNotCached(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeCompletion(w, "ok")
	})
	msgs := []llm.Message{llm.UserMessage("hi")}

	if _, err := c.SendRequest(context.Background(), msgs, RequestOptions{RequestID: "r1"}); err == nil {
		t.Fatal("Expected first request to fail")
	}
	resp, err := c.SendRequest(context.Background(), msgs, RequestOptions{RequestID: "r1"})
	if err != nil {
		t.Fatalf("Second request failed: %v", err)
	}
	if FirstContent(resp) != "ok" || hits.Load() != 2 {
		t.Errorf("Expected second request to reach the transport, hits=%d", hits.Load())
	}
}

func TestClient_RejectsInvalidRequests(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("Transport must not be called for invalid requests")
		writeCompletion(w, "x")
	})
	ctx := context.Background()

	if _, err := c.SendRequest(ctx, nil, RequestOptions{}); err == nil {
		t.Error("Expected error for empty messages")
	}
	bad := []llm.Message{{Role: "robot", Content: "hi"}}
	if _, err := c.SendRequest(ctx, bad, RequestOptions{}); err == nil {
		t.Error("Expected error for unknown role")
	}
	if _, err := c.SendRequest(ctx, []llm.Message{llm.UserMessage("hi")}, RequestOptions{Temperature: lo.ToPtr(2.5)}); err == nil {
		t.Error("Expected error for out-of-range temperature")
	}
}

func TestClient_PerCallOverrides(t *testing.T) {
	var gotBody chatCompletionRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody) //nolint:errcheck // asserted below
		writeCompletion(w, "ok")
	})

	_, err := c.SendRequest(context.Background(), []llm.Message{llm.UserMessage("hi")}, RequestOptions{
		Model:       "deepseek-reasoner",
		Temperature: lo.ToPtr(0.0),
		MaxTokens:   42,
	})
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if gotBody.Model != "deepseek-reasoner" || gotBody.Temperature != 0 || gotBody.MaxTokens != 42 {
		t.Errorf("Expected overrides to reach the body, got %+v", gotBody)
	}
}

func TestClient_Configure(t *testing.T) {
	var gotModel string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body chatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // asserted below
		gotModel = body.Model
		writeCompletion(w, "ok")
	})

	c.Configure(ConfigUpdate{Model: lo.ToPtr("deepseek-coder"), MaxRetries: lo.ToPtr(0)})
	cfg := c.Config()
	if cfg.Model != "deepseek-coder" || cfg.MaxRetries != 0 {
		t.Errorf("Expected update to apply, got %+v", cfg)
	}
	if cfg.APIKey != "test-key" {
		t.Errorf("Expected untouched fields to be kept, got key %q", cfg.APIKey)
	}
	if _, err := c.Chat(context.Background(), "hi", ""); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if gotModel != "deepseek-coder" {
		t.Errorf("Expected reconfigured model in request, got %q", gotModel)
	}
}

func TestClient_RecordsUsage(t *testing.T) {
	recorder := &fakeUsageRecorder{}
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeCompletion(w, "ok")
	}, WithUsageRecorder(recorder))

	if _, err := c.Chat(context.Background(), "hi", ""); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(recorder.records) != 1 {
		t.Fatalf("Expected 1 usage record, got %d", len(recorder.records))
	}
	rec := recorder.records[0]
	if rec.model != DefaultModel || rec.usage.InputTokens != 12 || rec.usage.OutputTokens != 3 {
		t.Errorf("Unexpected usage record %+v", rec)
	}
}

func TestClient_CheckConnection(t *testing.T) {
	var gotBody chatCompletionRequest
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewDecoder(r.Body).Decode(&gotBody) //nolint:errcheck // asserted below
		writeCompletion(w, ".")
	})

	if c.ConnectionStatus().State != llm.StateUnknown {
		t.Fatalf("Expected unknown status before any request, got %s", c.ConnectionStatus().State)
	}
	for i := 0; i < 2; i++ {
		if !c.CheckConnection(context.Background()) {
			t.Fatal("Expected connection check to succeed")
		}
	}
	if gotBody.MaxTokens != 1 {
		t.Errorf("Expected probe with max_tokens 1, got %d", gotBody.MaxTokens)
	}
	if hits.Load() != 2 {
		t.Errorf("Expected probes to bypass the cache, got %d calls", hits.Load())
	}
	if c.ConnectionStatus().State != llm.StateConnected {
		t.Errorf("Expected connected status, got %s", c.ConnectionStatus().State)
	}
}

func TestClient_CheckConnectionFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	if c.CheckConnection(context.Background()) {
		t.Fatal("Expected connection check to fail")
	}
	status := c.ConnectionStatus()
	if status.State != llm.StateError || status.LastError == nil || status.LastError.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected error status with 401, got %+v", status)
	}
}
