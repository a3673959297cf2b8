package llm

import (
	"errors"
	"sync"
	"time"
)

// ConnectionState is the last observed reachability of the LLM endpoint.
type ConnectionState string

const (
	StateUnknown   ConnectionState = "unknown"
	StateConnected ConnectionState = "connected"
	StateError     ConnectionState = "error"
)

// ErrorInfo is a display-friendly view of the last connection error.
type ErrorInfo struct {
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	StatusCode int    `json:"status,omitempty"`
}

// ConnectionStatus is a snapshot of the shared connection state.
type ConnectionStatus struct {
	State     ConnectionState `json:"status"`
	LastError *ErrorInfo      `json:"lastError"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// StatusTracker is a mutex-guarded cell holding the connection status. It is
// last-writer-wins: concurrent requests may overwrite each other's outcome.
type StatusTracker struct {
	mu     sync.RWMutex
	status ConnectionStatus
	now    func() time.Time
}

// NewStatusTracker returns a tracker in the unknown state.
func NewStatusTracker(now func() time.Time) *StatusTracker {
	if now == nil {
		now = time.Now
	}
	return &StatusTracker{
		status: ConnectionStatus{State: StateUnknown},
		now:    now,
	}
}

// MarkConnected records a successful round trip and clears the last error.
func (t *StatusTracker) MarkConnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = ConnectionStatus{State: StateConnected, UpdatedAt: t.now()}
}

// MarkError records a failed request.
func (t *StatusTracker) MarkError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = ConnectionStatus{State: StateError, LastError: describeError(err), UpdatedAt: t.now()}
}

// Snapshot returns a copy of the current status.
func (t *StatusTracker) Snapshot() ConnectionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.status
	if out.LastError != nil {
		info := *out.LastError
		out.LastError = &info
	}
	return out
}

func describeError(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Message: err.Error()}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		info.Code = llmErr.Code
		info.StatusCode = llmErr.StatusCode
	}
	return info
}
