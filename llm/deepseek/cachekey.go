package deepseek

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/abia-desktop/abia/llm"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// CacheKey is the structured identity of a cacheable request. Only role and
// content of each message take part in it.
type CacheKey struct {
	Messages    []keyMessage `json:"messages"`
	Model       string       `json:"model"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
	RequestID   string       `json:"request_id"`
}

type keyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewCacheKey builds the key for a request. An empty requestID is replaced by
// a freshly generated one, so only callers that reuse an explicit request id
// can ever hit the cache.
func NewCacheKey(msgs []llm.Message, model string, temperature float64, maxTokens int, requestID string) CacheKey {
	if requestID == "" {
		requestID = NewRequestID()
	}
	return CacheKey{
		Messages: lo.Map(msgs, func(m llm.Message, _ int) keyMessage {
			return keyMessage{Role: string(m.Role), Content: m.Content}
		}),
		Model:       model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		RequestID:   requestID,
	}
}

// String returns the SHA-256 digest of the key's canonical JSON form.
func (k CacheKey) String() string {
	// Struct fields marshal in declaration order, so the encoding is stable.
	data, err := json.Marshal(k)
	if err != nil {
		// Only strings and numbers are encoded; fall back to a unique key.
		return NewRequestID()
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewRequestID returns a new opaque request identifier.
func NewRequestID() string {
	return "req_" + uuid.NewString()
}
