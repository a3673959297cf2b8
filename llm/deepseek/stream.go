package deepseek

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	sseDataPrefix = "data: "
	sseDone       = "[DONE]"
	// maxStreamLine bounds a single SSE line.
	maxStreamLine = 1 << 20
)

// readStream consumes an event-stream body and calls onChunk for every
// non-empty content delta. It returns when the [DONE] marker is seen or the
// body ends. Malformed fragments are logged and skipped.
func readStream(body io.Reader, onChunk func(string), logger zerolog.Logger) (int, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	chunks := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		data := strings.TrimPrefix(line, sseDataPrefix)
		if data == sseDone {
			return chunks, nil
		}

		var event openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			logger.Warn().Err(err).Str("fragment", summarizePayloadSnippet(data)).Msg("Skipping malformed stream fragment")
			continue
		}
		if len(event.Choices) == 0 {
			continue
		}
		if content := event.Choices[0].Delta.Content; content != "" {
			chunks++
			onChunk(content)
		}
	}
	return chunks, scanner.Err()
}
