package deepseek

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abia-desktop/abia/llm"
	"github.com/samber/lo"
)

const (
	summarySystemPrompt    = "You are an assistant specialised in writing concise, informative summaries."
	extractionSystemPrompt = "You are an assistant specialised in extracting precise information from text. Reply in JSON only."
	creativeSystemPrompt   = "You are a creative assistant who writes original, engaging text."
	answerSystemPrompt     = "You are an assistant who answers questions precisely, relying only on the supplied context."

	connectionProbeSystemPrompt = "You are an intelligent assistant."
	connectionProbeUserPrompt   = "Connection test"
	connectionProbeTimeout      = 10 * time.Second

	// DefaultSummaryWords bounds Summarize when maxWords is not positive.
	DefaultSummaryWords = 200

	summaryTemperature    = 0.3
	extractionTemperature = 0.1
	answerTemperature     = 0.3
	creativeTemperature   = 0.9
	creativeMaxTokens     = 2000

	extractionErrorMessage = "invalid response format"
)

// Chat sends prompt, preceded by systemPrompt when it is non-empty, and
// returns the first choice's content or "".
func (c *Client) Chat(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return c.ChatWithOptions(ctx, prompt, systemPrompt, RequestOptions{})
}

// ChatWithOptions is Chat with per-call overrides.
func (c *Client) ChatWithOptions(ctx context.Context, prompt, systemPrompt string, opts RequestOptions) (string, error) {
	msgs := make([]llm.Message, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, llm.SystemMessage(systemPrompt))
	}
	msgs = append(msgs, llm.UserMessage(prompt))

	resp, err := c.SendRequest(ctx, msgs, opts)
	if err != nil {
		return "", err
	}
	return FirstContent(resp), nil
}

// Summarize asks for a summary of text in at most maxWords words.
func (c *Client) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	if maxWords <= 0 {
		maxWords = DefaultSummaryWords
	}
	prompt := fmt.Sprintf("Summarise the following text in at most %d words:\n\n%s", maxWords, text)
	return c.ChatWithOptions(ctx, prompt, summarySystemPrompt, RequestOptions{Temperature: lo.ToPtr(summaryTemperature)})
}

// ExtractInformation asks the model for fields as a JSON object. When the
// reply cannot be parsed the result holds "error" and "rawResponse" instead
// of failing.
func (c *Client) ExtractInformation(ctx context.Context, text string, fields []string) (map[string]any, error) {
	if len(fields) == 0 {
		return nil, errors.New("extract information: at least one field is required")
	}
	prompt := fmt.Sprintf(
		"Extract the following information from the text below. Reply only in JSON with the requested fields.\n\nFields to extract: %s\n\nText:\n%s",
		strings.Join(fields, ", "),
		text,
	)
	reply, err := c.ChatWithOptions(ctx, prompt, extractionSystemPrompt, RequestOptions{Temperature: lo.ToPtr(extractionTemperature)})
	if err != nil {
		return nil, err
	}

	var parsed map[string]any
	if err := DecodeLLMJSON(reply, &parsed); err != nil {
		c.logger.Warn().Err(err).Msg("Model reply was not valid JSON")
		return map[string]any{
			"error":       extractionErrorMessage,
			"rawResponse": reply,
		}, nil
	}
	return parsed, nil
}

// GenerateCreativeText produces creative text with the default high
// temperature and token budget.
func (c *Client) GenerateCreativeText(ctx context.Context, prompt string) (string, error) {
	return c.GenerateCreativeTextWithOptions(ctx, prompt, RequestOptions{})
}

// GenerateCreativeTextWithOptions honours only Temperature and MaxTokens from opts.
func (c *Client) GenerateCreativeTextWithOptions(ctx context.Context, prompt string, opts RequestOptions) (string, error) {
	temperature := lo.FromPtrOr(opts.Temperature, creativeTemperature)
	if temperature == 0 {
		temperature = creativeTemperature
	}
	return c.ChatWithOptions(ctx, prompt, creativeSystemPrompt, RequestOptions{
		Temperature: &temperature,
		MaxTokens:   lo.Ternary(opts.MaxTokens > 0, opts.MaxTokens, creativeMaxTokens),
	})
}

// AnswerQuestion answers question from the supplied context only.
func (c *Client) AnswerQuestion(ctx context.Context, question, context string) (string, error) {
	prompt := fmt.Sprintf("Question: %s\n\nContext: %s", question, context)
	return c.ChatWithOptions(ctx, prompt, answerSystemPrompt, RequestOptions{Temperature: lo.ToPtr(answerTemperature)})
}

// DecodeLLMJSON decodes JSON from an LLM reply, tolerating code fences and
// prose around a single object or array.
func DecodeLLMJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, summarizePayloadSnippet(trimmed))
	}
	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("%w (sanitized payload snippet: %s)", err, summarizePayloadSnippet(sanitized))
	}
	return nil
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFenceBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
