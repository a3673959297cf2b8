package llm

import (
	"context"
)

// Chatter is the narrow surface the tool server and CLI need from an LLM
// client. The DeepSeek client implements it.
type Chatter interface {
	// Chat sends prompt with an optional system prompt and returns the text
	// of the first choice.
	Chat(ctx context.Context, prompt, systemPrompt string) (string, error)

	// Summarize returns a summary of text in at most maxWords words.
	Summarize(ctx context.Context, text string, maxWords int) (string, error)

	// ExtractInformation asks the model for the named fields as JSON.
	ExtractInformation(ctx context.Context, text string, fields []string) (map[string]any, error)

	// AnswerQuestion answers question using only the supplied context.
	AnswerQuestion(ctx context.Context, question, context string) (string, error)

	// GenerateCreativeText produces free-form creative output.
	GenerateCreativeText(ctx context.Context, prompt string) (string, error)
}

// ConnectionChecker probes the endpoint and reports the shared status.
type ConnectionChecker interface {
	CheckConnection(ctx context.Context) bool
	ConnectionStatus() ConnectionStatus
}
