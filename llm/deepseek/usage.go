package deepseek

import (
	"context"
	"math"
	"strings"

	"github.com/abia-desktop/abia/llm"
	"github.com/samber/lo"
)

// UsageRecorder persists token usage for successful requests.
type UsageRecorder interface {
	Record(ctx context.Context, model string, usage llm.Usage) error
}

// perMessageOverhead approximates role and framing tokens per message.
const perMessageOverhead = 4

// EstimateTokens approximates the token count of text as words/0.75.
func EstimateTokens(text string) int64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int64(math.Ceil(float64(words) / 0.75))
}

// EstimateMessagesTokens sums EstimateTokens over msgs plus a fixed overhead
// per message.
func EstimateMessagesTokens(msgs []llm.Message) int64 {
	total := lo.SumBy(msgs, func(m llm.Message) int64 { return EstimateTokens(m.Content) })
	return total + int64(len(msgs)*perMessageOverhead)
}

// responseUsage prefers the token counts reported by the API and falls back
// to estimates for whichever side is missing.
func responseUsage(msgs []llm.Message, resp Response) llm.Usage {
	in := int64(resp.Usage.PromptTokens)
	if in == 0 {
		in = EstimateMessagesTokens(msgs)
	}
	out := int64(resp.Usage.CompletionTokens)
	if out == 0 {
		out = EstimateTokens(FirstContent(resp))
	}
	return llm.Usage{InputTokens: in, OutputTokens: out}
}

// FirstContent returns the text of the first choice, or "".
func FirstContent(resp Response) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}
