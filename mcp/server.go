package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abia-desktop/abia/llm"
	"github.com/abia-desktop/abia/llm/deepseek"
	"github.com/abia-desktop/abia/usage"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

const (
	serverName    = "abia"
	serverVersion = "1.0.0"
)

// Client is what the tool server needs from the LLM client.
type Client interface {
	llm.Chatter
	llm.ConnectionChecker
	ChatWithOptions(ctx context.Context, prompt, systemPrompt string, opts deepseek.RequestOptions) (string, error)
	ClearCache()
}

// StatsSource reports recorded token usage.
type StatsSource interface {
	Stats(ctx context.Context) (usage.Stats, error)
}

// Server exposes the LLM client operations as MCP tools.
type Server struct {
	client Client
	stats  StatsSource
	logger zerolog.Logger
	mcp    *server.MCPServer
}

// NewServer registers every tool. stats may be nil, in which case the
// token_stats tool is not offered.
func NewServer(client Client, stats StatsSource, logger zerolog.Logger) *Server {
	s := &Server{
		client: client,
		stats:  stats,
		logger: logger.With().Str("component", "mcpServer").Logger(),
		mcp: server.NewMCPServer(serverName, serverVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server, e.g. for in-process clients.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP over stdin/stdout until the input is closed.
func (s *Server) ServeStdio() error {
	s.logger.Info().Msg("Serving MCP tools over stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("chat",
		mcp.WithDescription("Send a prompt to DeepSeek and return the reply"),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("User prompt")),
		mcp.WithString("system_prompt", mcp.Description("Optional system prompt")),
		mcp.WithString("request_id", mcp.Description("Optional id; identical chats with the same id are answered from the response cache")),
	), s.handleChat)

	s.mcp.AddTool(mcp.NewTool("summarize",
		mcp.WithDescription("Summarise a text"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to summarise")),
		mcp.WithNumber("max_words", mcp.Description("Maximum summary length in words (default 200)")),
	), s.handleSummarize)

	s.mcp.AddTool(mcp.NewTool("extract_information",
		mcp.WithDescription("Extract named fields from a text as JSON"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Source text")),
		mcp.WithArray("fields", mcp.Required(), mcp.Description("Field names to extract"), mcp.Items(map[string]any{"type": "string"})),
	), s.handleExtractInformation)

	s.mcp.AddTool(mcp.NewTool("answer_question",
		mcp.WithDescription("Answer a question using only the supplied context"),
		mcp.WithString("question", mcp.Required()),
		mcp.WithString("context", mcp.Required()),
	), s.handleAnswerQuestion)

	s.mcp.AddTool(mcp.NewTool("generate_creative_text",
		mcp.WithDescription("Generate creative text from a prompt"),
		mcp.WithString("prompt", mcp.Required()),
	), s.handleGenerateCreativeText)

	s.mcp.AddTool(mcp.NewTool("check_connection",
		mcp.WithDescription("Probe the DeepSeek API and report the connection status"),
	), s.handleCheckConnection)

	s.mcp.AddTool(mcp.NewTool("clear_cache",
		mcp.WithDescription("Drop every cached chat reply"),
	), s.handleClearCache)

	if s.stats != nil {
		s.mcp.AddTool(mcp.NewTool("token_stats",
			mcp.WithDescription("Report recorded token usage for today, this month and all time"),
		), s.handleTokenStats)
	}
}

func (s *Server) handleChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reply, err := s.client.ChatWithOptions(ctx, prompt, req.GetString("system_prompt", ""), deepseek.RequestOptions{
		RequestID: req.GetString("request_id", ""),
	})
	if err != nil {
		return s.toolError("chat", err), nil
	}
	return mcp.NewToolResultText(reply), nil
}

func (s *Server) handleSummarize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	summary, err := s.client.Summarize(ctx, text, req.GetInt("max_words", 0))
	if err != nil {
		return s.toolError("summarize", err), nil
	}
	return mcp.NewToolResultText(summary), nil
}

func (s *Server) handleExtractInformation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fields, err := req.RequireStringSlice("fields")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	extracted, err := s.client.ExtractInformation(ctx, text, fields)
	if err != nil {
		return s.toolError("extract_information", err), nil
	}
	return jsonResult(extracted)
}

func (s *Server) handleAnswerQuestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	contextText, err := req.RequireString("context")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	answer, err := s.client.AnswerQuestion(ctx, question, contextText)
	if err != nil {
		return s.toolError("answer_question", err), nil
	}
	return mcp.NewToolResultText(answer), nil
}

func (s *Server) handleGenerateCreativeText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := s.client.GenerateCreativeText(ctx, prompt)
	if err != nil {
		return s.toolError("generate_creative_text", err), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleCheckConnection(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ok := s.client.CheckConnection(ctx)
	return jsonResult(map[string]any{
		"connected": ok,
		"status":    s.client.ConnectionStatus(),
	})
}

func (s *Server) handleClearCache(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.client.ClearCache()
	s.logger.Info().Msg("Response cache cleared")
	return mcp.NewToolResultText("cache cleared"), nil
}

func (s *Server) handleTokenStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		return s.toolError("token_stats", err), nil
	}
	return jsonResult(stats)
}

func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	s.logger.Error().Err(err).Str("tool", tool).Msg("Tool call failed")
	return mcp.NewToolResultErrorFromErr(fmt.Sprintf("%s failed", tool), err)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
