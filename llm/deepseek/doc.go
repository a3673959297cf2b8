// Package deepseek is the client for the DeepSeek chat completion API.
//
// A Client resolves per-call options against its configuration, consults a
// bounded TTL cache keyed by request content and request id, and sends the
// request through a transport that retries transient failures with
// exponential backoff. Every outcome updates a shared connection status.
//
// The prompt helpers (Chat, Summarize, ExtractInformation, AnswerQuestion,
// GenerateCreativeText) wrap SendRequest with fixed system prompts and
// sampling defaults.
package deepseek
