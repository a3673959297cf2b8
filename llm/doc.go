// Package llm provides the provider-neutral vocabulary shared by the ABIA
// LLM client, its CLI and its tool server.
//
// # Core Concepts
//
//  1. Messages: Message carries a closed MessageRole (system, user, assistant)
//     and text content. An ordered slice of messages forms a conversation.
//
//  2. Errors: Error classifies transport failures. 400, 401 and 404 responses
//     are non-recoverable; network failures, timeouts and other statuses are
//     Retryable. ErrNotConfigured is returned before any I/O when no API key
//     is available.
//
//  3. Connection status: StatusTracker is a mutex-guarded, last-writer-wins
//     cell updated after every terminal request outcome.
//
//  4. Interfaces: Chatter and ConnectionChecker are the narrow surfaces used
//     by the mcp server, the monitor and the CLI.
//
// Usage Example
//
//	client := deepseek.New(deepseek.Config{APIKey: key})
//	reply, err := client.Chat(ctx, "What is 2+2?", "You are terse.")
package llm
