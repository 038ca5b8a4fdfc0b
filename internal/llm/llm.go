// Package llm provides a minimal client interface for generative models,
// used to score relevance when no hosted rerank service is configured.
package llm

import "context"

// GenerateOptions configures one Generate call.
type GenerateOptions struct {
	// Model overrides the client's default model.
	Model        string
	SystemPrompt string

	// Temperature 0 is deterministic.
	Temperature float32
	MaxTokens   int

	// JSON constrains the output to a JSON document.
	JSON bool
}

// LLM is a blocking text completion client.
type LLM interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
