package assistants

import (
	"context"

	"github.com/effective-security/mcpchat/pkg/llms"
)

// IAssistant is the interface of the query processor.
type IAssistant interface {
	// Name returns the name of the Assistant.
	Name() string
	// ProcessQuery processes the query to completion.
	ProcessQuery(ctx context.Context, query string) (*Result, error)
}

// Callback receives the events of a query.
// Callbacks are called from the goroutine that processes the query.
type Callback interface {
	OnAssistantStart(ctx context.Context, agent IAssistant, input string)
	OnAssistantEnd(ctx context.Context, agent IAssistant, input string, result *Result)
	OnAssistantError(ctx context.Context, agent IAssistant, input string, err error, messages []llms.Message)

	OnAssistantLLMCallStart(ctx context.Context, agent IAssistant, llm llms.Model, payload []llms.Message)
	OnAssistantLLMCallEnd(ctx context.Context, agent IAssistant, llm llms.Model, resp *llms.ContentResponse)

	// OnText is called for each text block of the model response, as soon as
	// the block is processed.
	OnText(ctx context.Context, agent IAssistant, text string)

	OnToolStart(ctx context.Context, agent IAssistant, tool, input string)
	OnToolEnd(ctx context.Context, agent IAssistant, tool, input, output string)
	// OnToolError is called when the tool result is flagged as an error.
	OnToolError(ctx context.Context, agent IAssistant, tool, input, output string)
}
