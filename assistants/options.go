package assistants

import (
	"context"

	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/store"
)

// TerminationPolicy decides when a model response ends the query.
type TerminationPolicy string

const (
	// TerminateOnSingleText ends the query when the response consists of
	// exactly one text block.
	TerminateOnSingleText TerminationPolicy = "single_text"
	// TerminateOnNoToolUse ends the query when the response has no tool calls.
	TerminateOnNoToolUse TerminationPolicy = "no_tool_use"
)

// IsTerminal returns true if the response ends the query.
// An empty response is always terminal.
func (p TerminationPolicy) IsTerminal(resp *llms.ContentResponse) bool {
	if resp == nil || len(resp.Choices) == 0 {
		return true
	}
	if p == TerminateOnNoToolUse {
		return !resp.HasToolCalls()
	}
	return resp.IsSingleText()
}

// Option is a function that can be used to modify the behavior of the Assistant Config.
type Option func(*Config)

type Config struct {
	// Name of the assistant, used in logs and metrics
	Name string

	// SystemPrompt is sent as the system message, if not empty
	SystemPrompt string

	// MaxTurns limits the model calls per query, 0 is unlimited
	MaxTurns int

	// Termination is the policy to end the query
	Termination TerminationPolicy

	// CallbackHandler is the callback handler for the query events
	CallbackHandler Callback

	// Store archives the conversation of each query, if set
	Store store.MessageStore

	// Model is the model to use in an LLM call.
	Model    string
	modelSet bool

	// MaxTokens is the maximum number of tokens to generate to use in an LLM call.
	MaxTokens    int
	maxTokensSet bool

	// Temperature is the temperature for sampling to use in an LLM call, between 0 and 1.
	Temperature    float64
	temperatureSet bool

	// StreamingFunc is a function to be called for each chunk of a streaming response.
	// Return an error to stop streaming early.
	StreamingFunc func(ctx context.Context, chunk []byte) error
}

// DefaultName is the name of the assistant, if not configured.
const DefaultName = "chatbot"

func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		Name:        DefaultName,
		Termination: TerminateOnSingleText,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithName sets the assistant name.
func WithName(name string) Option {
	return func(o *Config) {
		if name != "" {
			o.Name = name
		}
	}
}

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Config) {
		o.SystemPrompt = prompt
	}
}

// WithMaxTurns limits the model calls per query.
func WithMaxTurns(turns int) Option {
	return func(o *Config) {
		o.MaxTurns = turns
	}
}

// WithTermination sets the termination policy, empty value keeps the default.
func WithTermination(policy TerminationPolicy) Option {
	return func(o *Config) {
		if policy != "" {
			o.Termination = policy
		}
	}
}

// WithCallback allows setting a custom Callback Handler.
func WithCallback(callbackHandler Callback) Option {
	return func(o *Config) {
		o.CallbackHandler = callbackHandler
	}
}

// WithStore sets the transcript archive.
func WithStore(st store.MessageStore) Option {
	return func(o *Config) {
		o.Store = st
	}
}

// WithModel is an option for LLM.Call.
func WithModel(model string) Option {
	return func(o *Config) {
		o.Model = model
		o.modelSet = true
	}
}

// WithMaxTokens is an option for LLM.Call.
func WithMaxTokens(maxTokens int) Option {
	return func(o *Config) {
		o.MaxTokens = maxTokens
		o.maxTokensSet = true
	}
}

// WithTemperature is an option for LLM.Call.
func WithTemperature(temperature float64) Option {
	return func(o *Config) {
		o.Temperature = temperature
		o.temperatureSet = true
	}
}

// WithStreamingFunc is an option for LLM.Call that allows streaming responses.
func WithStreamingFunc(streamingFunc func(ctx context.Context, chunk []byte) error) Option {
	return func(o *Config) {
		o.StreamingFunc = streamingFunc
	}
}

// GetCallOptions returns the options for LLM call.
func (c *Config) GetCallOptions(tools []llms.Tool) []llms.CallOption {
	var callOptions []llms.CallOption
	if c.modelSet {
		callOptions = append(callOptions, llms.WithModel(c.Model))
	}
	if c.maxTokensSet {
		callOptions = append(callOptions, llms.WithMaxTokens(c.MaxTokens))
	}
	if c.temperatureSet {
		callOptions = append(callOptions, llms.WithTemperature(c.Temperature))
	}
	if len(tools) > 0 {
		callOptions = append(callOptions, llms.WithTools(tools))
	}
	if c.StreamingFunc != nil {
		callOptions = append(callOptions, llms.WithStreamingFunc(c.StreamingFunc))
	}
	return callOptions
}
