package llms

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// CallOption sets a field of CallOptions.
type CallOption func(*CallOptions)

// CallOptions are the per request settings of a model call.
// The zero value of a field means the model default.
type CallOptions struct {
	// Model overrides the model name of the client.
	Model string
	// MaxTokens limits the tokens of the response.
	MaxTokens int
	// Temperature of the sampling, between 0 and 1.
	Temperature float64
	// StreamingFunc receives the text chunks as they are generated.
	// An error returned by the function stops the stream.
	StreamingFunc func(ctx context.Context, chunk []byte) error

	// Tools offered to the model.
	Tools []Tool
}

// Apply applies the options in order, and returns o.
func (o *CallOptions) Apply(options ...CallOption) *CallOptions {
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Tool is a tool offered to the model.
type Tool struct {
	// Type is always "function".
	Type string `json:"type"`
	// Function describes the callable.
	Function *FunctionDefinition `json:"function,omitempty"`
}

// FunctionDefinition describes a callable tool.
type FunctionDefinition struct {
	// Name is the unique name of the tool.
	Name string `json:"name"`
	// Description tells the model when to use the tool.
	Description string `json:"description"`
	// Parameters is the decoded schema of the arguments.
	Parameters *jsonschema.Schema `json:"parameters,omitempty"`
	// InputSchema is the JSON schema of the arguments as published by the
	// tool provider. When set, it is sent to the model as is, instead of Parameters.
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// WithModel overrides the model name.
func WithModel(model string) CallOption {
	return func(o *CallOptions) {
		o.Model = model
	}
}

// WithMaxTokens limits the tokens of the response.
func WithMaxTokens(maxTokens int) CallOption {
	return func(o *CallOptions) {
		o.MaxTokens = maxTokens
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) CallOption {
	return func(o *CallOptions) {
		o.Temperature = temperature
	}
}

// WithStreamingFunc streams the text chunks to the function.
func WithStreamingFunc(streamingFunc func(ctx context.Context, chunk []byte) error) CallOption {
	return func(o *CallOptions) {
		o.StreamingFunc = streamingFunc
	}
}

// WithTools offers the tools to the model.
func WithTools(tools []Tool) CallOption {
	return func(o *CallOptions) {
		o.Tools = tools
	}
}
