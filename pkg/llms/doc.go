// Package llms provides a provider-neutral model of a chat conversation with a Language Model.
//
// A conversation is a sequence of role-tagged messages, each made of ordered parts:
// text, tool calls requested by the model, and tool call responses.
// Provider subpackages translate this model to and from their wire formats.
//
// The `llms.go` file contains the Model interface.
//
// The `options.go` file provides the call options and tool definitions.
package llms
