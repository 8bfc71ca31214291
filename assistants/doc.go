// Package assistants provides the turn engine that drives a conversation
// between the model and the tools of the connected servers.
//
// A query is processed to completion before the next one is accepted: the
// model response blocks are handled in order, every tool call is dispatched
// synchronously and its result is fed back to the model, until the
// termination policy reports the answer as final.
package assistants
