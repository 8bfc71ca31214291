// Package llmfactory creates the model client from the model configuration.
package llmfactory
