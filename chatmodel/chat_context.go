// Package chatmodel provides the per-query chat context carried through
// context.Context.
package chatmodel

import (
	"context"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xdb/pkg/flake"
)

// ChatContext is the context of one chat: the ID under which the transcript
// is archived, the session it belongs to, and arbitrary metadata.
type ChatContext interface {
	GetChatID() string
	SetChatID(chatID string)
	// GetSessionID returns the ID of the interactive session
	GetSessionID() string
	// GetMetadata retrieves metadata by key
	GetMetadata(key string) (value any, ok bool)
	// SetMetadata sets metadata by key
	SetMetadata(key string, value any)
}

type chatContext struct {
	lock      sync.RWMutex
	chatID    string
	sessionID string
	metadata  sync.Map
}

func (c *chatContext) GetChatID() string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.chatID
}

func (c *chatContext) SetChatID(chatID string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.chatID = chatID
}

func (c *chatContext) GetSessionID() string {
	return c.sessionID
}

func (c *chatContext) GetMetadata(key string) (value any, ok bool) {
	return c.metadata.Load(key)
}

func (c *chatContext) SetMetadata(key string, value any) {
	c.metadata.Store(key, value)
}

// NewChatContext returns ChatContext, empty IDs are generated.
func NewChatContext(sessionID, chatID string) ChatContext {
	return &chatContext{
		sessionID: values.StringsCoalesce(sessionID, NewChatID()),
		chatID:    values.StringsCoalesce(chatID, NewChatID()),
	}
}

type contextKey int

const (
	keyContext contextKey = iota
)

// WithChatContext returns a new context with ChatContext value
func WithChatContext(ctx context.Context, chatCtx ChatContext) context.Context {
	return context.WithValue(ctx, keyContext, chatCtx)
}

// GetChatContext retrieves the ChatContext from the context
func GetChatContext(ctx context.Context) ChatContext {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v
	}
	return nil
}

// GetChatID retrieves the chat ID from the provided context.
// If the context does not contain a ChatContext, it returns an empty string.
func GetChatID(ctx context.Context) string {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v.GetChatID()
	}
	return ""
}

// SetChatID sets the chat ID of the ChatContext in the context.
func SetChatID(ctx context.Context, chatID string) error {
	v := GetChatContext(ctx)
	if v == nil {
		return errors.New("chat context not found")
	}
	v.SetChatID(chatID)
	return nil
}

// EnsureChatContext returns the context with a ChatContext,
// a new one is created if the context does not have it.
func EnsureChatContext(ctx context.Context) (context.Context, ChatContext) {
	if v := GetChatContext(ctx); v != nil {
		return ctx, v
	}
	v := NewChatContext("", "")
	return WithChatContext(ctx, v), v
}

// NewChatID generates a new chat ID using the flake ID generator,
// the IDs increase over time.
func NewChatID() string {
	return strconv.FormatUint(flake.DefaultIDGenerator.NextID(), 10)
}
