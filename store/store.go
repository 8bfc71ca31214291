// Package store provides the transcript archive of the chats.
//
// A chat is addressed by the session and chat IDs of the chatmodel.ChatContext
// carried in context.Context.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/chatmodel"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "store")

// ErrInvalidChatContext is returned when the context has no chat context.
var ErrInvalidChatContext = errors.New("invalid chat context")

// DefaultMaxMessages is the number of messages kept per chat, if not configured.
const DefaultMaxMessages = 200

// MessageStore stores the messages of the chat from context.
type MessageStore interface {
	Messages(ctx context.Context) []llms.Message
	Add(ctx context.Context, msgs ...llms.Message) error
	Reset(ctx context.Context) error
}

// MessageStoreManager manages the chats of a session.
type MessageStoreManager interface {
	MessageStore
	// UpdateChat creates or updates the chat from context with title and metadata.
	UpdateChat(ctx context.Context, title string, metadata map[string]any) error
	// ListChats returns the chat IDs of the session from context.
	ListChats(ctx context.Context) ([]string, error)
	// GetChatInfo returns the chat with messages, empty id means the chat from context.
	GetChatInfo(ctx context.Context, id string) (*ChatInfo, error)
	// Cleanup deletes chats of the session not updated within olderThan.
	Cleanup(ctx context.Context, sessionID string, olderThan time.Duration) (uint32, error)
	// Close releases the backend.
	Close() error
}

// ChatInfo describes an archived chat.
type ChatInfo struct {
	SessionID string         `json:"session_id"`
	ChatID    string         `json:"chat_id"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Messages  []llms.Message `json:"messages,omitempty"`
}

func newChatInfo(sessionID, chatID string) *ChatInfo {
	now := time.Now().UTC()
	return &ChatInfo{
		SessionID: sessionID,
		ChatID:    chatID,
		Title:     "New Chat",
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  make(map[string]any),
	}
}

func (c *ChatInfo) update(title string, metadata map[string]any) {
	if title != "" {
		c.Title = title
	}
	if metadata != nil {
		if c.Metadata == nil {
			c.Metadata = make(map[string]any)
		}
		for k, v := range metadata {
			c.Metadata[k] = v
		}
	}
	c.UpdatedAt = time.Now().UTC()
}

func getSessionAndChatID(ctx context.Context) (string, string, error) {
	cc := chatmodel.GetChatContext(ctx)
	if cc == nil || cc.GetChatID() == "" {
		return "", "", ErrInvalidChatContext
	}
	return cc.GetSessionID(), cc.GetChatID(), nil
}
