package store

import (
	"context"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/x/values"
)

type memoryChat struct {
	info     *ChatInfo
	messages []llms.Message
}

type inMemory struct {
	mu          sync.RWMutex
	maxMessages int
	chats       map[string]*memoryChat
}

// NewMemoryStore returns a process local store,
// maxMessages limits the messages kept per chat, 0 uses the default.
func NewMemoryStore(maxMessages int) MessageStoreManager {
	return &inMemory{
		maxMessages: values.NumbersCoalesce(maxMessages, DefaultMaxMessages),
		chats:       make(map[string]*memoryChat),
	}
}

func memoryKey(sessionID, chatID string) string {
	return path.Join(sessionID, chatID)
}

func (m *inMemory) Messages(ctx context.Context) []llms.Message {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.chats[memoryKey(sessionID, chatID)]; c != nil {
		return slices.Clone(c.messages)
	}
	return nil
}

func (m *inMemory) Add(ctx context.Context, msgs ...llms.Message) error {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.getOrCreate(sessionID, chatID)
	c.messages = append(c.messages, msgs...)
	if n := len(c.messages); n > m.maxMessages {
		c.messages = slices.Clone(c.messages[n-m.maxMessages:])
	}
	c.info.update("", nil)
	return nil
}

func (m *inMemory) getOrCreate(sessionID, chatID string) *memoryChat {
	key := memoryKey(sessionID, chatID)
	c := m.chats[key]
	if c == nil {
		c = &memoryChat{info: newChatInfo(sessionID, chatID)}
		m.chats[key] = c
	}
	return c
}

func (m *inMemory) Reset(ctx context.Context) error {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, memoryKey(sessionID, chatID))
	return nil
}

func (m *inMemory) UpdateChat(ctx context.Context, title string, metadata map[string]any) error {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(sessionID, chatID).info.update(title, metadata)
	return nil
}

func (m *inMemory) ListChats(ctx context.Context) ([]string, error) {
	sessionID, _, err := getSessionAndChatID(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list []string
	for _, c := range m.chats {
		if c.info.SessionID == sessionID {
			list = append(list, c.info.ChatID)
		}
	}
	slices.Sort(list)
	return list, nil
}

func (m *inMemory) GetChatInfo(ctx context.Context, id string) (*ChatInfo, error) {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		return nil, err
	}
	id = values.StringsCoalesce(id, chatID)

	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.getOrCreate(sessionID, id)
	info := *c.info
	info.Metadata = make(map[string]any, len(c.info.Metadata))
	for k, v := range c.info.Metadata {
		info.Metadata[k] = v
	}
	info.Messages = slices.Clone(c.messages)
	return &info, nil
}

func (m *inMemory) Cleanup(_ context.Context, sessionID string, olderThan time.Duration) (uint32, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := uint32(0)
	for key, c := range m.chats {
		if c.info.SessionID == sessionID && c.info.UpdatedAt.Before(cutoff) {
			delete(m.chats, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *inMemory) Close() error {
	return nil
}
