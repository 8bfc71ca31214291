package store

import (
	"context"
	"encoding/json"
	"path"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// The redis store implements MessageStoreManager with Redis as the backend.
// The keys namespace is organized as follows:
// - `<prefix>/chatstore/<sessionID>/messages/<chatID>` list of chat messages
// - `<prefix>/chatstore/<sessionID>/info/<chatID>` chat metadata
// - `<prefix>/chatstore/<sessionID>/chats` set of chat IDs of the session

// RedisOptions configures the redis store.
type RedisOptions struct {
	Prefix string
	// MaxMessages limits the messages kept per chat, 0 uses the default
	MaxMessages int
	// TTL expires the chat keys after the last update, 0 never expires
	TTL time.Duration
}

type redisStore struct {
	client      redis.UniversalClient
	prefix      string
	maxMessages int64
	ttl         time.Duration
}

// NewRedisStore returns a store backed by the Redis client.
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) MessageStoreManager {
	return &redisStore{
		client:      client,
		prefix:      opts.Prefix,
		maxMessages: int64(values.NumbersCoalesce(opts.MaxMessages, DefaultMaxMessages)),
		ttl:         opts.TTL,
	}
}

func (m *redisStore) getRedisMessagesKey(sessionID, chatID string) string {
	return path.Join(m.prefix, "chatstore", sessionID, "messages", chatID)
}

func (m *redisStore) getRedisChatInfoKey(sessionID, chatID string) string {
	return path.Join(m.prefix, "chatstore", sessionID, "info", chatID)
}

func (m *redisStore) getRedisChatListKey(sessionID string) string {
	return path.Join(m.prefix, "chatstore", sessionID, "chats")
}

func (m *redisStore) Messages(ctx context.Context) []llms.Message {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "reason", "getSessionAndChatID", "err", err.Error())
		return nil
	}
	return m.messages(ctx, sessionID, chatID)
}

func (m *redisStore) messages(ctx context.Context, sessionID, chatID string) []llms.Message {
	key := m.getRedisMessagesKey(sessionID, chatID)
	data, err := m.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "reason", "LRange", "err", err.Error())
		return nil
	}

	var messages []llms.Message
	for _, item := range data {
		var msg llms.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			logger.ContextKV(ctx, xlog.ERROR, "reason", "unmarshal message", "err", err.Error())
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

func (m *redisStore) Add(ctx context.Context, msgs ...llms.Message) error {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	items := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal message")
		}
		items = append(items, data)
	}

	key := m.getRedisMessagesKey(sessionID, chatID)
	pipe := m.client.Pipeline()
	pipe.RPush(ctx, key, items...)
	pipe.LTrim(ctx, key, -m.maxMessages, -1)
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to store message in Redis")
	}

	// Update the time
	return m.UpdateChat(ctx, "", nil)
}

func (m *redisStore) Reset(ctx context.Context) error {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		return err
	}

	pipe := m.client.Pipeline()
	pipe.Del(ctx, m.getRedisMessagesKey(sessionID, chatID))
	pipe.Del(ctx, m.getRedisChatInfoKey(sessionID, chatID))
	pipe.SRem(ctx, m.getRedisChatListKey(sessionID), chatID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to reset chat in Redis")
	}
	return nil
}

// UpdateChat creates or updates a chat with the title, and metadata for the session and chat ID from context.
func (m *redisStore) UpdateChat(ctx context.Context, title string, metadata map[string]any) error {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		return err
	}

	chat, isNew, err := m.getChatInfo(ctx, sessionID, chatID)
	if err != nil {
		return errors.Wrap(err, "failed to get chat info")
	}
	chat.update(title, metadata)
	return m.updateChat(ctx, chat, isNew)
}

func (m *redisStore) updateChat(ctx context.Context, chat *ChatInfo, isNew bool) error {
	chatData, err := json.Marshal(chat)
	if err != nil {
		return errors.Wrap(err, "failed to marshal chat info")
	}

	chatKey := m.getRedisChatInfoKey(chat.SessionID, chat.ChatID)
	chatListKey := m.getRedisChatListKey(chat.SessionID)

	pipe := m.client.Pipeline()
	pipe.Set(ctx, chatKey, chatData, m.ttl)
	if isNew {
		pipe.SAdd(ctx, chatListKey, chat.ChatID)
	}
	if m.ttl > 0 {
		pipe.Expire(ctx, chatListKey, m.ttl)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to store chat info in Redis")
	}
	return nil
}

func (m *redisStore) ListChats(ctx context.Context) ([]string, error) {
	sessionID, _, err := getSessionAndChatID(ctx)
	if err != nil {
		return nil, err
	}

	chatIDs, err := m.client.SMembers(ctx, m.getRedisChatListKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to list chats from Redis")
	}
	slices.Sort(chatIDs)
	return chatIDs, nil
}

func (m *redisStore) GetChatInfo(ctx context.Context, id string) (*ChatInfo, error) {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		return nil, err
	}
	id = values.StringsCoalesce(id, chatID)

	info, isNew, err := m.getChatInfo(ctx, sessionID, id)
	if err != nil {
		return nil, err
	}
	if isNew {
		if err = m.updateChat(ctx, info, true); err != nil {
			return nil, errors.Wrap(err, "failed to initialize new chat info")
		}
	}
	info.Messages = m.messages(ctx, sessionID, id)
	return info, nil
}

// returns the chat information without messages,
// a chat that is not persisted yet is returned with isNew
func (m *redisStore) getChatInfo(ctx context.Context, sessionID, chatID string) (*ChatInfo, bool, error) {
	data, err := m.client.Get(ctx, m.getRedisChatInfoKey(sessionID, chatID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return nil, false, errors.Wrap(err, "failed to get chat info from Redis")
		}
		return newChatInfo(sessionID, chatID), true, nil
	}

	chat := &ChatInfo{}
	if err = json.Unmarshal([]byte(data), chat); err != nil {
		return nil, false, errors.Wrap(err, "failed to unmarshal chat info")
	}
	return chat, false, nil
}

func (m *redisStore) Cleanup(ctx context.Context, sessionID string, olderThan time.Duration) (uint32, error) {
	chatListKey := m.getRedisChatListKey(sessionID)
	chatIDs, err := m.client.SMembers(ctx, chatListKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to list chats from Redis")
	}

	deleted := uint32(0)
	cutoff := time.Now().UTC().Add(-olderThan)
	for _, chatID := range chatIDs {
		chat, isNew, err := m.getChatInfo(ctx, sessionID, chatID)
		if err != nil {
			return deleted, err
		}
		if isNew || chat.UpdatedAt.Before(cutoff) {
			pipe := m.client.Pipeline()
			pipe.Del(ctx, m.getRedisChatInfoKey(sessionID, chatID))
			pipe.Del(ctx, m.getRedisMessagesKey(sessionID, chatID))
			pipe.SRem(ctx, chatListKey, chatID)
			if _, err = pipe.Exec(ctx); err != nil {
				return deleted, errors.Wrap(err, "failed to delete chat info and messages from Redis")
			}
			deleted++
		}
	}
	return deleted, nil
}

func (m *redisStore) Close() error {
	return m.client.Close()
}
