package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"

	// SQLite driver for database/sql
	_ "modernc.org/sqlite"
)

// sqliteStore implements MessageStoreManager with a local SQLite database.
// Timestamps are stored as unix nanoseconds.
type sqliteStore struct {
	db          *sql.DB
	maxMessages int
}

// NewSQLiteStore opens or creates the database at the path.
// maxMessages limits the messages kept per chat, 0 uses the default.
func NewSQLiteStore(ctx context.Context, dbPath string, maxMessages int) (MessageStoreManager, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// SQLite serializes writes, a single connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	s := &sqliteStore{
		db:          db,
		maxMessages: values.NumbersCoalesce(maxMessages, DefaultMaxMessages),
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WithMessage(err, "migrate")
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		session_id TEXT NOT NULL,
		chat_id    TEXT NOT NULL,
		title      TEXT NOT NULL,
		metadata   TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, chat_id)
	);
	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		chat_id    TEXT NOT NULL,
		data       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages (session_id, chat_id, id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return errors.WithStack(err)
}

func (s *sqliteStore) Messages(ctx context.Context) []llms.Message {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "reason", "getSessionAndChatID", "err", err.Error())
		return nil
	}
	msgs, err := s.messages(ctx, sessionID, chatID)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "reason", "messages", "err", err.Error())
		return nil
	}
	return msgs
}

func (s *sqliteStore) messages(ctx context.Context, sessionID, chatID string) ([]llms.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM messages WHERE session_id = ? AND chat_id = ? ORDER BY id`,
		sessionID, chatID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()

	var list []llms.Message
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		var msg llms.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			logger.ContextKV(ctx, xlog.ERROR, "reason", "unmarshal message", "err", err.Error())
			continue
		}
		list = append(list, msg)
	}
	return list, errors.WithStack(rows.Err())
}

func (s *sqliteStore) Add(ctx context.Context, msgs ...llms.Message) error {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal message")
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, chat_id, data) VALUES (?, ?, ?)`,
			sessionID, chatID, string(data),
		); err != nil {
			return errors.Wrap(err, "insert message")
		}
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ? AND chat_id = ? AND id NOT IN (
			SELECT id FROM messages WHERE session_id = ? AND chat_id = ? ORDER BY id DESC LIMIT ?
		)`,
		sessionID, chatID, sessionID, chatID, s.maxMessages,
	); err != nil {
		return errors.Wrap(err, "trim messages")
	}

	chat, err := s.getChatInfo(ctx, tx, sessionID, chatID)
	if err != nil {
		return err
	}
	chat.update("", nil)
	if err = s.updateChat(ctx, tx, chat); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "commit")
}

func (s *sqliteStore) Reset(ctx context.Context) error {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		return err
	}
	return s.deleteChat(ctx, sessionID, chatID)
}

func (s *sqliteStore) deleteChat(ctx context.Context, sessionID, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ? AND chat_id = ?`, sessionID, chatID,
	); err != nil {
		return errors.Wrap(err, "delete messages")
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM chats WHERE session_id = ? AND chat_id = ?`, sessionID, chatID,
	); err != nil {
		return errors.Wrap(err, "delete chat")
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func (s *sqliteStore) UpdateChat(ctx context.Context, title string, metadata map[string]any) error {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		return err
	}
	chat, err := s.getChatInfo(ctx, s.db, sessionID, chatID)
	if err != nil {
		return err
	}
	chat.update(title, metadata)
	return s.updateChat(ctx, s.db, chat)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqliteStore) getChatInfo(ctx context.Context, q querier, sessionID, chatID string) (*ChatInfo, error) {
	var (
		title, metadata      string
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT title, metadata, created_at, updated_at FROM chats WHERE session_id = ? AND chat_id = ?`,
		sessionID, chatID,
	).Scan(&title, &metadata, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return newChatInfo(sessionID, chatID), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get chat info")
	}

	chat := &ChatInfo{
		SessionID: sessionID,
		ChatID:    chatID,
		Title:     title,
		CreatedAt: time.Unix(0, createdAt).UTC(),
		UpdatedAt: time.Unix(0, updatedAt).UTC(),
	}
	if err = json.Unmarshal([]byte(metadata), &chat.Metadata); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal chat metadata")
	}
	return chat, nil
}

func (s *sqliteStore) updateChat(ctx context.Context, q querier, chat *ChatInfo) error {
	if chat.Metadata == nil {
		chat.Metadata = make(map[string]any)
	}
	metadata, err := json.Marshal(chat.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal chat metadata")
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO chats (session_id, chat_id, title, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, chat_id) DO UPDATE
		 SET title = excluded.title, metadata = excluded.metadata, updated_at = excluded.updated_at`,
		chat.SessionID, chat.ChatID, chat.Title, string(metadata),
		chat.CreatedAt.UnixNano(), chat.UpdatedAt.UnixNano(),
	)
	return errors.Wrap(err, "update chat")
}

func (s *sqliteStore) ListChats(ctx context.Context) ([]string, error) {
	sessionID, _, err := getSessionAndChatID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM chats WHERE session_id = ? ORDER BY chat_id`, sessionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list chats")
	}
	defer rows.Close()

	var list []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan chat")
		}
		list = append(list, id)
	}
	return list, errors.WithStack(rows.Err())
}

func (s *sqliteStore) GetChatInfo(ctx context.Context, id string) (*ChatInfo, error) {
	sessionID, chatID, err := getSessionAndChatID(ctx)
	if err != nil {
		return nil, err
	}
	id = values.StringsCoalesce(id, chatID)

	chat, err := s.getChatInfo(ctx, s.db, sessionID, id)
	if err != nil {
		return nil, err
	}
	if err = s.updateChat(ctx, s.db, chat); err != nil {
		return nil, err
	}
	if chat.Messages, err = s.messages(ctx, sessionID, id); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *sqliteStore) Cleanup(ctx context.Context, sessionID string, olderThan time.Duration) (uint32, error) {
	cutoff := time.Now().UTC().Add(-olderThan).UnixNano()
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM chats WHERE session_id = ? AND updated_at < ?`, sessionID, cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "list expired chats")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, errors.Wrap(err, "scan chat")
		}
		ids = append(ids, id)
	}
	_ = rows.Close()

	deleted := uint32(0)
	for _, id := range ids {
		if err := s.deleteChat(ctx, sessionID, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
