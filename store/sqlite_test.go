package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/effective-security/mcpchat/chatmodel"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SQLiteStore(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "chats.db")

	st, err := store.NewSQLiteStore(ctx, dbPath, 0)
	require.NoError(t, err)
	defer st.Close()
	testMessageStore(t, st)

	limited, err := store.NewSQLiteStore(ctx, ":memory:", 3)
	require.NoError(t, err)
	defer limited.Close()
	testMaxMessages(t, limited)
}

func Test_SQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "chats.db")
	chatCtx := chatmodel.WithChatContext(ctx, chatmodel.NewChatContext("s1", "c1"))
	msg := llms.MessageFromTextParts(llms.RoleHuman, "hello")

	st, err := store.NewSQLiteStore(ctx, dbPath, 0)
	require.NoError(t, err)
	require.NoError(t, st.Add(chatCtx, msg))
	require.NoError(t, st.UpdateChat(chatCtx, "greeting", nil))
	require.NoError(t, st.Close())

	st, err = store.NewSQLiteStore(ctx, dbPath, 0)
	require.NoError(t, err)
	defer st.Close()
	assert.Equal(t, []llms.Message{msg}, st.Messages(chatCtx))
	info, err := st.GetChatInfo(chatCtx, "")
	require.NoError(t, err)
	assert.Equal(t, "greeting", info.Title)
}
