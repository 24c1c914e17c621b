package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmediator/wecom-bridge/domain"
	"github.com/chatmediator/wecom-bridge/infrastructure/memkv"
)

func Test_Append_GetDetail_PreservesOrder(t *testing.T) {
	store := New(memkv.New(), 0, 0)
	ctx := context.Background()
	chatID := "chat-1"

	for i, content := range []string{"first", "second", "third"} {
		err := store.Append(ctx, chatID, domain.HistoryEntry{
			MessageID: "m" + string(rune('0'+i)),
			Role:      domain.RoleUser,
			Content:   content,
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
	}

	entries, err := store.GetDetail(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "first", entries[0].Content)
	assert.Equal(t, "third", entries[2].Content)
}

func Test_Append_TrimsToCap(t *testing.T) {
	store := New(memkv.New(), 2, 0)
	ctx := context.Background()
	chatID := "chat-1"

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, chatID, domain.HistoryEntry{
			MessageID: "m",
			Content:   "turn",
			Timestamp: time.Now(),
		}))
	}

	entries, err := store.GetDetail(ctx, chatID)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "cap of 2 must never be exceeded")
}

func Test_GetForContext_ExcludesRequestedMessage(t *testing.T) {
	store := New(memkv.New(), 0, 0)
	ctx := context.Background()
	chatID := "chat-1"

	require.NoError(t, store.Append(ctx, chatID, domain.HistoryEntry{MessageID: "keep", Content: "a"}))
	require.NoError(t, store.Append(ctx, chatID, domain.HistoryEntry{MessageID: "drop", Content: "b"}))

	entries, err := store.GetForContext(ctx, chatID, "drop")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep", entries[0].MessageID)
}

func Test_ScanChatIDs_ReturnsKnownConversations(t *testing.T) {
	store := New(memkv.New(), 0, 0)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "chat-a", domain.HistoryEntry{MessageID: "m"}))
	require.NoError(t, store.Append(ctx, "chat-b", domain.HistoryEntry{MessageID: "m"}))

	ids, err := store.ScanChatIDs(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chat-a", "chat-b"}, ids)
}
