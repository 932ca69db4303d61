package history

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func turn(id string, sessionID int64, q, a string) chat.Message {
	return chat.Message{
		ID:         id,
		SessionID:  sessionID,
		RagMessage: chat.RagMessage{User: q, Assistant: a},
		Timestamp:  time.Unix(1700000000, 0).UTC(),
	}
}

func TestStore_AppendRetrieve(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	first := turn("m1", 1, "hi", "hello")
	first.SourceNodes = []vectorstore.Node{{ID: "n1", DocID: "d", Content: "c", Score: 0.5, Metadata: map[string]interface{}{"k": "v"}}}
	first.Evaluations = []chat.Evaluation{{Name: chat.EvalRelevance, Value: 1}}
	first.CondensedQuestion = "greeting"

	require.NoError(t, s.Append(ctx, 1, []chat.Message{first}))
	require.NoError(t, s.Append(ctx, 1, []chat.Message{turn("m2", 1, "and?", "bye"), turn("m3", 1, "ok", "ok")}))
	require.NoError(t, s.Append(ctx, 2, []chat.Message{turn("other", 2, "x", "y")}))

	got, err := s.Retrieve(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, first, got[0])

	empty, err := s.Retrieve(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)
}

func TestStore_AppendIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Append(ctx, 1, []chat.Message{turn("dup", 1, "a", "b")}))
	err := s.Append(ctx, 1, []chat.Message{turn("fresh", 1, "c", "d"), turn("dup", 1, "e", "f")})
	require.Error(t, err)

	got, err := s.Retrieve(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dup", got[0].ID)
}

func TestStore_ConcurrentAppendsKeepOrderPerSession(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Append(ctx, 5, []chat.Message{turn(fmt.Sprintf("m%d", i), 5, "q", "a")}))
		}(i)
	}
	wg.Wait()

	got, err := s.Retrieve(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, got, 20)
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Append(ctx, 1, []chat.Message{turn("a", 1, "q", "a")}))
	require.NoError(t, s.Append(ctx, 2, []chat.Message{turn("b", 2, "q", "a")}))
	require.NoError(t, s.Clear(ctx, 1))

	got, err := s.Retrieve(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Retrieve(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(context.Background(), "", logging.NewNop())
	assert.Error(t, err)
	_, err = Open(context.Background(), "x.db", nil)
	assert.Error(t, err)
}
