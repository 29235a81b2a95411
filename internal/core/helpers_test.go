package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"gwi.com/live-replay/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type fakeResponder struct {
	mu        sync.Mutex
	reply     string
	replyErr  error
	title     string
	titleErr  error
	histories [][]store.Message
}

func (f *fakeResponder) Reply(_ context.Context, history []store.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories = append(f.histories, append([]store.Message(nil), history...))
	return f.reply, f.replyErr
}

func (f *fakeResponder) Title(context.Context, string) (string, error) {
	return f.title, f.titleErr
}

func (f *fakeResponder) lastHistory() []store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.histories) == 0 {
		return nil
	}
	return f.histories[len(f.histories)-1]
}

var errBoom = errors.New("boom")

func strPtr(v string) *string { return &v }

func boolPtr(v bool) *bool { return &v }
