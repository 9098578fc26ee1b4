package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(clock *testClock) *db.MemoryStore {
	return db.NewMemoryStore(db.WithClock(clock.Now), db.WithMaxAttempts(1000))
}

func seed(t *testing.T, store db.Store, path string, data map[string]interface{}) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), path, data))
}

func mustGet(t *testing.T, store db.Store, path string) *db.Document {
	t.Helper()
	doc, err := store.Get(context.Background(), path)
	require.NoError(t, err)
	return doc
}

func countDocs(t *testing.T, store db.Store, collection string) int {
	t.Helper()
	docs, err := store.Query(context.Background(), db.Query{Collection: collection})
	require.NoError(t, err)
	return len(docs)
}
