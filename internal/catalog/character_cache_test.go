package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

func seedCharacters(t *testing.T, store db.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "characters/c1", map[string]interface{}{
		"name": "Aria", "isPublic": true, "isActive": true,
		"tags": []interface{}{"romance"},
	}))
	require.NoError(t, store.Set(ctx, "characters/c2", map[string]interface{}{
		"name": "Bram", "isPublic": false, "isActive": true,
	}))
	require.NoError(t, store.Set(ctx, "characters/c3", map[string]interface{}{
		"name": "Cato", "isPublic": true, "isActive": false,
	}))
}

func TestReadsBeforeStartAreEmpty(t *testing.T) {
	store := db.NewMemoryStore()
	seedCharacters(t, store)
	c := NewCharacterCache(store, time.Minute, nil, nil)

	assert.False(t, c.Loaded())
	assert.False(t, c.Exists("c1"))
	assert.Empty(t, c.GetAll(models.CharacterFilter{}))
	_, ok := c.Get("c1")
	assert.False(t, ok)
}

func TestStartLoadsAndFilters(t *testing.T) {
	store := db.NewMemoryStore()
	seedCharacters(t, store)
	c := NewCharacterCache(store, time.Minute, nil, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	assert.True(t, c.Loaded())
	ch, ok := c.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "Aria", ch.Name)
	assert.True(t, ch.IsPublic)

	yes := true
	public := c.GetAll(models.CharacterFilter{IsPublic: &yes})
	require.Len(t, public, 2)
	assert.Equal(t, "c1", public[0].ID)
	assert.Equal(t, "c3", public[1].ID)

	both := c.GetAll(models.CharacterFilter{IsPublic: &yes, IsActive: &yes})
	require.Len(t, both, 1)
	assert.Equal(t, "c1", both[0].ID)

	byID := c.GetByIDs([]string{"c2", "missing"})
	assert.Len(t, byID, 1)
	assert.Contains(t, byID, "c2")

	st := c.Stats()
	assert.True(t, st.Initialized)
	assert.Equal(t, 3, st.TotalCharacters)
	assert.True(t, st.RealtimeSyncActive)
	assert.NotNil(t, st.LastUpdated)
}

func TestReturnedCharactersAreCopies(t *testing.T) {
	store := db.NewMemoryStore()
	seedCharacters(t, store)
	c := NewCharacterCache(store, time.Minute, nil, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	ch, _ := c.Get("c1")
	ch.Data["name"] = "changed"
	ch.Data["tags"].([]interface{})[0] = "changed"

	again, _ := c.Get("c1")
	assert.Equal(t, "Aria", again.Data["name"])
	assert.Equal(t, "romance", again.Data["tags"].([]interface{})[0])
}

func TestChangeFeedUpdatesCache(t *testing.T) {
	store := db.NewMemoryStore()
	seedCharacters(t, store)
	c := NewCharacterCache(store, time.Minute, nil, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "characters/c4", map[string]interface{}{"name": "Dara"}))
	require.NoError(t, store.Set(ctx, "characters/c1", map[string]interface{}{"name": "Aria II"}))
	require.NoError(t, store.Delete(ctx, "characters/c2"))

	require.Eventually(t, func() bool {
		ch, ok := c.Get("c1")
		return ok && ch.Name == "Aria II" && c.Exists("c4") && !c.Exists("c2")
	}, time.Second, 5*time.Millisecond)
}

func TestChangeFeedErrorSchedulesReload(t *testing.T) {
	store := db.NewMemoryStore()
	seedCharacters(t, store)
	c := NewCharacterCache(store, 20*time.Millisecond, nil, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()
	ctx := context.Background()

	store.FailListeners("characters", errors.New("stream reset"))
	assert.False(t, c.Stats().RealtimeSyncActive)

	require.NoError(t, store.Delete(ctx, "characters/c3"))
	assert.True(t, c.Exists("c3"))

	require.Eventually(t, func() bool {
		return !c.Exists("c3") && c.Stats().RealtimeSyncActive
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, store.ListenerCount("characters"))
}

func TestCloseStopsFeedAndRetry(t *testing.T) {
	store := db.NewMemoryStore()
	seedCharacters(t, store)
	c := NewCharacterCache(store, 10*time.Millisecond, nil, nil)
	require.NoError(t, c.Start(context.Background()))

	store.FailListeners("characters", errors.New("stream reset"))
	c.Close()
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, 0, store.ListenerCount("characters"))
	assert.False(t, c.Stats().RealtimeSyncActive)
}

func TestChangeFeedOutlivesStartContext(t *testing.T) {
	store := db.NewMemoryStore()
	seedCharacters(t, store)
	c := NewCharacterCache(store, time.Hour, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	defer c.Close()
	cancel()

	require.NoError(t, store.Set(context.Background(), "characters/c9", map[string]interface{}{"name": "Nola"}))
	require.Eventually(t, func() bool { return c.Exists("c9") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, store.ListenerCount("characters"))
	assert.True(t, c.Stats().RealtimeSyncActive)
}

func TestRefreshWithShortLivedContextKeepsFeed(t *testing.T) {
	store := db.NewMemoryStore()
	seedCharacters(t, store)
	c := NewCharacterCache(store, time.Hour, nil, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	reqCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Refresh(reqCtx))
	cancel()

	require.NoError(t, store.Set(context.Background(), "characters/c9", map[string]interface{}{"name": "Nola"}))
	require.Eventually(t, func() bool { return c.Exists("c9") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, store.ListenerCount("characters"))
}
