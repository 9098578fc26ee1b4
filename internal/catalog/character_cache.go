package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/internal/metrics"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

const charactersCollection = "characters"

// DefaultRetryDelay is how long the cache waits before reloading after the
// change feed broke.
const DefaultRetryDelay = 5 * time.Minute

// Stats describes the cache state.
type Stats struct {
	Initialized        bool       `json:"initialized"`
	TotalCharacters    int        `json:"totalCharacters"`
	LastUpdated        *time.Time `json:"lastUpdated"`
	RealtimeSyncActive bool       `json:"realtimeSyncActive"`
}

// CharacterCache keeps the characters collection in memory and follows its
// change feed.
type CharacterCache struct {
	store      db.Store
	retryDelay time.Duration
	logger     *zap.Logger
	metrics    *metrics.Ledger
	now        func() time.Time

	mu          sync.RWMutex
	characters  map[string]models.Character
	initialized bool
	lastUpdated time.Time
	sub         db.Subscription
	retry       *time.Timer
	baseCtx     context.Context
	closed      bool
}

func NewCharacterCache(store db.Store, retryDelay time.Duration, logger *zap.Logger, m *metrics.Ledger) *CharacterCache {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CharacterCache{
		store:      store,
		retryDelay: retryDelay,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		characters: map[string]models.Character{},
	}
}

// Start loads the collection and subscribes to its changes. It blocks until
// the first load completes.
func (c *CharacterCache) Start(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = context.WithoutCancel(ctx)
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Refresh reloads every character and restarts the change feed.
func (c *CharacterCache) Refresh(ctx context.Context) error {
	docs, err := c.store.Query(ctx, db.Query{Collection: charactersCollection})
	if err != nil {
		return fmt.Errorf("load characters: %w", err)
	}
	loaded := make(map[string]models.Character, len(docs))
	for _, d := range docs {
		loaded[d.ID] = fromDocument(d)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.characters = loaded
	c.initialized = true
	c.lastUpdated = c.now()
	old := c.sub
	c.sub = nil
	c.mu.Unlock()
	if old != nil {
		old.Stop()
	}
	c.metrics.SetCatalogSize(len(loaded))
	c.logger.Info("character cache loaded", zap.Int("characters", len(loaded)))

	sub, err := c.store.Listen(c.listenContext(ctx), charactersCollection, c.apply, c.onError)
	if err != nil {
		c.logger.Warn("character change feed unavailable", zap.Error(err))
		c.scheduleRetry()
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Stop()
		return nil
	}
	c.sub = sub
	c.mu.Unlock()
	return nil
}

// listenContext detaches the change feed from request and boot deadlines.
func (c *CharacterCache) listenContext(ctx context.Context) context.Context {
	c.mu.RLock()
	base := c.baseCtx
	c.mu.RUnlock()
	if base != nil {
		return base
	}
	return context.WithoutCancel(ctx)
}

func (c *CharacterCache) apply(changes []db.Change) {
	if len(changes) == 0 {
		return
	}
	c.mu.Lock()
	for _, ch := range changes {
		switch ch.Kind {
		case db.ChangeRemoved:
			delete(c.characters, ch.Doc.ID)
		default:
			c.characters[ch.Doc.ID] = fromDocument(ch.Doc)
		}
	}
	c.lastUpdated = c.now()
	size := len(c.characters)
	c.mu.Unlock()
	c.metrics.SetCatalogSize(size)
}

func (c *CharacterCache) onError(err error) {
	c.logger.Error("character change feed failed", zap.Error(err), zap.Duration("retryIn", c.retryDelay))
	c.mu.Lock()
	c.sub = nil
	c.mu.Unlock()
	c.scheduleRetry()
}

func (c *CharacterCache) scheduleRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(c.retryDelay, func() {
		c.mu.RLock()
		ctx := c.baseCtx
		c.mu.RUnlock()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := c.Refresh(ctx); err != nil {
			c.logger.Error("character cache reload failed", zap.Error(err))
			c.scheduleRetry()
		}
	})
}

// Close stops the change feed and any pending reload.
func (c *CharacterCache) Close() {
	c.mu.Lock()
	c.closed = true
	sub := c.sub
	c.sub = nil
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.mu.Unlock()
	if sub != nil {
		sub.Stop()
	}
}

// Loaded reports whether the first load has completed.
func (c *CharacterCache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Get returns a copy of the character.
func (c *CharacterCache) Get(id string) (models.Character, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.characters[id]
	if !ok {
		return models.Character{}, false
	}
	return clone(ch), true
}

func (c *CharacterCache) Exists(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.characters[id]
	return ok
}

// GetAll returns the characters matching f, sorted by id.
func (c *CharacterCache) GetAll(f models.CharacterFilter) []models.Character {
	c.mu.RLock()
	out := make([]models.Character, 0, len(c.characters))
	for _, ch := range c.characters {
		if f.IsPublic != nil && ch.IsPublic != *f.IsPublic {
			continue
		}
		if f.IsActive != nil && ch.IsActive != *f.IsActive {
			continue
		}
		out = append(out, clone(ch))
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetByIDs returns the known characters among ids.
func (c *CharacterCache) GetByIDs(ids []string) map[string]models.Character {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.Character, len(ids))
	for _, id := range ids {
		if ch, ok := c.characters[id]; ok {
			out[id] = clone(ch)
		}
	}
	return out
}

func (c *CharacterCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Stats{
		Initialized:        c.initialized,
		TotalCharacters:    len(c.characters),
		RealtimeSyncActive: c.sub != nil,
	}
	if !c.lastUpdated.IsZero() {
		t := c.lastUpdated
		st.LastUpdated = &t
	}
	return st
}

func fromDocument(d *db.Document) models.Character {
	data := copyData(d.Data)
	delete(data, "id")
	return models.Character{
		ID:       d.ID,
		Name:     d.String("name"),
		IsPublic: d.Bool("isPublic"),
		IsActive: d.Bool("isActive"),
		Data:     data,
	}
}

func clone(ch models.Character) models.Character {
	ch.Data = copyData(ch.Data)
	return ch
}

func copyData(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyData(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
