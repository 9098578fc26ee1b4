package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMaxAttempts = 5

// MemoryStore is an in-process Store. Transactions use optimistic
// concurrency: every document read inside a body is re-checked at commit and
// the body is re-run when another writer got there first.
type MemoryStore struct {
	mu        sync.Mutex
	docs      map[string]*memDoc
	version   uint64
	listeners map[int]*memListener
	nextID    int

	now         func() time.Time
	newID       func() string
	maxAttempts int
}

type memDoc struct {
	data    map[string]interface{}
	version uint64
}

type memListener struct {
	collection string
	onChange   func([]Change)
	onError    func(error)
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used for ServerTimestamp.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithIDGenerator overrides generated document ids.
func WithIDGenerator(newID func() string) MemoryOption {
	return func(s *MemoryStore) { s.newID = newID }
}

// WithMaxAttempts sets how many times a conflicting transaction is retried.
func WithMaxAttempts(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		docs:        make(map[string]*memDoc),
		listeners:   make(map[int]*memListener),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type writeKind int

const (
	writeSet writeKind = iota
	writeUpdate
	writeCreate
	writeDelete
)

type pendingWrite struct {
	kind    writeKind
	path    string
	data    map[string]interface{}
	updates []Update
	merge   bool
}

func (s *MemoryStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, _ := s.snapshotLocked(path)
	return doc, nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, data map[string]interface{}, opts ...SetOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := collectSetOptions(opts)
	return s.apply([]pendingWrite{{kind: writeSet, path: path, data: data, merge: o.merge}})
}

func (s *MemoryStore) Update(ctx context.Context, path string, updates []Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.apply([]pendingWrite{{kind: writeUpdate, path: path, updates: updates}})
}

func (s *MemoryStore) Add(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := s.newID()
	if err := s.apply([]pendingWrite{{kind: writeCreate, path: Join(collection, id), data: data}}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.apply([]pendingWrite{{kind: writeDelete, path: path}})
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	var docs []*Document
	for path := range s.docs {
		if parentCollection(path) != q.Collection {
			continue
		}
		doc, _ := s.snapshotLocked(path)
		if matchesFilters(doc, q.Filters) {
			docs = append(docs, doc)
		}
	}
	s.mu.Unlock()

	if q.OrderBy != "" {
		kept := docs[:0]
		for _, d := range docs {
			if d.Has(q.OrderBy) {
				kept = append(kept, d)
			}
		}
		docs = kept
		sort.SliceStable(docs, func(i, j int) bool {
			a, _ := docs[i].Value(q.OrderBy)
			b, _ := docs[j].Value(q.OrderBy)
			c, _ := compareValues(a, b)
			if q.Descending {
				return c > 0
			}
			return c < 0
		})
	} else {
		sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	}

	if q.Offset > 0 {
		if q.Offset >= len(docs) {
			return nil, nil
		}
		docs = docs[q.Offset:]
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{store: s, reads: make(map[string]uint64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		committed, err := s.commit(tx)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
	}
	return ErrTooManyRetries
}

func (s *MemoryStore) Batch() Batch {
	return &memBatch{store: s}
}

func (s *MemoryStore) Listen(ctx context.Context, collection string, onChange func([]Change), onError func(error)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = &memListener{collection: collection, onChange: onChange, onError: onError}
	var initial []Change
	for path := range s.docs {
		if parentCollection(path) == collection {
			doc, _ := s.snapshotLocked(path)
			initial = append(initial, Change{Kind: ChangeAdded, Doc: doc})
		}
	}
	s.mu.Unlock()

	sort.Slice(initial, func(i, j int) bool { return initial[i].Doc.Path < initial[j].Doc.Path })
	onChange(initial)
	sub := &memSubscription{store: s, id: id}
	if ctx.Done() != nil {
		// A feed that outlives its context is ended with the context's error.
		sub.stopWatch = context.AfterFunc(ctx, func() { s.endListener(id, ctx.Err()) })
	}
	return sub, nil
}

func (s *MemoryStore) endListener(id int, err error) {
	s.mu.Lock()
	l, ok := s.listeners[id]
	delete(s.listeners, id)
	s.mu.Unlock()
	if ok && l.onError != nil {
		l.onError(err)
	}
}

// FailListeners terminates every subscription on collection with err,
// the way a broken change stream does.
func (s *MemoryStore) FailListeners(collection string, err error) {
	s.mu.Lock()
	var failed []*memListener
	for id, l := range s.listeners {
		if l.collection == collection {
			failed = append(failed, l)
			delete(s.listeners, id)
		}
	}
	s.mu.Unlock()
	for _, l := range failed {
		if l.onError != nil {
			l.onError(err)
		}
	}
}

// ListenerCount reports active subscriptions on collection.
func (s *MemoryStore) ListenerCount(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.listeners {
		if l.collection == collection {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Close() error { return nil }

type memSubscription struct {
	store     *MemoryStore
	id        int
	once      sync.Once
	stopWatch func() bool
}

func (m *memSubscription) Stop() {
	m.once.Do(func() {
		if m.stopWatch != nil {
			m.stopWatch()
		}
		m.store.mu.Lock()
		delete(m.store.listeners, m.id)
		m.store.mu.Unlock()
	})
}

func (s *MemoryStore) snapshotLocked(path string) (*Document, uint64) {
	d, ok := s.docs[path]
	if !ok {
		return missingDocument(path), 0
	}
	return &Document{
		ID:     lastSegment(path),
		Path:   path,
		Exists: true,
		Data:   copyMap(d.data),
	}, d.version
}

func (s *MemoryStore) commit(tx *memTx) (bool, error) {
	s.mu.Lock()
	for path, seen := range tx.reads {
		current := uint64(0)
		if d, ok := s.docs[path]; ok {
			current = d.version
		}
		if current != seen {
			s.mu.Unlock()
			return false, nil
		}
	}
	changes, err := s.applyLocked(tx.writes)
	listeners := s.listenersFor(changes)
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	notify(listeners)
	return true, nil
}

func (s *MemoryStore) apply(writes []pendingWrite) error {
	s.mu.Lock()
	changes, err := s.applyLocked(writes)
	listeners := s.listenersFor(changes)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	notify(listeners)
	return nil
}

// applyLocked stages every write against a scratch view and only then
// publishes it, so a failing write leaves the store untouched.
func (s *MemoryStore) applyLocked(writes []pendingWrite) ([]Change, error) {
	now := s.now()
	staged := make(map[string]map[string]interface{})
	exists := make(map[string]bool)
	var order []string

	current := func(path string) (map[string]interface{}, bool) {
		if data, ok := staged[path]; ok {
			return data, exists[path]
		}
		if d, ok := s.docs[path]; ok {
			return copyMap(d.data), true
		}
		return nil, false
	}
	touch := func(path string, data map[string]interface{}, present bool) {
		if _, seen := staged[path]; !seen {
			order = append(order, path)
		}
		staged[path] = data
		exists[path] = present
	}

	for _, w := range writes {
		data, present := current(w.path)
		switch w.kind {
		case writeSet:
			if w.merge && present {
				mergeInto(data, w.data, now)
			} else {
				data = map[string]interface{}{}
				mergeInto(data, w.data, now)
			}
			touch(w.path, data, true)
		case writeCreate:
			if present {
				return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, w.path)
			}
			data = map[string]interface{}{}
			mergeInto(data, w.data, now)
			touch(w.path, data, true)
		case writeUpdate:
			if !present {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, w.path)
			}
			for _, u := range w.updates {
				setPath(data, u.Path, u.Value, now)
			}
			touch(w.path, data, true)
		case writeDelete:
			touch(w.path, nil, false)
		}
	}

	var changes []Change
	for _, path := range order {
		_, existed := s.docs[path]
		if !exists[path] {
			if existed {
				delete(s.docs, path)
				changes = append(changes, Change{Kind: ChangeRemoved, Doc: missingDocument(path)})
			}
			continue
		}
		s.version++
		s.docs[path] = &memDoc{data: staged[path], version: s.version}
		kind := ChangeModified
		if !existed {
			kind = ChangeAdded
		}
		changes = append(changes, Change{Kind: kind, Doc: &Document{
			ID: lastSegment(path), Path: path, Exists: true, Data: copyMap(staged[path]),
		}})
	}
	return changes, nil
}

type listenerDelivery struct {
	listener *memListener
	changes  []Change
}

func (s *MemoryStore) listenersFor(changes []Change) []listenerDelivery {
	if len(changes) == 0 || len(s.listeners) == 0 {
		return nil
	}
	var out []listenerDelivery
	for _, l := range s.listeners {
		var matched []Change
		for _, c := range changes {
			if parentCollection(c.Doc.Path) == l.collection {
				matched = append(matched, c)
			}
		}
		if len(matched) > 0 {
			out = append(out, listenerDelivery{listener: l, changes: matched})
		}
	}
	return out
}

func notify(deliveries []listenerDelivery) {
	for _, d := range deliveries {
		d.listener.onChange(d.changes)
	}
}

type memTx struct {
	store  *MemoryStore
	reads  map[string]uint64
	writes []pendingWrite
}

var errReadAfterWrite = errors.New("transaction reads must happen before writes")

func (t *memTx) Get(path string) (*Document, error) {
	if len(t.writes) > 0 {
		return nil, errReadAfterWrite
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	doc, version := t.store.snapshotLocked(path)
	if seen, ok := t.reads[path]; ok && seen != version {
		// A second read of the same document saw a newer commit; the
		// first version is kept so commit detects the conflict.
		return doc, nil
	}
	t.reads[path] = version
	return doc, nil
}

func (t *memTx) Set(path string, data map[string]interface{}, opts ...SetOption) error {
	o := collectSetOptions(opts)
	t.writes = append(t.writes, pendingWrite{kind: writeSet, path: path, data: data, merge: o.merge})
	return nil
}

func (t *memTx) Update(path string, updates []Update) error {
	t.writes = append(t.writes, pendingWrite{kind: writeUpdate, path: path, updates: updates})
	return nil
}

func (t *memTx) Create(collection string, data map[string]interface{}) (string, error) {
	id := t.store.newID()
	t.writes = append(t.writes, pendingWrite{kind: writeCreate, path: Join(collection, id), data: data})
	return id, nil
}

func (t *memTx) Delete(path string) error {
	t.writes = append(t.writes, pendingWrite{kind: writeDelete, path: path})
	return nil
}

type memBatch struct {
	store  *MemoryStore
	writes []pendingWrite
}

func (b *memBatch) Set(path string, data map[string]interface{}, opts ...SetOption) {
	o := collectSetOptions(opts)
	b.writes = append(b.writes, pendingWrite{kind: writeSet, path: path, data: data, merge: o.merge})
}

func (b *memBatch) Update(path string, updates []Update) {
	b.writes = append(b.writes, pendingWrite{kind: writeUpdate, path: path, updates: updates})
}

func (b *memBatch) Delete(path string) {
	b.writes = append(b.writes, pendingWrite{kind: writeDelete, path: path})
}

func (b *memBatch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(b.writes) == 0 {
		return nil
	}
	return b.store.apply(b.writes)
}

func resolveValue(current interface{}, v interface{}, now time.Time) (interface{}, bool) {
	switch x := v.(type) {
	case serverTimestamp:
		return now, false
	case increment:
		n, _ := AsInt(current)
		return n + x.n, false
	case deleteField:
		return nil, true
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, inner := range x {
			r, del := resolveValue(nil, inner, now)
			if !del {
				out[k] = r
			}
		}
		return out, false
	default:
		return copyValue(v), false
	}
}

func mergeInto(dst, src map[string]interface{}, now time.Time) {
	for k, v := range src {
		if sub, ok := v.(map[string]interface{}); ok {
			existing, ok := dst[k].(map[string]interface{})
			if !ok {
				existing = map[string]interface{}{}
			}
			mergeInto(existing, sub, now)
			dst[k] = existing
			continue
		}
		r, del := resolveValue(dst[k], v, now)
		if del {
			delete(dst, k)
			continue
		}
		dst[k] = r
	}
}

func setPath(dst map[string]interface{}, path string, v interface{}, now time.Time) {
	parts := strings.Split(path, ".")
	cur := dst
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[p] = next
		}
		cur = next
	}
	leaf := parts[len(parts)-1]
	r, del := resolveValue(cur[leaf], v, now)
	if del {
		delete(cur, leaf)
		return
	}
	cur[leaf] = r
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue deep copies v and normalizes numbers and slices to the shapes the
// Firestore client returns (int64, float64, []interface{}).
func copyValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return copyMap(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = item
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = copyMap(item)
		}
		return out
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	default:
		return v
	}
}

func matchesFilters(doc *Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := doc.Value(f.Field)
		if !ok {
			return false
		}
		c, comparable := compareValues(v, f.Value)
		if !comparable {
			return false
		}
		switch f.Op {
		case OpEqual:
			if c != 0 {
				return false
			}
		case OpLess:
			if c >= 0 {
				return false
			}
		case OpLessEqual:
			if c > 0 {
				return false
			}
		case OpGreater:
			if c <= 0 {
				return false
			}
		case OpGreaterEqual:
			if c < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func compareValues(a, b interface{}) (int, bool) {
	if an, ok := AsInt(a); ok {
		if bn, ok := AsInt(b); ok {
			af, bf := toFloat(a, an), toFloat(b, bn)
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	case time.Time:
		y, ok := AsTime(b)
		if !ok {
			return 0, false
		}
		switch {
		case x.Before(y):
			return -1, true
		case x.After(y):
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func toFloat(v interface{}, asInt int64) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case float32:
		return float64(f)
	default:
		return float64(asInt)
	}
}
