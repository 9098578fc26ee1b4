package db

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Update when the target document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrAlreadyExists is returned by Tx.Create when the generated id collides.
var ErrAlreadyExists = errors.New("document already exists")

// ErrTooManyRetries is returned when a transaction body keeps conflicting
// with concurrent writers.
var ErrTooManyRetries = errors.New("transaction aborted after too many conflicting attempts")

// Store is the transactional document store the ledger is built on.
// Paths are slash separated ("users/u1", "users/u1/assets/photoUnlockCard").
// Field paths inside Update and Filter are dot separated ("assets.createCards").
type Store interface {
	// Get returns the document at path. A missing document is reported with
	// Exists == false and a nil error.
	Get(ctx context.Context, path string) (*Document, error)
	Set(ctx context.Context, path string, data map[string]interface{}, opts ...SetOption) error
	// Update applies field updates and fails with ErrNotFound when the
	// document does not exist.
	Update(ctx context.Context, path string, updates []Update) error
	// Add creates a new document with a generated id inside collection.
	Add(ctx context.Context, collection string, data map[string]interface{}) (string, error)
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, q Query) ([]*Document, error)

	// RunTransaction runs fn atomically. fn may be called more than once and
	// must not have side effects outside the transaction. All reads inside
	// fn must happen before its first write.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Batch returns a write batch. Batches give no read guarantees and are
	// meant for bulk administrative writes only.
	Batch() Batch

	// Listen subscribes to changes in a collection. The first delivery
	// contains every existing document as ChangeAdded.
	Listen(ctx context.Context, collection string, onChange func([]Change), onError func(error)) (Subscription, error)

	Close() error
}

// Tx is the handle passed to a transaction body.
type Tx interface {
	Get(path string) (*Document, error)
	Set(path string, data map[string]interface{}, opts ...SetOption) error
	Update(path string, updates []Update) error
	// Create inserts a new document with a generated id and returns the id.
	Create(collection string, data map[string]interface{}) (string, error)
	Delete(path string) error
}

// Batch queues writes that are committed together.
type Batch interface {
	Set(path string, data map[string]interface{}, opts ...SetOption)
	Update(path string, updates []Update)
	Delete(path string)
	Commit(ctx context.Context) error
}

// Subscription is returned by Listen.
type Subscription interface {
	Stop()
}

// Update is a single field update addressed by a dotted field path.
type Update struct {
	Path  string
	Value interface{}
}

// ChangeKind describes a change feed event.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one entry of a change feed delivery.
type Change struct {
	Kind ChangeKind
	Doc  *Document
}

// Filter operators understood by Query.
const (
	OpEqual        = "=="
	OpLess         = "<"
	OpLessEqual    = "<="
	OpGreater      = ">"
	OpGreaterEqual = ">="
)

// Filter restricts a Query to documents whose field matches Value.
type Filter struct {
	Field string
	Op    string
	Value interface{}
}

// Query describes a single-collection query.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
	Offset     int
}

// Where appends a filter and returns the query for chaining.
func (q Query) Where(field, op string, value interface{}) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

type setOptions struct {
	merge bool
}

// SetOption configures Set.
type SetOption func(*setOptions)

// Merge makes Set deep-merge the given fields into the existing document
// instead of replacing it.
func Merge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

func collectSetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type serverTimestamp struct{}

type increment struct {
	n int64
}

type deleteField struct{}

// ServerTimestamp is replaced with the commit time when written.
var ServerTimestamp interface{} = serverTimestamp{}

// DeleteField removes the field when used as an Update value or inside Set
// with Merge.
var DeleteField interface{} = deleteField{}

// Increment adds n to the current numeric value of the field (0 if absent).
func Increment(n int64) interface{} {
	return increment{n: n}
}
