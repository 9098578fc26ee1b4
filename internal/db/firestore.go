package db

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mikeggyy/chat-app-all-sub002/internal/config"
)

var (
	// fsClient is the global Firestore client instance.
	fsClient *firestore.Client
	// fbAuthClient is the global Firebase Auth client instance.
	fbAuthClient *auth.Client
)

// InitFirestore initializes the Firebase Admin SDK and sets up the Firestore
// and Auth clients. Credentials come from a service account file, a base64
// encoded service account JSON, or Application Default Credentials, in that order.
func InitFirestore(ctx context.Context, appConfig *config.Config) error {
	if appConfig == nil {
		return fmt.Errorf("InitFirestore: appConfig cannot be nil")
	}

	var credsOption option.ClientOption
	var firebaseAppConfig *firebase.Config

	if appConfig.GoogleApplicationCredentials != "" {
		log.Printf("Initializing Firebase with credentials file: %s", appConfig.GoogleApplicationCredentials)
		if _, err := os.Stat(appConfig.GoogleApplicationCredentials); os.IsNotExist(err) {
			log.Printf("Warning: credentials file does not exist: %s", appConfig.GoogleApplicationCredentials)
		}
		credsOption = option.WithCredentialsFile(appConfig.GoogleApplicationCredentials)
	} else if appConfig.FirebaseServiceAccountJSONBase64 != "" {
		log.Println("Initializing Firebase with Base64 encoded service account JSON.")
		decodedJSON, err := base64.StdEncoding.DecodeString(appConfig.FirebaseServiceAccountJSONBase64)
		if err != nil {
			return fmt.Errorf("failed to decode FirebaseServiceAccountJSONBase64: %w", err)
		}
		credsOption = option.WithCredentialsJSON(decodedJSON)
	} else {
		log.Println("Initializing Firebase using Application Default Credentials (ADC).")
	}

	if appConfig.FirebaseProjectID != "" {
		firebaseAppConfig = &firebase.Config{ProjectID: appConfig.FirebaseProjectID}
	}

	var app *firebase.App
	var err error
	if credsOption != nil {
		app, err = firebase.NewApp(ctx, firebaseAppConfig, credsOption)
	} else {
		app, err = firebase.NewApp(ctx, firebaseAppConfig)
	}
	if err != nil {
		return fmt.Errorf("firebase.NewApp: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return fmt.Errorf("app.Firestore: %w", err)
	}
	fsClient = client

	authCl, err := app.Auth(ctx)
	if err != nil {
		fsClient.Close()
		return fmt.Errorf("app.Auth: %w", err)
	}
	fbAuthClient = authCl
	return nil
}

// GetFirestoreClient returns the global Firestore client, nil before InitFirestore.
func GetFirestoreClient() *firestore.Client {
	if fsClient == nil {
		log.Println("Warning: GetFirestoreClient called before InitFirestore or InitFirestore failed.")
	}
	return fsClient
}

// GetFirebaseAuthClient returns the global Firebase Auth client, nil before InitFirestore.
func GetFirebaseAuthClient() *auth.Client {
	if fbAuthClient == nil {
		log.Println("Warning: GetFirebaseAuthClient called before InitFirestore or InitFirestore failed.")
	}
	return fbAuthClient
}

// FirestoreStore implements Store on Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore wraps an initialized Firestore client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	if client == nil {
		log.Fatal("Firestore client is not initialized for FirestoreStore.")
	}
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) Get(ctx context.Context, path string) (*Document, error) {
	snap, err := s.client.Doc(path).Get(ctx)
	return fromSnapshot(path, snap, err)
}

func (s *FirestoreStore) Set(ctx context.Context, path string, data map[string]interface{}, opts ...SetOption) error {
	if _, err := s.client.Doc(path).Set(ctx, toFirestoreMap(data), firestoreSetOptions(opts)...); err != nil {
		return fmt.Errorf("failed to set document '%s': %w", path, err)
	}
	return nil
}

func (s *FirestoreStore) Update(ctx context.Context, path string, updates []Update) error {
	if _, err := s.client.Doc(path).Update(ctx, toFirestoreUpdates(updates)); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("document '%s': %w", path, ErrNotFound)
		}
		return fmt.Errorf("failed to update document '%s': %w", path, err)
	}
	return nil
}

func (s *FirestoreStore) Add(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, toFirestoreMap(data))
	if err != nil {
		return "", fmt.Errorf("failed to add document to '%s': %w", collection, err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) Delete(ctx context.Context, path string) error {
	if _, err := s.client.Doc(path).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete document '%s': %w", path, err)
	}
	return nil
}

func (s *FirestoreStore) Query(ctx context.Context, q Query) ([]*Document, error) {
	query := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		query = query.Where(f.Field, f.Op, toFirestoreValue(f.Value))
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Descending {
			dir = firestore.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()
	var docs []*Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query '%s': %w", q.Collection, err)
		}
		docs = append(docs, &Document{ID: snap.Ref.ID, Path: q.Collection + "/" + snap.Ref.ID, Exists: true, Data: snap.Data()})
	}
	return docs, nil
}

func (s *FirestoreStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &firestoreTx{client: s.client, tx: tx})
	}, firestore.MaxAttempts(defaultMaxAttempts))
	if status.Code(err) == codes.Aborted {
		return fmt.Errorf("%w: %v", ErrTooManyRetries, err)
	}
	return err
}

func (s *FirestoreStore) Batch() Batch {
	return &firestoreBatch{client: s.client, batch: s.client.Batch()}
}

func (s *FirestoreStore) Listen(ctx context.Context, collection string, onChange func([]Change), onError func(error)) (Subscription, error) {
	listenCtx, cancel := context.WithCancel(ctx)
	it := s.client.Collection(collection).Snapshots(listenCtx)
	sub := &firestoreSubscription{cancel: cancel, iter: it}

	go func() {
		for {
			snap, err := it.Next()
			if err != nil {
				if sub.stopped.Load() || errors.Is(err, iterator.Done) {
					return
				}
				// The caller's context ended without Stop: report it so the
				// subscriber can resubscribe.
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				} else if status.Code(err) == codes.Canceled {
					err = fmt.Errorf("change feed on %s cancelled: %w", collection, err)
				}
				if onError != nil {
					onError(err)
				}
				return
			}
			changes := make([]Change, 0, len(snap.Changes))
			for _, c := range snap.Changes {
				doc := &Document{ID: c.Doc.Ref.ID, Path: collection + "/" + c.Doc.Ref.ID, Exists: c.Kind != firestore.DocumentRemoved}
				if doc.Exists {
					doc.Data = c.Doc.Data()
				}
				changes = append(changes, Change{Kind: fromFirestoreKind(c.Kind), Doc: doc})
			}
			if len(changes) > 0 {
				onChange(changes)
			}
		}
	}()
	return sub, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

type firestoreSubscription struct {
	cancel  context.CancelFunc
	iter    *firestore.QuerySnapshotIterator
	once    sync.Once
	stopped atomic.Bool
}

func (f *firestoreSubscription) Stop() {
	f.once.Do(func() {
		f.stopped.Store(true)
		f.cancel()
		f.iter.Stop()
	})
}

type firestoreTx struct {
	client *firestore.Client
	tx     *firestore.Transaction
}

func (t *firestoreTx) Get(path string) (*Document, error) {
	snap, err := t.tx.Get(t.client.Doc(path))
	return fromSnapshot(path, snap, err)
}

func (t *firestoreTx) Set(path string, data map[string]interface{}, opts ...SetOption) error {
	return t.tx.Set(t.client.Doc(path), toFirestoreMap(data), firestoreSetOptions(opts)...)
}

func (t *firestoreTx) Update(path string, updates []Update) error {
	return t.tx.Update(t.client.Doc(path), toFirestoreUpdates(updates))
}

func (t *firestoreTx) Create(collection string, data map[string]interface{}) (string, error) {
	ref := t.client.Collection(collection).NewDoc()
	if err := t.tx.Create(ref, toFirestoreMap(data)); err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (t *firestoreTx) Delete(path string) error {
	return t.tx.Delete(t.client.Doc(path))
}

type firestoreBatch struct {
	client *firestore.Client
	batch  *firestore.WriteBatch
	size   int
}

func (b *firestoreBatch) Set(path string, data map[string]interface{}, opts ...SetOption) {
	b.batch.Set(b.client.Doc(path), toFirestoreMap(data), firestoreSetOptions(opts)...)
	b.size++
}

func (b *firestoreBatch) Update(path string, updates []Update) {
	b.batch.Update(b.client.Doc(path), toFirestoreUpdates(updates))
	b.size++
}

func (b *firestoreBatch) Delete(path string) {
	b.batch.Delete(b.client.Doc(path))
	b.size++
}

func (b *firestoreBatch) Commit(ctx context.Context) error {
	if b.size == 0 {
		return nil
	}
	if _, err := b.batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch of %d writes: %w", b.size, err)
	}
	return nil
}

func fromSnapshot(path string, snap *firestore.DocumentSnapshot, err error) (*Document, error) {
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return missingDocument(path), nil
		}
		return nil, fmt.Errorf("failed to get document '%s': %w", path, err)
	}
	if !snap.Exists() {
		return missingDocument(path), nil
	}
	return &Document{ID: snap.Ref.ID, Path: path, Exists: true, Data: snap.Data()}, nil
}

func fromFirestoreKind(k firestore.DocumentChangeKind) ChangeKind {
	switch k {
	case firestore.DocumentAdded:
		return ChangeAdded
	case firestore.DocumentRemoved:
		return ChangeRemoved
	default:
		return ChangeModified
	}
}

func firestoreSetOptions(opts []SetOption) []firestore.SetOption {
	if collectSetOptions(opts).merge {
		return []firestore.SetOption{firestore.MergeAll}
	}
	return nil
}

func toFirestoreUpdates(updates []Update) []firestore.Update {
	out := make([]firestore.Update, len(updates))
	for i, u := range updates {
		out[i] = firestore.Update{Path: u.Path, Value: toFirestoreValue(u.Value)}
	}
	return out
}

func toFirestoreMap(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = toFirestoreValue(v)
	}
	return out
}

func toFirestoreValue(v interface{}) interface{} {
	switch x := v.(type) {
	case serverTimestamp:
		return firestore.ServerTimestamp
	case increment:
		return firestore.Increment(x.n)
	case deleteField:
		return firestore.Delete
	case map[string]interface{}:
		return toFirestoreMap(x)
	default:
		return v
	}
}
