package remote

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory DocumentStore used by tests and local
// development. It honors the same semantics as the production store:
// queries with equality and array-containment filters, live listeners that
// re-deliver current state then stream deltas, and atomic batched deletes.
type MemoryStore struct {
	mu        sync.Mutex
	cols      map[string]map[string]map[string]any
	listeners map[int]*memListener
	next      int
}

type memListener struct {
	collection string
	query      Query
	ch         chan DocChange
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cols:      make(map[string]map[string]map[string]any),
		listeners: make(map[int]*memListener),
	}
}

func (s *MemoryStore) collection(name string) map[string]map[string]any {
	col, ok := s.cols[name]
	if !ok {
		col = make(map[string]map[string]any)
		s.cols[name] = col
	}
	return col
}

// Add stores data under a freshly generated id.
func (s *MemoryStore) Add(_ context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(collection)[id] = maps.Clone(data)
	s.notify(collection, DocChange{Kind: ChangeAdded, Doc: Document{ID: id, Data: maps.Clone(data)}})
	return id, nil
}

// Set stores data under the given id, overwriting any existing document.
func (s *MemoryStore) Set(_ context.Context, collection, id string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collection(collection)
	kind := ChangeAdded
	if _, exists := col[id]; exists {
		kind = ChangeModified
	}
	col[id] = maps.Clone(data)
	s.notify(collection, DocChange{Kind: kind, Doc: Document{ID: id, Data: maps.Clone(data)}})
	return nil
}

// Update merges fields into an existing document.
func (s *MemoryStore) Update(_ context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collection(collection)
	doc, ok := col[id]
	if !ok {
		return &Fault{Retryable: false, Err: fmt.Errorf("document %s/%s not found", collection, id)}
	}
	for k, v := range fields {
		doc[k] = v
	}
	s.notify(collection, DocChange{Kind: ChangeModified, Doc: Document{ID: id, Data: maps.Clone(doc)}})
	return nil
}

// Get returns a copy of one document, or nil if absent.
func (s *MemoryStore) Get(_ context.Context, collection, id string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collection(collection)[id]
	if !ok {
		return nil, nil
	}
	return &Document{ID: id, Data: maps.Clone(doc)}, nil
}

// Query returns matching documents, ordered and limited per q.
func (s *MemoryStore) Query(_ context.Context, collection string, q Query) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(collection, q), nil
}

func (s *MemoryStore) queryLocked(collection string, q Query) []Document {
	var out []Document
	for id, data := range s.collection(collection) {
		if matches(data, q.Filters) {
			out = append(out, Document{ID: id, Data: maps.Clone(data)})
		}
	}
	if q.OrderBy != "" {
		slices.SortStableFunc(out, func(a, b Document) int {
			c := compareValues(a.Data[q.OrderBy], b.Data[q.OrderBy])
			if q.Desc {
				return -c
			}
			return c
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Listen re-delivers the current matching documents as added events, then
// streams live deltas until ctx is cancelled.
func (s *MemoryStore) Listen(ctx context.Context, collection string, q Query) (<-chan DocChange, error) {
	s.mu.Lock()
	snapshot := s.queryLocked(collection, q)
	// The buffer must hold the whole snapshot: these sends happen with the
	// store mutex held and no receiver attached yet, so a snapshot larger
	// than the buffer would deadlock the store. Deltas get the usual
	// headroom on top and are dropped by notify when it runs out.
	ch := make(chan DocChange, len(snapshot)+256)
	for _, doc := range snapshot {
		ch <- DocChange{Kind: ChangeAdded, Doc: doc}
	}
	id := s.next
	s.next++
	s.listeners[id] = &memListener{collection: collection, query: q, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.listeners, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch, nil
}

// DeleteBatch removes the given documents as one atomic unit. Absent ids
// are ignored.
func (s *MemoryStore) DeleteBatch(_ context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collection(collection)
	for _, id := range ids {
		doc, ok := col[id]
		if !ok {
			continue
		}
		delete(col, id)
		s.notify(collection, DocChange{Kind: ChangeRemoved, Doc: Document{ID: id, Data: maps.Clone(doc)}})
	}
	return nil
}

// notify fans a change out to matching listeners. Callers hold s.mu.
func (s *MemoryStore) notify(collection string, dc DocChange) {
	for _, l := range s.listeners {
		if l.collection != collection || !matches(dc.Doc.Data, l.query.Filters) {
			continue
		}
		select {
		case l.ch <- dc:
		default:
			// Listener is saturated; drop rather than deadlock.
		}
	}
}

func matches(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		switch f.Op {
		case OpEqual:
			if data[f.Field] != f.Value {
				return false
			}
		case OpArrayContains:
			if !arrayContains(data[f.Field], f.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func arrayContains(v, target any) bool {
	switch arr := v.(type) {
	case []string:
		t, ok := target.(string)
		return ok && slices.Contains(arr, t)
	case []any:
		return slices.Contains(arr, target)
	}
	return false
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case int64:
		bv, ok := b.(int64)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		bv, _ := b.(string)
		return strings.Compare(av, bv)
	}
	return 0
}
