package remote

import (
	"context"
	"errors"
	"fmt"
)

// Fault is an error reported by the remote store. Retryable faults
// (network, timeout, server-side transient) drive backoff and requeue;
// non-retryable faults (payload rejected as invalid, conflict) mark the
// write as permanently failed.
type Fault struct {
	Retryable bool
	Err       error
}

func (f *Fault) Error() string {
	kind := "permanent"
	if f.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("remote fault (%s): %v", kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// IsRetryable reports whether err is a retryable remote fault. Errors that
// are not remote faults at all (cancelled contexts, plumbing bugs) are
// treated as retryable so a transient hiccup never burns a message.
func IsRetryable(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Retryable
	}
	return true
}

// ChangeKind classifies a document-level change.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Document is a remote document: an id plus loosely-typed fields.
type Document struct {
	ID   string
	Data map[string]any
}

// DocChange is one event on a live subscription stream.
type DocChange struct {
	Kind ChangeKind
	Doc  Document
}

// Filter operators supported by collection queries.
const (
	OpEqual         = "=="
	OpArrayContains = "array-contains"
)

// Filter is a single query predicate.
type Filter struct {
	Field string
	Op    string
	Value any
}

// Query selects documents from a collection.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// DocumentStore is the remote authoritative store. It is an external
// collaborator: implementations live at the edge of the process (a cloud
// SDK binding, or the in-memory store used by tests and local dev).
//
// Listen delivers the collection's current matching documents as "added"
// events, then live deltas, until ctx is cancelled. DeleteBatch applies
// atomically; callers must keep batches within the store's per-request
// item limit.
type DocumentStore interface {
	Add(ctx context.Context, collection string, data map[string]any) (string, error)
	Set(ctx context.Context, collection, id string, data map[string]any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Listen(ctx context.Context, collection string, q Query) (<-chan DocChange, error)
	DeleteBatch(ctx context.Context, collection string, ids []string) error
}
