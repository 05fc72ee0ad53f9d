// Package store defines the shared document store a live match broadcasts
// through. Each match code addresses two partitions: the match document,
// written only by the authoritative device, and the interaction document,
// written concurrently by any number of viewers through per-key upserts and
// commutative counter operations so writes never collide.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound distinguishes "this code never existed or expired" from a
// transport failure.
var ErrNotFound = errors.New("match document not found")

// Fields is a partial document keyed by top-level field name. A Patch
// carrying Fields touches only the named fields.
type Fields map[string]any

// Document is one observed version of a partition. Versions advance
// monotonically per code; a watcher may skip versions but never sees an
// older one after a newer one.
type Document struct {
	Code      string
	Version   int64
	Fields    Fields
	UpdatedAt time.Time
}

// Store is implementable over any document store with atomic field updates,
// associative counters, and change notification.
//
// Watch channels deliver immutable document snapshots. A closed channel
// means the subscription was dropped (slow consumer or transport loss);
// the consumer must re-fetch the full document and watch again rather than
// assume continuity. The returned stop function releases the watcher.
type Store interface {
	// Match document partition: single authoritative writer per code.
	Replace(ctx context.Context, code string, fields Fields) error
	Patch(ctx context.Context, code string, fields Fields) error
	Get(ctx context.Context, code string) (Document, error)
	Delete(ctx context.Context, code string) error
	Watch(ctx context.Context, code string) (<-chan Document, func(), error)

	// Interaction partition: unbounded independent writers. Every
	// operation is keyed or commutative; none is a read-modify-write of
	// the whole document.
	SetMapEntry(ctx context.Context, code, field, key string, value any) error
	DeleteMapEntry(ctx context.Context, code, field, key string) error
	AppendList(ctx context.Context, code, field string, value any) error
	IncrCounter(ctx context.Context, code, field string, delta int64) error
	SetInteractionField(ctx context.Context, code, field string, value any) error
	Interactions(ctx context.Context, code string) (Document, error)
	WatchInteractions(ctx context.Context, code string) (<-chan Document, func(), error)

	Close()
}
