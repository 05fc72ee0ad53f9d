package store

import (
	"context"
	"sync"
	"time"
)

const watchBuffer = 8

// MemStore is the in-process Store used for development and tests. Inner
// containers are copied on write, so a delivered Document is safe to read
// without locking.
type MemStore struct {
	mu       sync.Mutex
	docs     map[string]*memDoc
	interact map[string]*memDoc
	watchers map[string][]*memWatcher

	now func() time.Time
}

type memDoc struct {
	version   int64
	fields    Fields
	updatedAt time.Time
}

type memWatcher struct {
	key string
	ch  chan Document
}

func NewMemStore() *MemStore {
	return &MemStore{
		docs:     make(map[string]*memDoc),
		interact: make(map[string]*memDoc),
		watchers: make(map[string][]*memWatcher),
		now:      time.Now,
	}
}

func (m *MemStore) Replace(ctx context.Context, code string, fields Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.upsertLocked(m.docs, code)
	doc.fields = copyFields(fields)
	m.bumpLocked("doc:"+code, code, doc)
	return nil
}

func (m *MemStore) Patch(ctx context.Context, code string, fields Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.upsertLocked(m.docs, code)
	doc.fields = copyFields(doc.fields)
	for k, v := range fields {
		doc.fields[k] = v
	}
	m.bumpLocked("doc:"+code, code, doc)
	return nil
}

func (m *MemStore) Get(ctx context.Context, code string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[code]
	if !ok {
		return Document{}, ErrNotFound
	}
	return snapshotLocked(code, doc), nil
}

func (m *MemStore) Delete(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, code)
	delete(m.interact, code)
	for _, key := range []string{"doc:" + code, "int:" + code} {
		for _, w := range m.watchers[key] {
			close(w.ch)
		}
		delete(m.watchers, key)
	}
	return nil
}

func (m *MemStore) Watch(ctx context.Context, code string) (<-chan Document, func(), error) {
	return m.watch(ctx, "doc:"+code)
}

func (m *MemStore) SetMapEntry(ctx context.Context, code, field, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.upsertLocked(m.interact, code)
	doc.fields = copyFields(doc.fields)
	inner := copyMapField(doc.fields[field])
	inner[key] = value
	doc.fields[field] = inner
	m.bumpLocked("int:"+code, code, doc)
	return nil
}

func (m *MemStore) DeleteMapEntry(ctx context.Context, code, field, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.upsertLocked(m.interact, code)
	doc.fields = copyFields(doc.fields)
	inner := copyMapField(doc.fields[field])
	delete(inner, key)
	doc.fields[field] = inner
	m.bumpLocked("int:"+code, code, doc)
	return nil
}

func (m *MemStore) AppendList(ctx context.Context, code, field string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.upsertLocked(m.interact, code)
	doc.fields = copyFields(doc.fields)
	prev, _ := doc.fields[field].([]any)
	next := make([]any, 0, len(prev)+1)
	next = append(next, prev...)
	next = append(next, value)
	doc.fields[field] = next
	m.bumpLocked("int:"+code, code, doc)
	return nil
}

func (m *MemStore) IncrCounter(ctx context.Context, code, field string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.upsertLocked(m.interact, code)
	doc.fields = copyFields(doc.fields)
	doc.fields[field] = counterValue(doc.fields[field]) + delta
	m.bumpLocked("int:"+code, code, doc)
	return nil
}

func (m *MemStore) SetInteractionField(ctx context.Context, code, field string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.upsertLocked(m.interact, code)
	doc.fields = copyFields(doc.fields)
	doc.fields[field] = value
	m.bumpLocked("int:"+code, code, doc)
	return nil
}

func (m *MemStore) Interactions(ctx context.Context, code string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.interact[code]
	if !ok {
		return Document{}, ErrNotFound
	}
	return snapshotLocked(code, doc), nil
}

func (m *MemStore) WatchInteractions(ctx context.Context, code string) (<-chan Document, func(), error) {
	return m.watch(ctx, "int:"+code)
}

func (m *MemStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, ws := range m.watchers {
		for _, w := range ws {
			close(w.ch)
		}
		delete(m.watchers, key)
	}
}

func (m *MemStore) watch(ctx context.Context, key string) (<-chan Document, func(), error) {
	w := &memWatcher{key: key, ch: make(chan Document, watchBuffer)}
	m.mu.Lock()
	m.watchers[key] = append(m.watchers[key], w)
	m.mu.Unlock()

	stop := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeWatcherLocked(w)
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			stop()
		}()
	}
	return w.ch, stop, nil
}

func (m *MemStore) upsertLocked(part map[string]*memDoc, code string) *memDoc {
	doc, ok := part[code]
	if !ok {
		doc = &memDoc{fields: Fields{}}
		part[code] = doc
	}
	return doc
}

// bumpLocked advances the version and fans the new snapshot out. A watcher
// whose buffer is full is dropped: its channel closes and the consumer
// re-fetches on resubscribe.
func (m *MemStore) bumpLocked(key, code string, doc *memDoc) {
	doc.version++
	doc.updatedAt = m.now()
	snap := snapshotLocked(code, doc)
	for _, w := range m.watchers[key] {
		select {
		case w.ch <- snap:
		default:
			m.removeWatcherLocked(w)
		}
	}
}

// removeWatcherLocked unregisters and closes a watcher. Safe to call twice;
// the second call finds nothing to remove.
func (m *MemStore) removeWatcherLocked(w *memWatcher) {
	ws := m.watchers[w.key]
	for i, cand := range ws {
		if cand == w {
			m.watchers[w.key] = append(ws[:i:i], ws[i+1:]...)
			close(w.ch)
			return
		}
	}
}

func snapshotLocked(code string, doc *memDoc) Document {
	return Document{
		Code:      code,
		Version:   doc.version,
		Fields:    copyFields(doc.fields),
		UpdatedAt: doc.updatedAt,
	}
}

func copyFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func copyMapField(v any) map[string]any {
	prev, _ := v.(map[string]any)
	out := make(map[string]any, len(prev)+1)
	for k, val := range prev {
		out[k] = val
	}
	return out
}

func counterValue(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
