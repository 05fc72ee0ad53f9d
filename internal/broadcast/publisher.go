package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/courtside/volley-live-backend/internal/engine"
	"github.com/courtside/volley-live-backend/internal/store"
)

// Publisher writes match snapshots to the shared store, patching only the
// fields that changed since the last successful publish for that code.
//
// Publishes for one code are serialized. While one is in flight, newer
// states coalesce so only the latest is written next; intermediate states
// are skipped, never reordered.
type Publisher struct {
	store  store.Store
	log    *zap.Logger
	window int
	now    func() time.Time

	mu    sync.Mutex
	codes map[string]*codeState
}

type codeState struct {
	fp       fingerprint // nil until a publish for this code succeeds
	inflight bool
	pending  *queued
}

type queued struct {
	state  engine.State
	status Status
}

func NewPublisher(st store.Store, log *zap.Logger, window int) *Publisher {
	if window <= 0 {
		window = DefaultEventWindow
	}
	return &Publisher{
		store:  st,
		log:    log,
		window: window,
		now:    time.Now,
		codes:  make(map[string]*codeState),
	}
}

// Publish synchronizes the document for code with state. The call that finds
// a publish already in flight parks its state as the pending one and returns
// immediately; the in-flight call drains pending states before returning.
func (p *Publisher) Publish(ctx context.Context, code string, state engine.State, status Status) error {
	p.mu.Lock()
	cs, ok := p.codes[code]
	if !ok {
		cs = &codeState{}
		p.codes[code] = cs
	}
	if cs.inflight {
		cs.pending = &queued{state: state, status: status}
		p.mu.Unlock()
		return nil
	}
	cs.inflight = true
	p.mu.Unlock()

	err := p.publishOne(ctx, code, cs, state, status)
	for {
		p.mu.Lock()
		next := cs.pending
		cs.pending = nil
		if next == nil {
			cs.inflight = false
			p.mu.Unlock()
			return err
		}
		p.mu.Unlock()
		err = p.publishOne(ctx, code, cs, next.state, next.status)
	}
}

// Forget drops the fingerprint cache for code. The next publish writes the
// full document.
func (p *Publisher) Forget(code string) {
	p.mu.Lock()
	delete(p.codes, code)
	p.mu.Unlock()
}

func (p *Publisher) publishOne(ctx context.Context, code string, cs *codeState, state engine.State, status Status) error {
	snap := Build(state, status, p.window)
	fields := documentFields(snap)
	next := fingerprintOf(fields)

	p.mu.Lock()
	prev := cs.fp
	p.mu.Unlock()

	var patch store.Fields
	if prev == nil {
		patch = fields
	} else {
		patch = next.diff(prev, fields)
		if len(patch) == 0 {
			return nil
		}
		// Status and freshness ride along on every delta.
		patch["status"] = snap.Status
	}
	patch["lastUpdated"] = p.now().UTC()

	if err := p.store.Patch(ctx, code, patch); err != nil {
		// The stored document may now disagree with the cache, so drop
		// the cache and resynchronize fully on the next publish.
		p.mu.Lock()
		cs.fp = nil
		p.mu.Unlock()
		p.log.Warn("snapshot publish failed",
			zap.String("code", code),
			zap.Int("fields", len(patch)),
			zap.Error(err))
		return fmt.Errorf("publish %s: %w", code, err)
	}

	p.mu.Lock()
	cs.fp = next
	p.mu.Unlock()
	p.log.Debug("snapshot published",
		zap.String("code", code),
		zap.Int("fields", len(patch)),
		zap.Bool("full", prev == nil))
	return nil
}
