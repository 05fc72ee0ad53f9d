// Package viewer reconstructs a live match view from the shared store's
// change stream. A subscriber never talks to the authoritative device; it
// sees only documents, and treats every dropped subscription as a signal to
// refetch in full before trusting deltas again.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/courtside/volley-live-backend/internal/broadcast"
	"github.com/courtside/volley-live-backend/internal/interact"
	"github.com/courtside/volley-live-backend/internal/matchcode"
	"github.com/courtside/volley-live-backend/internal/store"
)

var ErrInvalidCode = errors.New("invalid match code")

const resubscribeDelay = 500 * time.Millisecond

// MatchView is the decoded match document.
type MatchView struct {
	broadcast.Snapshot
	LastUpdated time.Time `json:"lastUpdated"`
}

// UpdateKind tells which partition an update came from.
type UpdateKind string

const (
	UpdateMatch        UpdateKind = "match"
	UpdateInteractions UpdateKind = "interactions"
)

// Update is one delivered view. Exactly one of Match/Interactions is set,
// per Kind. Version is the store version of the underlying document.
type Update struct {
	Kind         UpdateKind
	Version      int64
	Match        *MatchView
	Interactions *interact.InteractionDoc
}

// Subscriber follows one match code. Updates arrive on Updates() in version
// order per partition; versions may skip but never regress.
type Subscriber struct {
	store store.Store
	log   *zap.Logger
	code  string

	updates chan Update
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	heartbeat *interact.Aggregator
	beatEvery time.Duration
}

type Option func(*Subscriber)

// WithHeartbeat makes the subscriber refresh the given presence entry on a
// ticker it owns; Close stops the ticker.
func WithHeartbeat(a *interact.Aggregator, every time.Duration) Option {
	return func(s *Subscriber) {
		s.heartbeat = a
		s.beatEvery = every
	}
}

// Subscribe validates the code, loads the current document, and starts
// following both partitions. The initial match view is delivered on
// Updates() before any delta.
func Subscribe(ctx context.Context, st store.Store, log *zap.Logger, code string, opts ...Option) (*Subscriber, error) {
	code = matchcode.Normalize(code)
	if !matchcode.Valid(code) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}

	doc, err := st.Get(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load match %s: %w", code, err)
	}
	initial, err := decodeMatch(doc)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		store:   st,
		log:     log,
		code:    code,
		updates: make(chan Update, 16),
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.updates <- Update{Kind: UpdateMatch, Version: doc.Version, Match: initial}

	s.wg.Add(2)
	go s.followMatch(runCtx, doc.Version)
	go s.followInteractions(runCtx)
	if s.heartbeat != nil && s.beatEvery > 0 {
		s.wg.Add(1)
		go s.beat(runCtx)
	}
	return s, nil
}

// Updates delivers reconstructed views. The channel closes after Close.
func (s *Subscriber) Updates() <-chan Update { return s.updates }

func (s *Subscriber) Code() string { return s.code }

// Close stops all listeners and the heartbeat ticker, then closes Updates.
func (s *Subscriber) Close() {
	s.cancel()
	s.wg.Wait()
	close(s.updates)
}

// followMatch consumes the match document watch. A closed watch channel
// means deltas may have been missed, so the loop refetches the full
// document before watching again.
func (s *Subscriber) followMatch(ctx context.Context, lastVersion int64) {
	defer s.wg.Done()
	for ctx.Err() == nil {
		ch, stop, err := s.store.Watch(ctx, s.code)
		if err != nil {
			s.log.Warn("match watch failed", zap.String("code", s.code), zap.Error(err))
			if !sleep(ctx, resubscribeDelay) {
				return
			}
			continue
		}

		for doc := range ch {
			if doc.Version <= lastVersion {
				continue
			}
			view, err := decodeMatch(doc)
			if err != nil {
				s.log.Warn("bad match document", zap.String("code", s.code), zap.Error(err))
				continue
			}
			lastVersion = doc.Version
			if !s.emit(ctx, Update{Kind: UpdateMatch, Version: doc.Version, Match: view}) {
				stop()
				return
			}
		}
		stop()
		if ctx.Err() != nil {
			return
		}

		// Dropped subscription: refetch before resubscribing so nothing
		// between the last delivered version and now is lost.
		doc, err := s.store.Get(ctx, s.code)
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.log.Info("match gone", zap.String("code", s.code))
			return
		case err != nil:
			s.log.Warn("refetch failed", zap.String("code", s.code), zap.Error(err))
		default:
			if doc.Version > lastVersion {
				if view, err := decodeMatch(doc); err == nil {
					lastVersion = doc.Version
					if !s.emit(ctx, Update{Kind: UpdateMatch, Version: doc.Version, Match: view}) {
						return
					}
				}
			}
		}
		if !sleep(ctx, resubscribeDelay) {
			return
		}
	}
}

func (s *Subscriber) followInteractions(ctx context.Context) {
	defer s.wg.Done()
	var lastVersion int64
	for ctx.Err() == nil {
		ch, stop, err := s.store.WatchInteractions(ctx, s.code)
		if err != nil {
			s.log.Warn("interaction watch failed", zap.String("code", s.code), zap.Error(err))
			if !sleep(ctx, resubscribeDelay) {
				return
			}
			continue
		}

		for doc := range ch {
			if doc.Version <= lastVersion {
				continue
			}
			decoded, err := interact.Decode(doc)
			if err != nil {
				s.log.Warn("bad interaction document", zap.String("code", s.code), zap.Error(err))
				continue
			}
			lastVersion = doc.Version
			if !s.emit(ctx, Update{Kind: UpdateInteractions, Version: doc.Version, Interactions: &decoded}) {
				stop()
				return
			}
		}
		stop()
		if ctx.Err() != nil {
			return
		}
		if !sleep(ctx, resubscribeDelay) {
			return
		}
	}
}

func (s *Subscriber) beat(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.beatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.heartbeat.Heartbeat(ctx)
		}
	}
}

func (s *Subscriber) emit(ctx context.Context, u Update) bool {
	select {
	case s.updates <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func decodeMatch(doc store.Document) (*MatchView, error) {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode match fields: %w", err)
	}
	var view MatchView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("decode match document: %w", err)
	}
	return &view, nil
}
