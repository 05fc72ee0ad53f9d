package viewer

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/courtside/volley-live-backend/internal/broadcast"
	"github.com/courtside/volley-live-backend/internal/engine"
	"github.com/courtside/volley-live-backend/internal/interact"
	"github.com/courtside/volley-live-backend/internal/store"
)

const testCode = "ABC234"

func seedMatch(t *testing.T, st store.Store, mine int) {
	t.Helper()
	err := st.Patch(context.Background(), testCode, store.Fields{
		"status":     broadcast.StatusLive,
		"currentSet": 1,
		"scores":     []engine.Score{{Mine: mine, Opp: 2}},
		"serving":    engine.TeamMine,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func recvUpdate(t *testing.T, sub *Subscriber, within time.Duration) Update {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		if !ok {
			t.Fatalf("updates channel closed early")
		}
		return u
	case <-time.After(within):
		t.Fatalf("timed out waiting for update")
		return Update{}
	}
}

func recvMatchUpdate(t *testing.T, sub *Subscriber, within time.Duration) Update {
	t.Helper()
	deadline := time.Now().Add(within)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			t.Fatalf("no match update within %v", within)
		}
		if u := recvUpdate(t, sub, remain); u.Kind == UpdateMatch {
			return u
		}
	}
}

func TestSubscribe_RejectsMalformedCode(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()

	_, err := Subscribe(context.Background(), st, zap.NewNop(), "nope")
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("want ErrInvalidCode, got %v", err)
	}
}

func TestSubscribe_UnknownCodeIsNotFound(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()

	_, err := Subscribe(context.Background(), st, zap.NewNop(), testCode)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSubscribe_NormalizesCode(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	seedMatch(t, st, 3)

	sub, err := Subscribe(context.Background(), st, zap.NewNop(), "  abc234 ")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	if sub.Code() != testCode {
		t.Fatalf("code = %q, want %q", sub.Code(), testCode)
	}
}

func TestSubscribe_DeliversInitialViewThenDeltas(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	seedMatch(t, st, 3)

	sub, err := Subscribe(context.Background(), st, zap.NewNop(), testCode)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	first := recvMatchUpdate(t, sub, time.Second)
	if first.Match.Status != broadcast.StatusLive {
		t.Fatalf("initial status = %s", first.Match.Status)
	}
	if first.Match.Scores[0].Mine != 3 {
		t.Fatalf("initial score = %+v", first.Match.Scores[0])
	}

	seedMatch(t, st, 4)
	next := recvMatchUpdate(t, sub, time.Second)
	if next.Version <= first.Version {
		t.Fatalf("version regressed: %d after %d", next.Version, first.Version)
	}
	if next.Match.Scores[0].Mine != 4 {
		t.Fatalf("delta score = %+v", next.Match.Scores[0])
	}
}

func TestSubscribe_RecoversFromDroppedWatch(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	seedMatch(t, st, 0)

	sub, err := Subscribe(context.Background(), st, zap.NewNop(), testCode)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	recvMatchUpdate(t, sub, time.Second)

	// Flood without draining so the store drops the subscription, then
	// make one more write the subscriber must still observe.
	for i := 1; i <= 40; i++ {
		seedMatch(t, st, i)
	}

	var lastVersion int64
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		u := recvMatchUpdate(t, sub, 3*time.Second)
		if u.Version <= lastVersion {
			t.Fatalf("version regressed after recovery: %d after %d", u.Version, lastVersion)
		}
		lastVersion = u.Version
		if u.Match.Scores[0].Mine == 40 {
			return
		}
	}
	t.Fatalf("never converged on the latest document")
}

func TestSubscribe_DeliversInteractionUpdates(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	seedMatch(t, st, 3)

	sub, err := Subscribe(context.Background(), st, zap.NewNop(), testCode)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	recvMatchUpdate(t, sub, time.Second)

	agg := interact.NewAggregator(st, zap.NewNop(), nil, testCode, "dev-a", "Amy")
	if err := agg.RegisterPresence(context.Background(), engine.TeamMine); err != nil {
		t.Fatalf("register: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		u := recvUpdate(t, sub, 2*time.Second)
		if u.Kind != UpdateInteractions {
			continue
		}
		if _, ok := u.Interactions.Presence["dev-a"]; ok {
			return
		}
	}
	t.Fatalf("presence update never arrived")
}

func TestClose_StopsUpdates(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	seedMatch(t, st, 3)

	sub, err := Subscribe(context.Background(), st, zap.NewNop(), testCode)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	recvMatchUpdate(t, sub, time.Second)

	sub.Close()
	for {
		select {
		case _, ok := <-sub.Updates():
			if !ok {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("updates channel never closed")
		}
	}
}

func TestSubscribe_HeartbeatKeepsPresenceFresh(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	seedMatch(t, st, 3)
	ctx := context.Background()

	agg := interact.NewAggregator(st, zap.NewNop(), nil, testCode, "dev-a", "Amy")
	if err := agg.RegisterPresence(ctx, engine.TeamMine); err != nil {
		t.Fatalf("register: %v", err)
	}
	before, _ := st.Interactions(ctx, testCode)

	sub, err := Subscribe(ctx, st, zap.NewNop(), testCode, WithHeartbeat(agg, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		doc, err := st.Interactions(ctx, testCode)
		if err == nil && doc.Version > before.Version {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("heartbeat never refreshed presence")
}
