package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/courtside/volley-live-backend/internal/broadcast"
	"github.com/courtside/volley-live-backend/internal/engine"
	"github.com/courtside/volley-live-backend/internal/momentum"
	"github.com/courtside/volley-live-backend/internal/store"
)

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func liveState(t *testing.T) engine.State {
	t.Helper()
	var roster []engine.Player
	for i := 1; i <= 12; i++ {
		roster = append(roster, engine.Player{ID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("Player %d", i), Number: i})
	}
	s := engine.NewState(engine.DefaultConfig(), roster)
	_, s, err := engine.Apply(s, engine.Command{
		Type:   engine.CmdStartMatch,
		Team:   engine.TeamMine,
		Lineup: [6]string{"p1", "p2", "p3", "p4", "p5", "p6"},
	})
	if err != nil {
		t.Fatalf("start match: %v", err)
	}
	return s
}

func newTestMatch(t *testing.T, saver Saver) (*Match, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	t.Cleanup(st.Close)
	pub := broadcast.NewPublisher(st, zap.NewNop(), 30)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, "ABC234", liveState(t), pub, saver, zap.NewNop()), st
}

func serveKill(team engine.Team) []engine.Command {
	return []engine.Command{
		{Type: engine.CmdRecordStat, Stat: engine.StatServe, Team: team},
		{Type: engine.CmdRecordStat, Stat: engine.StatKill, Team: team, PlayerID: "p4"},
	}
}

func TestMatch_JoinGetsImmediateSnapshot(t *testing.T) {
	m, _ := newTestMatch(t, nil)

	out := make(chan Snapshot, 2)
	m.Inbox() <- Join{ClientID: "c1", Outbox: out}

	first := recvSnapshot(t, out, 100*time.Millisecond)
	if first.Version != 0 {
		t.Fatalf("after join: want version=0, got %d", first.Version)
	}
	if first.Status != broadcast.StatusLive {
		t.Fatalf("after join: want live status, got %s", first.Status)
	}
}

func TestMatch_AcceptedCommandBroadcastsAndBumpsVersion(t *testing.T) {
	m, _ := newTestMatch(t, nil)

	out := make(chan Snapshot, 4)
	m.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	reply := make(chan error, 1)
	m.Inbox() <- FromCoach{
		Cmd:   engine.Command{Type: engine.CmdRecordStat, Stat: engine.StatAce, Team: engine.TeamMine, PlayerID: "p1"},
		Reply: reply,
	}
	if err := <-reply; err != nil {
		t.Fatalf("ace rejected: %v", err)
	}

	snap := recvSnapshot(t, out, 100*time.Millisecond)
	if snap.Version != 1 {
		t.Fatalf("want version=1, got %d", snap.Version)
	}
	if got := snap.State.CurrentScore().Mine; got != 1 {
		t.Fatalf("want score 1, got %d", got)
	}
}

func TestMatch_RejectedCommandMutatesNothing(t *testing.T) {
	m, _ := newTestMatch(t, nil)

	out := make(chan Snapshot, 4)
	m.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	// A kill before any serve is illegal in pre-serve.
	reply := make(chan error, 1)
	m.Inbox() <- FromCoach{
		Cmd:   engine.Command{Type: engine.CmdRecordStat, Stat: engine.StatKill, Team: engine.TeamMine},
		Reply: reply,
	}
	if err := <-reply; !errors.Is(err, engine.ErrIllegalStat) {
		t.Fatalf("want ErrIllegalStat, got %v", err)
	}

	view := make(chan View, 1)
	m.Inbox() <- GetState{Reply: view}
	v := recvView(t, view, 100*time.Millisecond)
	if v.Version != 0 {
		t.Fatalf("rejected command must not bump version, got %d", v.Version)
	}

	select {
	case snap := <-out:
		t.Fatalf("rejected command must not broadcast, got %+v", snap.Version)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMatch_DropSlowClient(t *testing.T) {
	m, _ := newTestMatch(t, nil)

	out := make(chan Snapshot, 1)
	m.Inbox() <- Join{ClientID: "c1", Outbox: out}
	// Outbox now full with the join snapshot; next broadcast drops us.
	m.Inbox() <- FromCoach{Cmd: engine.Command{Type: engine.CmdRecordStat, Stat: engine.StatAce, Team: engine.TeamMine}}

	reply := make(chan View, 1)
	m.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)
	if view.NumClients != 0 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
}

func TestMatch_ProposalAppliesLegalSkipsIllegal(t *testing.T) {
	m, _ := newTestMatch(t, nil)

	reply := make(chan []error, 1)
	m.Inbox() <- Proposal{
		Cmds: []engine.Command{
			{Type: engine.CmdRecordStat, Stat: engine.StatServe, Team: engine.TeamMine},
			{Type: engine.CmdRecordStat, Stat: engine.StatServe, Team: engine.TeamMine}, // serve during rally
			{Type: engine.CmdRecordStat, Stat: engine.StatKill, Team: engine.TeamMine, PlayerID: "p4"},
		},
		Reply: reply,
	}

	var verdicts []error
	select {
	case verdicts = <-reply:
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("no proposal verdicts")
	}
	if verdicts[0] != nil || verdicts[2] != nil {
		t.Fatalf("legal commands rejected: %v", verdicts)
	}
	if !errors.Is(verdicts[1], engine.ErrIllegalStat) {
		t.Fatalf("illegal command accepted: %v", verdicts[1])
	}

	view := make(chan View, 1)
	m.Inbox() <- GetState{Reply: view}
	v := recvView(t, view, 100*time.Millisecond)
	if got := v.State.CurrentScore().Mine; got != 1 {
		t.Fatalf("want score 1 after proposal, got %d", got)
	}
}

func TestMatch_MomentumRidesSnapshots(t *testing.T) {
	m, _ := newTestMatch(t, nil)

	out := make(chan Snapshot, 16)
	m.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		for _, cmd := range serveKill(engine.TeamMine) {
			m.Inbox() <- FromCoach{Cmd: cmd}
		}
	}

	sawRun := false
	for i := 0; i < 6; i++ {
		snap := recvSnapshot(t, out, 200*time.Millisecond)
		for _, ev := range snap.Momentum {
			if ev.Kind == momentum.KindPointRun && ev.Team == engine.TeamMine && ev.Run == 3 {
				sawRun = true
			}
		}
	}
	if !sawRun {
		t.Fatalf("expected a point-run moment after three straight rallies")
	}
}

func TestMatch_PublishesToStore(t *testing.T) {
	m, st := newTestMatch(t, nil)

	m.Inbox() <- FromCoach{Cmd: engine.Command{Type: engine.CmdRecordStat, Stat: engine.StatAce, Team: engine.TeamMine}}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		doc, err := st.Get(context.Background(), m.Code())
		if err == nil {
			scores, ok := doc.Fields["scores"].([]engine.Score)
			if ok && len(scores) == 1 && scores[0].Mine == 1 {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("store document never reflected the mutation")
}

type recordingSaver struct {
	mu    sync.Mutex
	saves int
	last  engine.State
}

func (r *recordingSaver) Save(_ context.Context, _ string, s engine.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	r.last = s
	return nil
}

func TestMatch_SaverInvokedAfterMutation(t *testing.T) {
	saver := &recordingSaver{}
	m, _ := newTestMatch(t, saver)

	m.Inbox() <- FromCoach{Cmd: engine.Command{Type: engine.CmdRecordStat, Stat: engine.StatAce, Team: engine.TeamMine}}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		saver.mu.Lock()
		saves, mine := saver.saves, saver.last.CurrentScore().Mine
		saver.mu.Unlock()
		if saves > 0 && mine == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("saver never saw the mutated state")
}

func TestMatch_ShutdownClosesClients(t *testing.T) {
	m, _ := newTestMatch(t, nil)

	out := make(chan Snapshot, 2)
	m.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	m.Inbox() <- Shutdown{}

	select {
	case _, ok := <-out:
		if ok {
			t.Fatalf("expected closed outbox, got snapshot")
		}
	case <-time.After(time.Second):
		t.Fatalf("outbox never closed after shutdown")
	}
}
