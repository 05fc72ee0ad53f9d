package broadcast

import (
	"reflect"
	"testing"
	"time"

	"github.com/courtside/volley-live-backend/internal/engine"
)

func sampleState(points int) engine.State {
	roster := []engine.Player{
		{ID: "p1", Name: "Avery", Number: 4},
		{ID: "p2", Name: "Sam", Number: 7},
	}
	s := engine.NewState(engine.DefaultConfig(), roster)
	s.Phase = engine.PhaseLive
	s.CurrentSet = 1
	s.Scores = []engine.Score{{Mine: points, Opp: 2}}
	s.Serving = engine.TeamMine
	s.Rally = engine.RallyPreServe
	s.Rotation[0] = engine.RotationSlot{PlayerID: "p1"}
	for i := 0; i < points; i++ {
		rot := s.Rotation
		s.Log = append(s.Log, engine.StatEvent{
			ID:             "evt",
			Seq:            i + 1,
			Timestamp:      time.Date(2026, 8, 27, 19, 0, i, 0, time.UTC),
			Type:           engine.StatKill,
			Team:           engine.TeamMine,
			Set:            1,
			ScoreBefore:    engine.Score{Mine: i, Opp: 2},
			PlayerID:       "p1",
			RotationBefore: &rot,
		})
	}
	return s
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		phase engine.Phase
		want  Status
	}{
		{engine.PhaseSetup, StatusScheduled},
		{engine.PhaseLive, StatusLive},
		{engine.PhaseBetweenSets, StatusBetweenSets},
		{engine.PhaseCompleted, StatusFinal},
	}
	for _, tc := range cases {
		if got := StatusOf(tc.phase); got != tc.want {
			t.Fatalf("StatusOf(%s) = %s, want %s", tc.phase, got, tc.want)
		}
	}
}

func TestBuild_CapsEventWindow(t *testing.T) {
	s := sampleState(40)

	snap := Build(s, StatusLive, 30)
	if len(snap.Events) != 30 {
		t.Fatalf("want 30 events, got %d", len(snap.Events))
	}
	// Most recent entries survive the cut.
	if snap.Events[len(snap.Events)-1].Seq != 40 {
		t.Fatalf("last event seq = %d, want 40", snap.Events[len(snap.Events)-1].Seq)
	}
	if snap.Events[0].Seq != 11 {
		t.Fatalf("first retained seq = %d, want 11", snap.Events[0].Seq)
	}
}

func TestBuild_ShortLogKeptWhole(t *testing.T) {
	snap := Build(sampleState(5), StatusLive, 30)
	if len(snap.Events) != 5 {
		t.Fatalf("want 5 events, got %d", len(snap.Events))
	}
}

func TestBuild_CarriesPreEventScores(t *testing.T) {
	snap := Build(sampleState(3), StatusLive, 0)
	want := engine.Score{Mine: 2, Opp: 2}
	if snap.Events[2].Score != want {
		t.Fatalf("event score = %+v, want %+v", snap.Events[2].Score, want)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	s := sampleState(10)
	a := Build(s, StatusLive, 30)
	b := Build(s, StatusLive, 30)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("two builds of the same state differ")
	}
}

func TestBuild_DoesNotAliasState(t *testing.T) {
	s := sampleState(3)
	snap := Build(s, StatusLive, 30)

	s.Scores[0].Mine = 99
	s.Log[0].Seq = 99

	if snap.Scores[0].Mine == 99 {
		t.Fatalf("snapshot scores alias state")
	}
	if snap.Events[0].Seq == 99 {
		t.Fatalf("snapshot events alias state")
	}
}
