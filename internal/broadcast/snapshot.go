// Package broadcast projects authoritative match state into the shared
// document and keeps the stored copy current with field-level patches.
package broadcast

import (
	"time"

	"github.com/courtside/volley-live-backend/internal/engine"
)

// DefaultEventWindow is twice the 15-event feed viewers render, so a viewer
// joining mid-set still has scrollback.
const DefaultEventWindow = 30

// Status is the viewer-facing lifecycle of a broadcast, derived from the
// engine phase.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusLive        Status = "live"
	StatusBetweenSets Status = "between-sets"
	StatusFinal       Status = "final"
)

// StatusOf maps an engine phase to its broadcast status.
func StatusOf(phase engine.Phase) Status {
	switch phase {
	case engine.PhaseLive:
		return StatusLive
	case engine.PhaseBetweenSets:
		return StatusBetweenSets
	case engine.PhaseCompleted:
		return StatusFinal
	default:
		return StatusScheduled
	}
}

// Event is the published shape of a stat event. Undo bookkeeping (rotation
// and counter snapshots) stays on the authoritative device.
type Event struct {
	ID        string          `json:"id"`
	Seq       int             `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Type      engine.StatType `json:"type"`
	Team      engine.Team     `json:"team"`
	Set       int             `json:"set"`
	Score     engine.Score    `json:"scoreSnapshot"`
	PlayerID  string          `json:"playerId,omitempty"`
	AssistID  string          `json:"assistId,omitempty"`
}

// Snapshot is the lossy projection written to the shared document. It is
// regenerated wholesale on every mutation; the publisher decides which of
// its fields actually changed.
type Snapshot struct {
	Status       Status                   `json:"status"`
	Config       engine.MatchConfig       `json:"config"`
	CurrentSet   int                      `json:"currentSet"`
	Scores       []engine.Score           `json:"scores"`
	SetsWon      map[engine.Team]int      `json:"setsWon"`
	Serving      engine.Team              `json:"serving"`
	RallyPhase   engine.RallyPhase        `json:"rallyPhase"`
	Rotation     [6]engine.RotationSlot   `json:"rotation"`
	Roster       []engine.Player          `json:"roster"`
	Events       []Event                  `json:"events"`
	History      []engine.SetResult       `json:"history"`
	TimeoutsLeft map[engine.Team]int      `json:"timeoutsLeft"`
	SubsLeft     map[engine.Team]int      `json:"subsLeft"`
}

// Build projects state into a Snapshot, capping the event log at the most
// recent window entries. window <= 0 selects DefaultEventWindow.
func Build(s engine.State, status Status, window int) Snapshot {
	if window <= 0 {
		window = DefaultEventWindow
	}
	log := s.Log
	if len(log) > window {
		log = log[len(log)-window:]
	}
	events := make([]Event, len(log))
	for i, ev := range log {
		events[i] = Event{
			ID:        ev.ID,
			Seq:       ev.Seq,
			Timestamp: ev.Timestamp,
			Type:      ev.Type,
			Team:      ev.Team,
			Set:       ev.Set,
			Score:     ev.ScoreBefore,
			PlayerID:  ev.PlayerID,
			AssistID:  ev.AssistID,
		}
	}
	return Snapshot{
		Status:       status,
		Config:       s.Config,
		CurrentSet:   s.CurrentSet,
		Scores:       append([]engine.Score(nil), s.Scores...),
		SetsWon:      copyTeamInts(s.SetsWon),
		Serving:      s.Serving,
		RallyPhase:   s.Rally,
		Rotation:     s.Rotation,
		Roster:       append([]engine.Player(nil), s.Roster...),
		Events:       events,
		History:      append([]engine.SetResult(nil), s.Results...),
		TimeoutsLeft: copyTeamInts(s.TimeoutsLeft),
		SubsLeft:     copyTeamInts(s.SubsLeft),
	}
}

func copyTeamInts(m map[engine.Team]int) map[engine.Team]int {
	out := make(map[engine.Team]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
