// Package momentum derives notable-moment events from the ordered stat log.
// Detection is a pure scan: callers track how far they have scanned and hand
// the detector only the log and the resume index.
package momentum

import (
	"github.com/courtside/volley-live-backend/internal/engine"
)

type Kind string

const (
	KindPointRun   Kind = "point_run"
	KindSideOut    Kind = "side_out"
	KindComeback   Kind = "comeback"
	KindSetPoint   Kind = "set_point"
	KindMatchPoint Kind = "match_point"
	KindSetWon     Kind = "set_won"
)

// Event is a display-level moment derived from the log. The UI throttles
// presentation; detection itself never suppresses a moment.
type Event struct {
	Kind  Kind         `json:"kind"`
	Team  engine.Team  `json:"team"`
	Set   int          `json:"set"`
	Seq   int          `json:"seq"`
	Run   int          `json:"run,omitempty"`
	Score engine.Score `json:"score"`
}

// runLength of consecutive rally wins and max deficit tracking per team.
type scan struct {
	set        int
	lastWinner engine.Team
	run        int
	maxDeficit map[engine.Team]int
}

func newScan(set int) *scan {
	return &scan{set: set, maxDeficit: map[engine.Team]int{}}
}

// Detect scans log entries at index >= from and returns the moments they
// produce. Earlier entries are only read to seed run and deficit context, so
// a log truncated for broadcast still yields correct results for its window.
// setsWonBase is each side's set tally at the start of the log window; it
// gates set point vs match point.
func Detect(log []engine.StatEvent, from int, cfg engine.MatchConfig, setsWonBase map[engine.Team]int) []Event {
	if from < 0 {
		from = 0
	}

	setsWon := map[engine.Team]int{
		engine.TeamMine: setsWonBase[engine.TeamMine],
		engine.TeamOpp:  setsWonBase[engine.TeamOpp],
	}

	var out []Event
	var st *scan

	for i, ev := range log {
		if st == nil || ev.Set != st.set {
			st = newScan(ev.Set)
		}

		winner, ends := engine.PointWinner(ev.Type, ev.Team)
		if !ends {
			continue
		}

		after := scoreAfter(ev, winner)
		rules := cfg.SetRulesFor(ev.Set)
		emit := i >= from

		// Side-out breaking a run must look at the run before this rally.
		if emit && winner != ev.ServeBefore && st.lastWinner == ev.ServeBefore && st.run >= 2 {
			out = append(out, Event{Kind: KindSideOut, Team: winner, Set: ev.Set, Seq: ev.Seq, Run: st.run, Score: after})
		}

		if winner == st.lastWinner {
			st.run++
		} else {
			st.lastWinner = winner
			st.run = 1
		}
		if emit && st.run >= 3 {
			out = append(out, Event{Kind: KindPointRun, Team: winner, Set: ev.Set, Seq: ev.Seq, Run: st.run, Score: after})
		}

		// Deficits: grow while trailing, a >=3 deficit erased to tie or
		// lead is a comeback.
		for _, team := range []engine.Team{engine.TeamMine, engine.TeamOpp} {
			deficit := after.Of(team.Other()) - after.Of(team)
			if deficit > st.maxDeficit[team] {
				st.maxDeficit[team] = deficit
			}
		}
		if deficitErased := st.maxDeficit[winner] >= 3 && after.Of(winner) >= after.Of(winner.Other()); deficitErased {
			if emit {
				out = append(out, Event{Kind: KindComeback, Team: winner, Set: ev.Set, Seq: ev.Seq, Run: st.maxDeficit[winner], Score: after})
			}
			st.maxDeficit[winner] = 0
		}

		// Set or match point, only on the rally that creates it.
		if team, ok := engine.SetPoint(after, rules); ok {
			if _, was := engine.SetPoint(ev.ScoreBefore, rules); !was && emit {
				kind := KindSetPoint
				if setsWon[team]+1 >= cfg.ClinchCount() {
					kind = KindMatchPoint
				}
				out = append(out, Event{Kind: kind, Team: team, Set: ev.Set, Seq: ev.Seq, Score: after})
			}
		}

		if ev.SetWon {
			setsWon[winner]++
			if emit {
				out = append(out, Event{Kind: KindSetWon, Team: winner, Set: ev.Set, Seq: ev.Seq, Score: after})
			}
		}
	}

	return out
}

func scoreAfter(ev engine.StatEvent, winner engine.Team) engine.Score {
	after := ev.ScoreBefore
	if winner == engine.TeamMine {
		after.Mine++
	} else {
		after.Opp++
	}
	return after
}
