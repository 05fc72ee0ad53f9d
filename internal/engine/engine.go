package engine

import (
	"time"

	"github.com/google/uuid"
)

// Apply runs one command against the match state machine. It never mutates
// the input state: on success it returns the emitted events and the successor
// state, on rejection it returns the input state unchanged and a sentinel
// error describing the violation.
func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdStartMatch:
		return applyStartMatch(s, cmd)
	case CmdStartSet:
		return applyStartSet(s, cmd)
	case CmdRecordStat:
		return applyRecordStat(s, cmd)
	case CmdSubstitute:
		return applySubstitute(s, cmd)
	case CmdUndo:
		return applyUndo(s)
	case CmdUseTimeout:
		return applyUseTimeout(s, cmd)
	case CmdUseSub:
		return applyUseSub(s, cmd)
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func applyStartMatch(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseCompleted {
		return nil, s, ErrMatchCompleted
	}
	if s.Phase != PhaseSetup {
		return nil, s, ErrMatchNotLive
	}
	if !cmd.Team.Valid() {
		return nil, s, ErrUnknownTeam
	}
	for _, id := range cmd.Lineup {
		if id == "" {
			return nil, s, ErrLineupIncomplete
		}
	}

	ns := clone(s)
	ns.Phase = PhaseLive
	ns.Rally = RallyPreServe
	ns.CurrentSet = 1
	ns.Scores = []Score{{}}
	ns.Serving = cmd.Team
	for i, id := range cmd.Lineup {
		ns.Rotation[i] = RotationSlot{PlayerID: id}
	}
	ns.TimeoutsLeft = map[Team]int{TeamMine: s.Config.TimeoutsPerSet, TeamOpp: s.Config.TimeoutsPerSet}
	ns.SubsLeft = map[Team]int{TeamMine: s.Config.SubsPerSet, TeamOpp: s.Config.SubsPerSet}

	return []Event{{Type: EvtMatchStarted, Team: cmd.Team, Set: 1}}, ns, nil
}

func applyStartSet(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseCompleted {
		return nil, s, ErrMatchCompleted
	}
	if s.Phase != PhaseBetweenSets {
		return nil, s, ErrMatchNotLive
	}
	if !cmd.Team.Valid() {
		return nil, s, ErrUnknownTeam
	}

	ns := clone(s)
	ev := newLogEvent(&ns, StatSetStart, cmd.Team, cmd.At)
	ev.TimeoutsBefore = copyCounters(s.TimeoutsLeft)
	ev.SubsBefore = copyCounters(s.SubsLeft)

	ns.CurrentSet++
	ns.Scores = append(ns.Scores, Score{})
	ns.Serving = cmd.Team
	ns.Rally = RallyPreServe
	ns.Phase = PhaseLive
	ns.TimeoutsLeft = map[Team]int{TeamMine: s.Config.TimeoutsPerSet, TeamOpp: s.Config.TimeoutsPerSet}
	ns.SubsLeft = map[Team]int{TeamMine: s.Config.SubsPerSet, TeamOpp: s.Config.SubsPerSet}
	ev.Set = ns.CurrentSet
	ns.Log = append(ns.Log, ev)

	return []Event{{Type: EvtSetStarted, Team: cmd.Team, Set: ns.CurrentSet}}, ns, nil
}

func applyRecordStat(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseCompleted {
		return nil, s, ErrMatchCompleted
	}
	if s.Phase != PhaseLive {
		return nil, s, ErrMatchNotLive
	}
	if !cmd.Team.Valid() {
		return nil, s, ErrUnknownTeam
	}
	if !legalForRally(cmd.Stat, s.Rally) {
		return nil, s, ErrIllegalStat
	}

	ns := clone(s)
	ev := newLogEvent(&ns, cmd.Stat, cmd.Team, cmd.At)
	ev.PlayerID = cmd.PlayerID
	ev.AssistID = cmd.AssistID

	events := []Event{{Type: EvtStatRecorded, Team: cmd.Team, Stat: cmd.Stat, Set: s.CurrentSet}}

	winner, ends := PointWinner(cmd.Stat, cmd.Team)
	if !ends {
		// Continuation: a serve opens the rally, digs and kept attacks
		// leave it open.
		if cmd.Stat == StatServe {
			ns.Rally = RallyInRally
		}
		ns.Log = append(ns.Log, ev)
		return events, ns, nil
	}

	ns.Scores[ns.CurrentSet-1] = ns.CurrentScore().incr(winner)
	ns.Rally = RallyPreServe
	events = append(events, Event{Type: EvtRallyWon, Team: winner, Set: s.CurrentSet})

	// Rotate only on a side-out, never on a continued serve. Opponent
	// rotation is not tracked, so only our own side-out shifts the court.
	if winner != s.Serving {
		ns.Serving = winner
		if winner == TeamMine {
			rot := s.Rotation
			ev.RotationBefore = &rot
			ns.Rotation = rotated(s.Rotation)
			expelFrontRowLibero(&ns)
			events = append(events, Event{Type: EvtRotationAdvanced, Team: winner, Set: s.CurrentSet})
		}
	}

	if setWinner, done := SetComplete(ns.CurrentScore(), ns.Config.SetRulesFor(ns.CurrentSet)); done {
		ev.SetWon = true
		ns.Results = append(ns.Results, SetResult{Set: ns.CurrentSet, Score: ns.CurrentScore(), Winner: setWinner})
		ns.SetsWon[setWinner]++
		events = append(events, Event{Type: EvtSetCompleted, Team: setWinner, Set: ns.CurrentSet})

		if ns.SetsWon[setWinner] >= ns.Config.ClinchCount() {
			ns.Phase = PhaseCompleted
			events = append(events, Event{Type: EvtMatchCompleted, Team: setWinner, Set: ns.CurrentSet})
		} else {
			ns.Phase = PhaseBetweenSets
		}
	}

	ns.Log = append(ns.Log, ev)
	return events, ns, nil
}

func applySubstitute(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseCompleted {
		return nil, s, ErrMatchCompleted
	}
	if s.Phase != PhaseLive {
		return nil, s, ErrMatchNotLive
	}
	if cmd.Position < 1 || cmd.Position > 6 {
		return nil, s, ErrBadPosition
	}
	if !rostered(s, cmd.IncomingID) {
		return nil, s, ErrNotOnRoster
	}
	if onCourt(s.Rotation, cmd.IncomingID) {
		return nil, s, ErrAlreadyOnCourt
	}

	occupant := s.Rotation[cmd.Position-1]
	libero := cmd.AsLibero || isDesignatedLibero(s, cmd.IncomingID)
	newLibero := libero && !isDesignatedLibero(s, cmd.IncomingID)

	if newLibero && len(s.LiberoIDs) >= 2 {
		return nil, s, ErrLiberoLimit
	}
	if libero && FrontRow(cmd.Position) {
		return nil, s, ErrLiberoFrontRow
	}
	if libero && liberoOnCourt(s.Rotation, cmd.Position) {
		return nil, s, ErrLiberoOnCourt
	}

	// Pairing isolation: a paired slot may only be refilled by its declared
	// partner. A libero entering a back-row slot over a non-libero is exempt.
	if partner, paired := s.Pairings[occupant.PlayerID]; paired && partner != cmd.IncomingID {
		if !(libero && !FrontRow(cmd.Position) && !occupant.IsLibero) {
			return nil, s, ErrPairingViolation
		}
	}

	counted := !libero && !occupant.IsLibero
	if counted && s.SubsLeft[TeamMine] <= 0 {
		return nil, s, ErrNoSubsLeft
	}

	ns := clone(s)
	ev := newLogEvent(&ns, StatSubstitution, TeamMine, cmd.At)
	ev.PlayerID = cmd.IncomingID
	ev.SubIn = cmd.IncomingID
	ev.SubOut = occupant.PlayerID
	ev.SubLibero = libero
	rot := s.Rotation
	ev.RotationBefore = &rot

	if counted {
		ns.SubsLeft[TeamMine]--
		ev.SubCounted = true
	}
	if newLibero {
		ns.LiberoIDs = append(ns.LiberoIDs, cmd.IncomingID)
		ev.LiberoDesignated = true
	}
	if _, has := ns.Pairings[cmd.IncomingID]; !has && counted && occupant.PlayerID != "" {
		ns.Pairings[cmd.IncomingID] = occupant.PlayerID
		ns.Pairings[occupant.PlayerID] = cmd.IncomingID
		ev.PairedNew = true
	}
	ns.Rotation[cmd.Position-1] = RotationSlot{PlayerID: cmd.IncomingID, IsLibero: libero}
	ns.Log = append(ns.Log, ev)

	return []Event{{Type: EvtSubstitution, Team: TeamMine, Set: s.CurrentSet}}, ns, nil
}

func applyUndo(s State) ([]Event, State, error) {
	// Undo on an empty log is a no-op by contract.
	if len(s.Log) == 0 {
		return nil, s, nil
	}

	ns := clone(s)
	ev := ns.Log[len(ns.Log)-1]
	ns.Log = ns.Log[:len(ns.Log)-1]
	if len(ns.Log) == 0 {
		ns.Log = nil
	}
	ns.NextSeq--

	switch ev.Type {
	case StatSetStart:
		ns.CurrentSet--
		ns.Scores = ns.Scores[:len(ns.Scores)-1]
		ns.Phase = PhaseBetweenSets
		ns.Serving = ev.ServeBefore
		ns.Rally = ev.RallyBefore
		ns.TimeoutsLeft = copyCounters(ev.TimeoutsBefore)
		ns.SubsLeft = copyCounters(ev.SubsBefore)

	case StatSubstitution:
		if ev.RotationBefore != nil {
			ns.Rotation = *ev.RotationBefore
		}
		if ev.SubCounted {
			ns.SubsLeft[ev.Team]++
		}
		if ev.PairedNew {
			delete(ns.Pairings, ev.SubIn)
			delete(ns.Pairings, ev.SubOut)
		}
		if ev.LiberoDesignated {
			ns.LiberoIDs = removeID(ns.LiberoIDs, ev.SubIn)
		}

	case StatTimeout:
		ns.TimeoutsLeft[ev.Team]++

	default:
		ns.Scores[ev.Set-1] = ev.ScoreBefore
		ns.Serving = ev.ServeBefore
		ns.Rally = ev.RallyBefore
		if ev.RotationBefore != nil {
			ns.Rotation = *ev.RotationBefore
		}
		if ev.SetWon {
			winner := ns.Results[len(ns.Results)-1].Winner
			ns.Results = ns.Results[:len(ns.Results)-1]
			if len(ns.Results) == 0 {
				ns.Results = nil
			}
			ns.SetsWon[winner]--
			ns.Phase = PhaseLive
		}
	}

	return []Event{{Type: EvtUndone, Team: ev.Team, Stat: ev.Type, Set: ev.Set}}, ns, nil
}

func applyUseTimeout(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseCompleted {
		return nil, s, ErrMatchCompleted
	}
	if s.Phase != PhaseLive {
		return nil, s, ErrMatchNotLive
	}
	if !cmd.Team.Valid() {
		return nil, s, ErrUnknownTeam
	}
	if s.TimeoutsLeft[cmd.Team] <= 0 {
		return nil, s, ErrNoTimeoutsLeft
	}

	ns := clone(s)
	ev := newLogEvent(&ns, StatTimeout, cmd.Team, cmd.At)
	ns.TimeoutsLeft[cmd.Team]--
	ns.Log = append(ns.Log, ev)

	return []Event{{Type: EvtTimeoutUsed, Team: cmd.Team, Set: s.CurrentSet}}, ns, nil
}

// applyUseSub is the bare counter decrement, used for the opponent's bench
// (whose rotation we do not track). Our own substitutions go through
// CmdSubstitute, which counts as part of the full legality check.
func applyUseSub(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseCompleted {
		return nil, s, ErrMatchCompleted
	}
	if s.Phase != PhaseLive {
		return nil, s, ErrMatchNotLive
	}
	if !cmd.Team.Valid() {
		return nil, s, ErrUnknownTeam
	}
	if s.SubsLeft[cmd.Team] <= 0 {
		return nil, s, ErrNoSubsLeft
	}

	ns := clone(s)
	ev := newLogEvent(&ns, StatSubstitution, cmd.Team, cmd.At)
	ev.SubCounted = true
	ns.SubsLeft[cmd.Team]--
	ns.Log = append(ns.Log, ev)

	return []Event{{Type: EvtSubUsed, Team: cmd.Team, Set: s.CurrentSet}}, ns, nil
}

// newLogEvent stamps a log entry with the shared pre-event snapshot fields
// every undo path relies on. The caller appends it after filling
// kind-specific fields.
func newLogEvent(ns *State, t StatType, team Team, at time.Time) StatEvent {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	ev := StatEvent{
		ID:          uuid.NewString(),
		Seq:         ns.NextSeq,
		Timestamp:   at,
		Type:        t,
		Team:        team,
		Set:         ns.CurrentSet,
		ScoreBefore: ns.CurrentScore(),
		ServeBefore: ns.Serving,
		RallyBefore: ns.Rally,
	}
	ns.NextSeq++
	return ev
}

// expelFrontRowLibero swaps a libero who rotated into the front row back out
// for their pair partner. Without a recorded partner the slot is left alone;
// the next substitution fixes it under the normal rules.
func expelFrontRowLibero(ns *State) {
	for pos := 2; pos <= 4; pos++ {
		slot := ns.Rotation[pos-1]
		if !slot.IsLibero {
			continue
		}
		if partner, ok := ns.Pairings[slot.PlayerID]; ok && !onCourt(ns.Rotation, partner) {
			ns.Rotation[pos-1] = RotationSlot{PlayerID: partner}
		}
	}
}

func rostered(s State, playerID string) bool {
	for _, p := range s.Roster {
		if p.ID == playerID {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	var out []string
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func copyCounters(m map[Team]int) map[Team]int {
	out := make(map[Team]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
