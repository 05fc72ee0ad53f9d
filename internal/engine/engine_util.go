package engine

// DefaultConfig is a standard best-of-five: sets to 25 win-by-2 capped at 30,
// deciding set to 15 capped at 20.
func DefaultConfig() MatchConfig {
	cfg := MatchConfig{TotalSets: 5, TimeoutsPerSet: 2, SubsPerSet: 6}
	for i := 0; i < 4; i++ {
		cfg.Sets = append(cfg.Sets, SetRules{Target: 25, WinBy: 2, Cap: 30})
	}
	cfg.Sets = append(cfg.Sets, SetRules{Target: 15, WinBy: 2, Cap: 20})
	return cfg
}

// NewState returns a match in setup with the given config and roster.
// StartMatch takes it live.
func NewState(cfg MatchConfig, roster []Player) State {
	return State{
		Phase:        PhaseSetup,
		Rally:        RallyPreServe,
		Config:       cfg,
		SetsWon:      map[Team]int{TeamMine: 0, TeamOpp: 0},
		Roster:       roster,
		Pairings:     map[string]string{},
		TimeoutsLeft: map[Team]int{},
		SubsLeft:     map[Team]int{},
	}
}

// clone deep-copies the mutable containers so Apply can build a successor
// state without aliasing the input. Nil-ness of slices is preserved to keep
// undo round-trips comparable with reflect.DeepEqual.
func clone(s State) State {
	ns := s
	if s.Scores != nil {
		ns.Scores = append([]Score(nil), s.Scores...)
	}
	if s.Log != nil {
		ns.Log = append([]StatEvent(nil), s.Log...)
	}
	if s.Results != nil {
		ns.Results = append([]SetResult(nil), s.Results...)
	}
	if s.LiberoIDs != nil {
		ns.LiberoIDs = append([]string(nil), s.LiberoIDs...)
	}
	if s.Roster != nil {
		ns.Roster = append([]Player(nil), s.Roster...)
	}
	if s.SetsWon != nil {
		ns.SetsWon = copyCounters(s.SetsWon)
	}
	if s.TimeoutsLeft != nil {
		ns.TimeoutsLeft = copyCounters(s.TimeoutsLeft)
	}
	if s.SubsLeft != nil {
		ns.SubsLeft = copyCounters(s.SubsLeft)
	}
	if s.Pairings != nil {
		ns.Pairings = make(map[string]string, len(s.Pairings))
		for k, v := range s.Pairings {
			ns.Pairings[k] = v
		}
	}
	return ns
}

// ContainsEvent reports whether an emitted event batch includes the type.
func ContainsEvent(events []Event, t EventType) bool {
	for _, ev := range events {
		if ev.Type == t {
			return true
		}
	}
	return false
}
