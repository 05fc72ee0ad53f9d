package engine

// Pure volleyball rules. No I/O, no state mutation; everything here derives
// facts from a State or Score value.

// FrontRow reports whether a 1-based position is a front-row slot.
func FrontRow(pos int) bool { return pos >= 2 && pos <= 4 }

// PointWinner resolves a rally-ending stat to the team awarded the point.
// Error kinds credit the other team; scoring kinds credit the acting team.
// The second return is false for continuation stats that leave the rally open.
func PointWinner(t StatType, acting Team) (Team, bool) {
	switch t {
	case StatAce, StatKill, StatBlock:
		return acting, true
	case StatServeError, StatAttackError, StatBlockError,
		StatReceptionError, StatBallHandlingError, StatNetViolation:
		return acting.Other(), true
	default:
		return "", false
	}
}

// legalForRally reports whether a stat may be recorded in the given rally
// phase. Serving stats belong to pre-serve, everything else to the open rally.
func legalForRally(t StatType, r RallyPhase) bool {
	switch t {
	case StatAce, StatServe, StatServeError:
		return r == RallyPreServe
	case StatKill, StatAttack, StatDig, StatAttackError, StatBlock,
		StatBlockError, StatReceptionError, StatBallHandlingError, StatNetViolation:
		return r == RallyInRally
	default:
		return false
	}
}

// SetComplete reports whether the score ends the set under the given rules:
// reaching the target with the required lead, or reaching the cap while ahead.
func SetComplete(sc Score, r SetRules) (Team, bool) {
	check := func(us, them int) bool {
		if us >= r.Target && us-them >= r.WinBy {
			return true
		}
		return r.Cap > 0 && us >= r.Cap && us > them
	}
	if check(sc.Mine, sc.Opp) {
		return TeamMine, true
	}
	if check(sc.Opp, sc.Mine) {
		return TeamOpp, true
	}
	return "", false
}

// SetPoint reports which team is one rally away from taking the set. When
// both sides would qualify (not reachable through legal play) myTeam wins the
// tie for display purposes.
func SetPoint(sc Score, r SetRules) (Team, bool) {
	at := func(us, them int) bool {
		if us >= r.Target-1 && us >= them+r.WinBy-1 {
			return true
		}
		return r.Cap > 0 && us == r.Cap-1 && us >= them
	}
	if at(sc.Mine, sc.Opp) {
		return TeamMine, true
	}
	if at(sc.Opp, sc.Mine) {
		return TeamOpp, true
	}
	return "", false
}

// MatchPoint reports which team is one rally away from winning the match:
// set point in a set whose win would clinch the majority.
func MatchPoint(s State) (Team, bool) {
	team, ok := SetPoint(s.CurrentScore(), s.Config.SetRulesFor(s.CurrentSet))
	if !ok {
		return "", false
	}
	if s.SetsWon[team]+1 >= s.Config.ClinchCount() {
		return team, true
	}
	return "", false
}

// rotated shifts the court one position: the occupant of slot 1 moves to
// slot 2, and so on around to slot 6 wrapping back to slot 1.
func rotated(rot [6]RotationSlot) [6]RotationSlot {
	var next [6]RotationSlot
	for i := 0; i < 6; i++ {
		next[(i+1)%6] = rot[i]
	}
	return next
}

func onCourt(rot [6]RotationSlot, playerID string) bool {
	for _, slot := range rot {
		if slot.PlayerID == playerID && playerID != "" {
			return true
		}
	}
	return false
}

func liberoOnCourt(rot [6]RotationSlot, exceptPos int) bool {
	for i, slot := range rot {
		if i+1 == exceptPos {
			continue
		}
		if slot.IsLibero {
			return true
		}
	}
	return false
}

func isDesignatedLibero(s State, playerID string) bool {
	for _, id := range s.LiberoIDs {
		if id == playerID {
			return true
		}
	}
	return false
}

// EligibleSubs lists rostered players who could legally enter the given
// position right now: not already on court, and permitted by the slot's
// pairing unless they are a libero entering a back-row slot.
func EligibleSubs(s State, pos int) []Player {
	if pos < 1 || pos > 6 {
		return nil
	}
	occupant := s.Rotation[pos-1]
	partner, paired := s.Pairings[occupant.PlayerID]

	var out []Player
	for _, p := range s.Roster {
		if onCourt(s.Rotation, p.ID) {
			continue
		}
		libero := isDesignatedLibero(s, p.ID)
		if libero && FrontRow(pos) {
			continue
		}
		if libero && liberoOnCourt(s.Rotation, pos) {
			continue
		}
		if paired && partner != p.ID {
			if !(libero && !FrontRow(pos) && !occupant.IsLibero) {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}
