package engine

import (
	"errors"
	"time"
)

var ErrMatchNotLive = errors.New("match is not live")
var ErrMatchCompleted = errors.New("match already completed")
var ErrIllegalStat = errors.New("stat not legal in current rally phase")
var ErrUnknownTeam = errors.New("unknown team")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrBadPosition = errors.New("position must be 1-6")
var ErrNotOnRoster = errors.New("player not on roster")
var ErrAlreadyOnCourt = errors.New("player already on court")
var ErrLiberoFrontRow = errors.New("libero cannot enter a front-row position")
var ErrLiberoLimit = errors.New("only two liberos may be designated per match")
var ErrLiberoOnCourt = errors.New("another libero is already on court")
var ErrPairingViolation = errors.New("position is paired with a different substitute")
var ErrNoTimeoutsLeft = errors.New("no timeouts remaining")
var ErrNoSubsLeft = errors.New("no substitutions remaining")
var ErrSetNotFinished = errors.New("current set is not finished")
var ErrLineupIncomplete = errors.New("starting lineup must fill all six positions")

type Team string

const (
	TeamMine Team = "myTeam"
	TeamOpp  Team = "opponent"
)

func (t Team) Other() Team {
	if t == TeamMine {
		return TeamOpp
	}
	return TeamMine
}

func (t Team) Valid() bool { return t == TeamMine || t == TeamOpp }

type Phase string

const (
	PhaseSetup       Phase = "setup"
	PhaseLive        Phase = "live"
	PhaseBetweenSets Phase = "between-sets"
	PhaseCompleted   Phase = "completed"
)

type RallyPhase string

const (
	RallyPreServe RallyPhase = "pre-serve"
	RallyInRally  RallyPhase = "in-rally"
)

// StatType is the kind of a logged stat event. Scoring kinds award the rally
// to the acting team, error kinds award it to the other team, and continuation
// kinds leave the rally open.
type StatType string

const (
	StatAce     StatType = "ace"
	StatKill    StatType = "kill"
	StatBlock   StatType = "block"
	StatServe   StatType = "serve"
	StatAttack  StatType = "attack"
	StatDig     StatType = "dig"
	StatServeError        StatType = "serve_error"
	StatAttackError       StatType = "attack_error"
	StatBlockError        StatType = "block_error"
	StatReceptionError    StatType = "reception_error"
	StatBallHandlingError StatType = "ball_handling_error"
	StatNetViolation      StatType = "net_violation"
	StatSubstitution StatType = "substitution"
	StatTimeout      StatType = "timeout"
	StatSetStart     StatType = "set_start"
)

type Score struct {
	Mine int `json:"myTeam"`
	Opp  int `json:"opponent"`
}

func (s Score) Of(t Team) int {
	if t == TeamMine {
		return s.Mine
	}
	return s.Opp
}

func (s Score) incr(t Team) Score {
	if t == TeamMine {
		s.Mine++
	} else {
		s.Opp++
	}
	return s
}

// SetRules are the scoring parameters for one set.
type SetRules struct {
	Target int `json:"targetScore"`
	WinBy  int `json:"winBy"`
	Cap    int `json:"cap"`
}

// MatchConfig is immutable for the lifetime of a match. Sets must have one
// entry per set index up to TotalSets.
type MatchConfig struct {
	TotalSets      int        `json:"totalSets"`
	Sets           []SetRules `json:"sets"`
	TimeoutsPerSet int        `json:"timeoutsPerSet"`
	SubsPerSet     int        `json:"subsPerSet"`
}

// SetRulesFor returns the rules for a 1-based set number, falling back to the
// last configured entry so a malformed config can never panic mid-match.
func (c MatchConfig) SetRulesFor(set int) SetRules {
	if set >= 1 && set <= len(c.Sets) {
		return c.Sets[set-1]
	}
	if len(c.Sets) > 0 {
		return c.Sets[len(c.Sets)-1]
	}
	return SetRules{Target: 25, WinBy: 2, Cap: 30}
}

// ClinchCount is the number of set wins that ends the match.
func (c MatchConfig) ClinchCount() int { return c.TotalSets/2 + 1 }

type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Number int    `json:"number"`
}

// RotationSlot is one of the six court positions. Index 0 of a rotation array
// is position 1 (the serving position).
type RotationSlot struct {
	PlayerID string `json:"playerId"`
	IsLibero bool   `json:"isLibero"`
}

type SetResult struct {
	Set    int   `json:"set"`
	Score  Score `json:"score"`
	Winner Team  `json:"winner"`
}

// StatEvent is an append-only log entry. It is immutable once appended and
// carries enough pre-event state for Undo to restore the match exactly.
type StatEvent struct {
	ID          string    `json:"id"`
	Seq         int       `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	Type        StatType  `json:"type"`
	Team        Team      `json:"team"`
	Set         int       `json:"setNumber"`
	ScoreBefore Score     `json:"scoreSnapshot"`
	PlayerID    string    `json:"playerId,omitempty"`
	AssistID    string    `json:"assistPlayerId,omitempty"`

	// Undo bookkeeping. Stripped from broadcast snapshots.
	RotationBefore   *[6]RotationSlot `json:"rotationSnapshot,omitempty"`
	ServeBefore      Team             `json:"serveBefore,omitempty"`
	RallyBefore      RallyPhase       `json:"rallyBefore,omitempty"`
	SetWon           bool             `json:"setWon,omitempty"`
	SubIn            string           `json:"subIn,omitempty"`
	SubOut           string           `json:"subOut,omitempty"`
	SubLibero        bool             `json:"subLibero,omitempty"`
	SubCounted       bool             `json:"subCounted,omitempty"`
	PairedNew        bool             `json:"pairedNew,omitempty"`
	LiberoDesignated bool             `json:"liberoDesignated,omitempty"`
	TimeoutsBefore   map[Team]int     `json:"timeoutsBefore,omitempty"`
	SubsBefore       map[Team]int     `json:"subsBefore,omitempty"`
}

// State is the aggregate root for one match. It is only mutated through
// Apply, which returns a fresh copy; callers must treat values as immutable.
type State struct {
	Phase        Phase             `json:"phase"`
	Rally        RallyPhase        `json:"rallyPhase"`
	Config       MatchConfig       `json:"config"`
	CurrentSet   int               `json:"currentSet"`
	Scores       []Score           `json:"scores"`
	SetsWon      map[Team]int      `json:"setsWon"`
	Serving      Team              `json:"servingTeam"`
	Rotation     [6]RotationSlot   `json:"rotation"`
	Roster       []Player          `json:"roster"`
	LiberoIDs    []string          `json:"liberoIds"`
	Pairings     map[string]string `json:"subPairings"`
	Log          []StatEvent       `json:"log"`
	Results      []SetResult       `json:"setResults"`
	TimeoutsLeft map[Team]int      `json:"timeoutsLeft"`
	SubsLeft     map[Team]int      `json:"subsLeft"`
	NextSeq      int               `json:"nextSeq"`
}

// CurrentScore returns the score of the set in progress.
func (s State) CurrentScore() Score {
	if s.CurrentSet >= 1 && s.CurrentSet <= len(s.Scores) {
		return s.Scores[s.CurrentSet-1]
	}
	return Score{}
}

type CommandType string

const (
	CmdStartMatch CommandType = "StartMatch"
	CmdStartSet   CommandType = "StartSet"
	CmdRecordStat CommandType = "RecordStat"
	CmdSubstitute CommandType = "Substitute"
	CmdUndo       CommandType = "Undo"
	CmdUseTimeout CommandType = "UseTimeout"
	CmdUseSub     CommandType = "UseSub"
)

type Command struct {
	Type CommandType
	Stat StatType
	Team Team
	// At stamps the appended event; zero means time.Now.
	At time.Time

	PlayerID string
	AssistID string

	// Substitute fields.
	Position   int
	IncomingID string
	AsLibero   bool

	// StartMatch fields. Lineup holds the player id per position 1-6.
	Lineup [6]string
}

type EventType string

const (
	EvtMatchStarted     EventType = "MatchStarted"
	EvtSetStarted       EventType = "SetStarted"
	EvtStatRecorded     EventType = "StatRecorded"
	EvtRallyWon         EventType = "RallyWon"
	EvtRotationAdvanced EventType = "RotationAdvanced"
	EvtSetCompleted     EventType = "SetCompleted"
	EvtMatchCompleted   EventType = "MatchCompleted"
	EvtSubstitution     EventType = "Substitution"
	EvtTimeoutUsed      EventType = "TimeoutUsed"
	EvtSubUsed          EventType = "SubUsed"
	EvtUndone           EventType = "Undone"
)

// Event is a notification emitted by Apply for observers (broadcast,
// persistence, momentum feed). It is not the log entry; see StatEvent.
type Event struct {
	Type EventType
	Team Team
	Stat StatType
	Set  int
}
