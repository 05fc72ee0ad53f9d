// Package types holds the JSON wire messages shared by the websocket
// handlers and their clients.
package types

import (
	"github.com/courtside/volley-live-backend/internal/broadcast"
	"github.com/courtside/volley-live-backend/internal/engine"
	"github.com/courtside/volley-live-backend/internal/interact"
	"github.com/courtside/volley-live-backend/internal/momentum"
	"github.com/courtside/volley-live-backend/internal/viewer"
)

// CoachMessage is one scorekeeper action. Type selects the command; the
// remaining fields are read per type.
type CoachMessage struct {
	Type       string    `json:"type"` // "StartMatch" | "StartSet" | "RecordStat" | "Substitute" | "Undo" | "UseTimeout" | "UseSub" | "Propose"
	Team       string    `json:"team,omitempty"`
	Stat       string    `json:"stat,omitempty"`
	PlayerID   string    `json:"player_id,omitempty"`
	AssistID   string    `json:"assist_id,omitempty"`
	Position   int       `json:"position,omitempty"`
	IncomingID string    `json:"incoming_id,omitempty"`
	AsLibero   bool      `json:"as_libero,omitempty"`
	Lineup     [6]string `json:"lineup,omitempty"`
	Transcript string    `json:"transcript,omitempty"` // "Propose" only
}

// CoachServerMessage flows back to the scorekeeper.
type CoachServerMessage struct {
	Type     string           `json:"type"` // "StateSnapshot" | "Error"
	Version  int              `json:"version,omitempty"`
	Status   broadcast.Status `json:"status,omitempty"`
	State    *engine.State    `json:"state,omitempty"`
	Momentum []momentum.Event `json:"momentum,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// ViewerMessage is one viewer interaction.
type ViewerMessage struct {
	Type           string        `json:"type"` // "Register" | "Cheer" | "Alert"
	Name           string        `json:"name,omitempty"`
	CheeringFor    string        `json:"cheering_for,omitempty"`
	AlertType      string        `json:"alert_type,omitempty"`
	Message        string        `json:"message,omitempty"`
	SuggestedScore *engine.Score `json:"suggested_score,omitempty"`
}

// ViewerServerMessage flows to a viewer: reconstructed match views,
// interaction rollups, and interaction errors (cooldowns, entitlement).
type ViewerServerMessage struct {
	Type         string                   `json:"type"` // "MatchUpdate" | "InteractionUpdate" | "Error"
	Version      int64                    `json:"version,omitempty"`
	Match        *viewer.MatchView        `json:"match,omitempty"`
	Interactions *interact.InteractionDoc `json:"interactions,omitempty"`
	Error        string                   `json:"error,omitempty"`
}
