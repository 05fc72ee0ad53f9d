// Package ws carries the two live feeds: the coach (scorekeeper) socket
// that accepts commands and streams authoritative snapshots, and the viewer
// socket that streams reconstructed views and accepts interactions.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/courtside/volley-live-backend/internal/engine"
	"github.com/courtside/volley-live-backend/internal/hub"
	"github.com/courtside/volley-live-backend/internal/match"
	"github.com/courtside/volley-live-backend/internal/matchcode"
	"github.com/courtside/volley-live-backend/internal/types"
)

const (
	writeTimeout = 3 * time.Second
	readTimeout  = 60 * time.Second
)

// CoachHandler upgrades the scorekeeper connection for a match code.
// Commands flow in, versioned snapshots flow out; rule rejections come back
// as Error messages without disturbing the snapshot stream.
func CoachHandler(h *hub.Hub, proposer match.ActionProposer, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := matchcode.Normalize(r.URL.Query().Get("code"))
		if !matchcode.Valid(code) {
			http.Error(w, "invalid code", http.StatusBadRequest)
			return
		}

		reply := make(chan *match.Match, 1)
		h.Inbox() <- hub.GetMatch{Code: code, Reply: reply}
		mt := <-reply
		if mt == nil {
			http.Error(w, "match not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan match.Snapshot, 8)
		clientID, err := gonanoid.New()
		if err != nil {
			return
		}

		mt.Inbox() <- match.Join{ClientID: clientID, Outbox: out}
		defer func() { mt.Inbox() <- match.Leave{ClientID: clientID} }()

		log.Info("coach connected", zap.String("code", code), zap.String("client", clientID))

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for snap := range out {
				writeJSON(writeCtx, conn, types.CoachServerMessage{
					Type:     "StateSnapshot",
					Version:  snap.Version,
					Status:   snap.Status,
					State:    &snap.State,
					Momentum: snap.Momentum,
				})
			}
		}()

		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm types.CoachMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeJSON(r.Context(), conn, types.CoachServerMessage{Type: "Error", Error: "bad json"})
				continue
			}

			if cm.Type == "Propose" {
				handleProposal(r.Context(), conn, mt, proposer, cm.Transcript)
				continue
			}

			cmd, ok := toCommand(cm)
			if !ok {
				writeJSON(r.Context(), conn, types.CoachServerMessage{Type: "Error", Error: "unknown type"})
				continue
			}

			verdict := make(chan error, 1)
			mt.Inbox() <- match.FromCoach{Cmd: cmd, Reply: verdict}
			if err := <-verdict; err != nil {
				writeJSON(r.Context(), conn, types.CoachServerMessage{Type: "Error", Error: err.Error()})
			}
		}
	}
}

// handleProposal runs an utterance through the parser, then through the
// rules engine. Parse failures and per-command rejections both come back as
// Error messages; accepted commands broadcast normally.
func handleProposal(ctx context.Context, conn *websocket.Conn, mt *match.Match, proposer match.ActionProposer, transcript string) {
	if proposer == nil {
		writeJSON(ctx, conn, types.CoachServerMessage{Type: "Error", Error: "no action proposer configured"})
		return
	}
	cmds, err := proposer.ProposeActions(ctx, transcript)
	if err != nil {
		writeJSON(ctx, conn, types.CoachServerMessage{Type: "Error", Error: err.Error()})
		return
	}

	verdicts := make(chan []error, 1)
	mt.Inbox() <- match.Proposal{Cmds: cmds, Reply: verdicts}
	for _, err := range <-verdicts {
		if err != nil {
			writeJSON(ctx, conn, types.CoachServerMessage{Type: "Error", Error: err.Error()})
		}
	}
}

func toCommand(m types.CoachMessage) (engine.Command, bool) {
	team := engine.Team(m.Team)

	switch m.Type {
	case "StartMatch":
		if !team.Valid() {
			return engine.Command{}, false
		}
		return engine.Command{Type: engine.CmdStartMatch, Team: team, Lineup: m.Lineup}, true
	case "StartSet":
		if !team.Valid() {
			return engine.Command{}, false
		}
		return engine.Command{Type: engine.CmdStartSet, Team: team}, true
	case "RecordStat":
		if !team.Valid() {
			return engine.Command{}, false
		}
		return engine.Command{
			Type:     engine.CmdRecordStat,
			Stat:     engine.StatType(m.Stat),
			Team:     team,
			PlayerID: m.PlayerID,
			AssistID: m.AssistID,
		}, true
	case "Substitute":
		return engine.Command{
			Type:       engine.CmdSubstitute,
			Position:   m.Position,
			IncomingID: m.IncomingID,
			AsLibero:   m.AsLibero,
		}, true
	case "Undo":
		return engine.Command{Type: engine.CmdUndo}, true
	case "UseTimeout":
		if !team.Valid() {
			return engine.Command{}, false
		}
		return engine.Command{Type: engine.CmdUseTimeout, Team: team}, true
	case "UseSub":
		if !team.Valid() {
			return engine.Command{}, false
		}
		return engine.Command{Type: engine.CmdUseSub, Team: team}, true
	default:
		return engine.Command{}, false
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	_ = conn.Write(wctx, websocket.MessageText, payload)
	cancel()
}
