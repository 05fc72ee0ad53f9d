package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/courtside/volley-live-backend/internal/engine"
	"github.com/courtside/volley-live-backend/internal/interact"
	"github.com/courtside/volley-live-backend/internal/store"
	"github.com/courtside/volley-live-backend/internal/types"
	"github.com/courtside/volley-live-backend/internal/viewer"
)

// ViewerHandler upgrades a spectator connection for a match code. The
// spectator never reaches the match actor; everything it sees comes from the
// shared store, and everything it sends goes through the interaction
// partition under its own device id.
func ViewerHandler(st store.Store, entitled interact.EntitlementChecker, heartbeatEvery time.Duration, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		name := r.URL.Query().Get("name")
		if name == "" {
			name = "viewer"
		}
		cheeringFor := engine.Team(r.URL.Query().Get("team"))

		deviceID, err := gonanoid.New()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		agg := interact.NewAggregator(st, log, entitled, code, deviceID, name)

		sub, err := viewer.Subscribe(r.Context(), st, log, code,
			viewer.WithHeartbeat(agg, heartbeatEvery))
		switch {
		case errors.Is(err, viewer.ErrInvalidCode):
			http.Error(w, "invalid code", http.StatusBadRequest)
			return
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "match not found", http.StatusNotFound)
			return
		case err != nil:
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer sub.Close()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		if err := agg.RegisterPresence(r.Context(), cheeringFor); err != nil {
			log.Warn("presence registration failed", zap.String("code", sub.Code()), zap.Error(err))
		}
		defer agg.Unregister(context.Background())

		log.Info("viewer connected",
			zap.String("code", sub.Code()),
			zap.String("device", deviceID))

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for u := range sub.Updates() {
				switch u.Kind {
				case viewer.UpdateMatch:
					writeJSON(writeCtx, conn, types.ViewerServerMessage{
						Type:    "MatchUpdate",
						Version: u.Version,
						Match:   u.Match,
					})
				case viewer.UpdateInteractions:
					writeJSON(writeCtx, conn, types.ViewerServerMessage{
						Type:         "InteractionUpdate",
						Version:      u.Version,
						Interactions: u.Interactions,
					})
				}
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

			var vm types.ViewerMessage
			if err := json.Unmarshal(data, &vm); err != nil {
				writeJSON(r.Context(), conn, types.ViewerServerMessage{Type: "Error", Error: "bad json"})
				continue
			}

			if err := handleViewerMessage(r.Context(), agg, vm); err != nil {
				writeJSON(r.Context(), conn, types.ViewerServerMessage{Type: "Error", Error: err.Error()})
			}
		}
	}
}

func handleViewerMessage(ctx context.Context, agg *interact.Aggregator, vm types.ViewerMessage) error {
	switch vm.Type {
	case "Register":
		// Re-register to switch sides or fix the display name.
		return agg.RegisterPresence(ctx, engine.Team(vm.CheeringFor))
	case "Cheer":
		return agg.SendCheer(ctx)
	case "Alert":
		return agg.SendAlert(ctx, interact.Alert{
			Type:           vm.AlertType,
			Message:        vm.Message,
			SuggestedScore: vm.SuggestedScore,
		})
	default:
		return errors.New("unknown type")
	}
}
