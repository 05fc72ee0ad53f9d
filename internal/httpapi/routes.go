package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/courtside/volley-live-backend/internal/interact"
	"github.com/courtside/volley-live-backend/internal/match"
	"github.com/courtside/volley-live-backend/internal/ws"
)

// SetupRoutes wires the REST handlers and both websocket feeds.
func SetupRoutes(a *API, proposer match.ActionProposer, entitled interact.EntitlementChecker, heartbeatEvery time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Post("/matches", a.CreateMatch)
	r.Get("/matches/{code}", a.GetMatch)
	r.Get("/healthz", a.Healthz)

	r.Get("/ws/coach", ws.CoachHandler(a.Hub, proposer, a.Log))
	r.Get("/ws/viewer", ws.ViewerHandler(a.Store, entitled, heartbeatEvery, a.Log))
	return r
}
