// Package httpapi exposes the REST surface: match creation, match lookup,
// and health. The live feeds live on the websocket routes.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/courtside/volley-live-backend/internal/broadcast"
	"github.com/courtside/volley-live-backend/internal/engine"
	"github.com/courtside/volley-live-backend/internal/hub"
	"github.com/courtside/volley-live-backend/internal/match"
	"github.com/courtside/volley-live-backend/internal/matchcode"
	"github.com/courtside/volley-live-backend/internal/store"
)

const maxCodeAttempts = 5

// API bundles the collaborators the handlers need.
type API struct {
	Hub   *hub.Hub
	Store store.Store
	Pub   *broadcast.Publisher
	Log   *zap.Logger
}

type createMatchRequest struct {
	TeamName     string          `json:"team_name"`
	OpponentName string          `json:"opponent_name"`
	Roster       []engine.Player `json:"roster"`
	TotalSets    int             `json:"total_sets,omitempty"` // 3 or 5, default 5
}

type createMatchResponse struct {
	Code string `json:"code"`
}

// CreateMatch allocates a fresh code, spawns the match actor, and seeds the
// shared document so viewers can subscribe before the first serve.
func (a *API) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if len(req.Roster) < 6 {
		writeError(w, http.StatusBadRequest, "roster needs at least 6 players")
		return
	}
	cfg, err := configFor(req.TotalSets)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	code, err := a.freshCode(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to allocate code")
		return
	}

	state := engine.NewState(cfg, req.Roster)
	reply := make(chan *match.Match, 1)
	a.Hub.Inbox() <- hub.CreateMatch{Code: code, State: state, Reply: reply}
	if <-reply == nil {
		writeError(w, http.StatusInternalServerError, "failed to create match")
		return
	}

	// Creation metadata first: the publisher patches snapshot fields and
	// leaves everything else in the document alone.
	meta := store.Fields{
		"createdAt":    time.Now().UTC(),
		"teamName":     req.TeamName,
		"opponentName": req.OpponentName,
	}
	if err := a.Store.Patch(r.Context(), code, meta); err != nil {
		a.Log.Warn("seed metadata failed", zap.String("code", code), zap.Error(err))
	}
	if err := a.Pub.Publish(r.Context(), code, state, broadcast.StatusScheduled); err != nil {
		a.Log.Warn("seed snapshot failed", zap.String("code", code), zap.Error(err))
	}

	a.Log.Info("match created", zap.String("code", code), zap.Int("roster", len(req.Roster)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createMatchResponse{Code: code})
}

// GetMatch returns the current shared document for a code.
func (a *API) GetMatch(w http.ResponseWriter, r *http.Request) {
	code := matchcode.Normalize(chi.URLParam(r, "code"))
	if !matchcode.Valid(code) {
		writeError(w, http.StatusBadRequest, "invalid code")
		return
	}

	doc, err := a.Store.Get(r.Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "match not found")
		return
	}
	if err != nil {
		a.Log.Error("match lookup failed", zap.String("code", code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Code    string       `json:"code"`
		Version int64        `json:"version"`
		Fields  store.Fields `json:"fields"`
	}{Code: doc.Code, Version: doc.Version, Fields: doc.Fields})
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// freshCode draws codes until one is unused in both the registry and the
// store. Collisions are vanishingly rare at this keyspace; the retry cap
// exists so a store outage cannot loop forever.
func (a *API) freshCode(r *http.Request) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := matchcode.Generate()
		if err != nil {
			return "", err
		}

		reply := make(chan *match.Match, 1)
		a.Hub.Inbox() <- hub.GetMatch{Code: code, Reply: reply}
		if <-reply != nil {
			continue
		}
		if _, err := a.Store.Get(r.Context(), code); !errors.Is(err, store.ErrNotFound) {
			if err == nil {
				a.Log.Info("code collision, regenerating", zap.String("code", code))
				continue
			}
			return "", err
		}
		return code, nil
	}
	return "", errors.New("exhausted code attempts")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg})
}

// configFor builds the set structure for a best-of-3 or best-of-5 match.
func configFor(totalSets int) (engine.MatchConfig, error) {
	switch totalSets {
	case 0, 5:
		return engine.DefaultConfig(), nil
	case 3:
		cfg := engine.DefaultConfig()
		cfg.TotalSets = 3
		cfg.Sets = []engine.SetRules{
			{Target: 25, WinBy: 2, Cap: 30},
			{Target: 25, WinBy: 2, Cap: 30},
			{Target: 15, WinBy: 2, Cap: 20},
		}
		return cfg, nil
	default:
		return engine.MatchConfig{}, errors.New("total_sets must be 3 or 5")
	}
}
