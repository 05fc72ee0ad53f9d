// Package hub is the registry actor mapping match codes to their match
// actors. All registry access funnels through one goroutine.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/courtside/volley-live-backend/internal/broadcast"
	"github.com/courtside/volley-live-backend/internal/engine"
	"github.com/courtside/volley-live-backend/internal/match"
)

type HubMsg interface{ isHubMsg() }

type CreateMatch struct {
	Code  string
	State engine.State
	Reply chan *match.Match
}

type GetMatch struct {
	Code  string
	Reply chan *match.Match
}

type EnsureMatch struct {
	Code  string
	State engine.State // only used if creation happens
	Reply chan *match.Match
}

type RemoveMatch struct {
	Code string
}

type ShutdownHub struct{}

func (CreateMatch) isHubMsg() {}
func (GetMatch) isHubMsg()    {}
func (EnsureMatch) isHubMsg() {}
func (RemoveMatch) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	matches map[string]*match.Match
	pub     *broadcast.Publisher
	saver   match.Saver
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, pub *broadcast.Publisher, saver match.Saver, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		matches: make(map[string]*match.Match),
		pub:     pub,
		saver:   saver,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateMatch:
				if mt := h.matches[msg.Code]; mt != nil {
					msg.Reply <- mt
					break
				}
				msg.Reply <- h.spawn(msg.Code, msg.State)

			case GetMatch:
				msg.Reply <- h.matches[msg.Code] // May be nil

			case EnsureMatch:
				if mt := h.matches[msg.Code]; mt != nil {
					msg.Reply <- mt
					break
				}
				msg.Reply <- h.spawn(msg.Code, msg.State)

			case RemoveMatch:
				if mt := h.matches[msg.Code]; mt != nil {
					mt.Inbox() <- match.Shutdown{}
					delete(h.matches, msg.Code)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) spawn(code string, state engine.State) *match.Match {
	mt := match.New(h.ctx, code, state, h.pub, h.saver, h.log)
	h.matches[code] = mt
	h.log.Info("match actor started", zap.String("code", code))
	return mt
}

func (h *Hub) shutdown() {
	for _, mt := range h.matches {
		mt.Inbox() <- match.Shutdown{}
	}
	clear(h.matches)
	h.cancel()
}
