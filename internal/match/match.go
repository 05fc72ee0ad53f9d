// Package match hosts the per-match actor. One goroutine owns the
// authoritative engine state for a match code; everything else talks to it
// through the inbox. Each accepted command bumps the local version, fans a
// snapshot out to connected clients, and hands the new state to the
// publisher for the shared store.
package match

import (
	"context"

	"go.uber.org/zap"

	"github.com/courtside/volley-live-backend/internal/broadcast"
	"github.com/courtside/volley-live-backend/internal/engine"
	"github.com/courtside/volley-live-backend/internal/momentum"
)

type Msg interface{ isMatchMsg() }

// FromCoach carries one scorekeeper command. Reply, when non-nil, receives
// the rule verdict so the coach UI can surface rejections.
type FromCoach struct {
	Cmd   engine.Command
	Reply chan error
}

func (FromCoach) isMatchMsg() {}

// Proposal carries commands suggested by an external action source (for
// example a speech parser). Each command passes through the same rules as a
// hand-entered one; Reply receives one verdict per command, in order.
type Proposal struct {
	Cmds  []engine.Command
	Reply chan []error
}

func (Proposal) isMatchMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isMatchMsg() {}

type Leave struct{ ClientID string }

func (Leave) isMatchMsg() {}

type Shutdown struct{}

func (Shutdown) isMatchMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isMatchMsg() {}

// Snapshot is what connected clients receive after every accepted command.
// Momentum holds only the moments produced by that command.
type Snapshot struct {
	Version  int
	State    engine.State
	Status   broadcast.Status
	Momentum []momentum.Event
}

type View struct {
	Version    int
	NumClients int
	State      engine.State
}

// ActionProposer turns an utterance into engine commands. Implementations
// (speech-to-text, LLM parsers) live outside this module; their output is
// submitted as a Proposal so mistakes are filtered by the rules engine.
type ActionProposer interface {
	ProposeActions(ctx context.Context, transcript string) ([]engine.Command, error)
}

// Saver persists authoritative state after mutations. Failures are logged,
// never fatal; the in-memory state stays authoritative.
type Saver interface {
	Save(ctx context.Context, code string, s engine.State) error
}

type Match struct {
	code    string
	inbox   chan Msg
	state   engine.State
	version int
	scanned int // log index momentum detection has consumed
	clients map[string]chan Snapshot

	pub    *broadcast.Publisher
	saver  Saver
	log    *zap.Logger
	pubCh  chan publishReq
	ctx    context.Context
	cancel context.CancelFunc
}

type publishReq struct {
	state  engine.State
	status broadcast.Status
}

func New(parent context.Context, code string, initial engine.State, pub *broadcast.Publisher, saver Saver, log *zap.Logger) *Match {
	ctx, cancel := context.WithCancel(parent)

	m := &Match{
		code:    code,
		inbox:   make(chan Msg, 64),
		state:   initial,
		scanned: len(initial.Log),
		clients: make(map[string]chan Snapshot),
		pub:     pub,
		saver:   saver,
		log:     log.With(zap.String("code", code)),
		pubCh:   make(chan publishReq, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	go m.loop()
	go m.publishLoop()
	return m
}

// Inbox exposes the actor's mailbox to the transport layer and tests.
func (m *Match) Inbox() chan<- Msg { return m.inbox }

func (m *Match) Code() string { return m.code }

func (m *Match) loop() {
	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return

		case msg := <-m.inbox:
			switch msg := msg.(type) {
			case Join:
				m.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- Snapshot{
					Version: m.version,
					State:   m.state,
					Status:  broadcast.StatusOf(m.state.Phase),
				}

			case Leave:
				delete(m.clients, msg.ClientID)

			case FromCoach:
				err := m.apply(msg.Cmd)
				if msg.Reply != nil {
					msg.Reply <- err
				}

			case Proposal:
				verdicts := make([]error, len(msg.Cmds))
				for i, cmd := range msg.Cmds {
					verdicts[i] = m.apply(cmd)
				}
				if msg.Reply != nil {
					msg.Reply <- verdicts
				}

			case GetState:
				msg.Reply <- View{
					Version:    m.version,
					NumClients: len(m.clients),
					State:      m.state,
				}

			case Shutdown:
				m.shutdown()
				return
			}
		}
	}
}

// apply runs one command through the rules engine. Rejections leave state,
// version, and the store untouched.
func (m *Match) apply(cmd engine.Command) error {
	_, next, err := engine.Apply(m.state, cmd)
	if err != nil {
		m.log.Debug("command rejected",
			zap.String("cmd", string(cmd.Type)),
			zap.Error(err))
		return err
	}

	m.state = next
	m.version++

	// Undo may shrink the log; momentum only ever scans forward.
	if m.scanned > len(m.state.Log) {
		m.scanned = len(m.state.Log)
	}
	moments := momentum.Detect(m.state.Log, m.scanned, m.state.Config, nil)
	m.scanned = len(m.state.Log)

	status := broadcast.StatusOf(m.state.Phase)
	m.broadcast(Snapshot{
		Version:  m.version,
		State:    m.state,
		Status:   status,
		Momentum: moments,
	})
	m.requestPublish(publishReq{state: m.state, status: status})
	return nil
}

func (m *Match) broadcast(snap Snapshot) {
	for id, ch := range m.clients {
		select {
		case ch <- snap:
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(m.clients, id)
		}
	}
}

// requestPublish hands state to the publish loop, keeping only the newest
// request when the loop is behind. Only the actor goroutine writes pubCh, so
// the drain-then-send below cannot race.
func (m *Match) requestPublish(req publishReq) {
	select {
	case m.pubCh <- req:
	default:
		select {
		case <-m.pubCh:
		default:
		}
		m.pubCh <- req
	}
}

// publishLoop moves store I/O off the actor goroutine. Saves and publishes
// for this match stay ordered because one goroutine does both.
func (m *Match) publishLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case req := <-m.pubCh:
			if m.saver != nil {
				if err := m.saver.Save(m.ctx, m.code, req.state); err != nil {
					m.log.Warn("state save failed", zap.Error(err))
				}
			}
			if err := m.pub.Publish(m.ctx, m.code, req.state, req.status); err != nil {
				m.log.Warn("snapshot publish failed", zap.Error(err))
			}
		}
	}
}

func (m *Match) shutdown() {
	for id, ch := range m.clients {
		close(ch) // Tell client no more snapshots
		delete(m.clients, id)
	}
	m.pub.Forget(m.code)
	m.cancel()
}
