// Package core implements the authoritative heart of the dedicated server:
// the match state and the tick-driven session loop that reconciles console
// commands and network input against it.
package core

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openkart/matchserver/server/transport"
	"github.com/openkart/matchserver/shared/protocol"
	"github.com/openkart/matchserver/shared/settings"
)

// Reference timing: 20 ticks per second, a 3 second lobby countdown once
// everyone is ready, and a 20 second grace period for stage loading before
// the race is force-started.
const (
	DefaultTickRate       = 20
	DefaultLobbyCountdown = 3 * time.Second
	DefaultLoadTimeout    = 20 * time.Second

	// DefaultAcceptToken must appear in a connection's hello payload for it
	// to be approved.
	DefaultAcceptToken = "openkart"
)

// Phase is the coarse lifecycle of the match.
type Phase int

const (
	PhaseLobby Phase = iota
	PhaseLoading
	PhaseRacing
)

func (p Phase) String() string {
	switch p {
	case PhaseLobby:
		return "lobby"
	case PhaseLoading:
		return "loading"
	case PhaseRacing:
		return "racing"
	default:
		return "unknown"
	}
}

// Transport is the network surface the session drives. *transport.WsServer
// satisfies it; tests substitute their own.
type Transport interface {
	Poll() []transport.Event
	Send(id transport.ConnID, payload []byte, rel transport.Reliability)
	Broadcast(payload []byte, rel transport.Reliability)
	Approve(id transport.ConnID, welcome []byte) error
	Deny(id transport.ConnID)
	Kick(id transport.ConnID, reason string)
}

// Session owns the match state and runs the tick loop. All state mutation
// happens on the loop goroutine; the console queue and the transport's
// inbound queue are the only concurrency boundaries, and both are only ever
// drained, never blocked on.
type Session struct {
	log      logrus.FieldLogger
	tr       Transport
	clock    Clock
	state    *MatchState
	commands <-chan string

	settingsPath string
	acceptToken  string
	maxClients   int

	tickInterval   time.Duration
	lobbyCountdown time.Duration
	loadTimeout    time.Duration

	// connections whose hello passed the acceptance predicate; only these
	// may carry match messages
	approvedConns map[transport.ConnID]struct{}

	// connection <-> client bindings, maintained transactionally with
	// client add/remove so neither side ever dangles
	clientByConn map[transport.ConnID]protocol.ClientID
	connByClient map[protocol.ClientID]transport.ConnID

	phase         Phase
	lobbyDeadline time.Time                      // zero while the countdown is disarmed
	loading       map[protocol.ClientID]struct{} // stage-load barrier
	loadDeadline  time.Time                      // zero while the timeout clock is stopped

	stopping bool

	// published once per tick for readers outside the loop goroutine
	pubPlayers atomic.Int64
	pubPhase   atomic.Int32
}

// Cfg configures a Session.
type Cfg func(*Session) error

// WithTransport sets the network transport.
func WithTransport(tr Transport) Cfg {
	return func(s *Session) error {
		s.tr = tr
		return nil
	}
}

// WithLogger sets the session log sink.
func WithLogger(log logrus.FieldLogger) Cfg {
	return func(s *Session) error {
		s.log = log
		return nil
	}
}

// WithClock sets the tick clock.
func WithClock(c Clock) Cfg {
	return func(s *Session) error {
		s.clock = c
		return nil
	}
}

// WithState sets the initial match state.
func WithState(st *MatchState) Cfg {
	return func(s *Session) error {
		s.state = st
		return nil
	}
}

// WithCommandQueue sets the operator command queue.
func WithCommandQueue(cmds <-chan string) Cfg {
	return func(s *Session) error {
		s.commands = cmds
		return nil
	}
}

// WithSettingsPath sets the settings document location used by reloads and
// the shutdown save.
func WithSettingsPath(path string) Cfg {
	return func(s *Session) error {
		s.settingsPath = path
		return nil
	}
}

// WithTickRate sets the loop frequency in ticks per second.
func WithTickRate(perSecond int) Cfg {
	return func(s *Session) error {
		if perSecond <= 0 {
			return errors.Errorf("tick rate must be positive, got %d", perSecond)
		}
		s.tickInterval = time.Second / time.Duration(perSecond)
		return nil
	}
}

// WithMaxClients caps how many clients may be connected at once; zero means
// no cap.
func WithMaxClients(n int) Cfg {
	return func(s *Session) error {
		if n < 0 {
			return errors.Errorf("max clients must not be negative, got %d", n)
		}
		s.maxClients = n
		return nil
	}
}

// WithAcceptToken overrides the hello acceptance token.
func WithAcceptToken(token string) Cfg {
	return func(s *Session) error {
		s.acceptToken = token
		return nil
	}
}

// NewSession creates a session loop. A transport, logger and command queue
// are required.
func NewSession(cfgs ...Cfg) (*Session, error) {
	s := &Session{
		clock:          SystemClock(),
		tickInterval:   time.Second / DefaultTickRate,
		lobbyCountdown: DefaultLobbyCountdown,
		loadTimeout:    DefaultLoadTimeout,
		acceptToken:    DefaultAcceptToken,
		approvedConns:  make(map[transport.ConnID]struct{}),
		clientByConn:   make(map[transport.ConnID]protocol.ClientID),
		connByClient:   make(map[protocol.ClientID]transport.ConnID),
		phase:          PhaseLobby,
	}
	for _, cfg := range cfgs {
		if err := cfg(s); err != nil {
			return nil, errors.Wrap(err, "apply Session cfg failed")
		}
	}
	if s.tr == nil {
		return nil, errors.New("session requires a transport")
	}
	if s.log == nil {
		return nil, errors.New("session requires a logger")
	}
	if s.commands == nil {
		return nil, errors.New("session requires a command queue")
	}
	if s.state == nil {
		s.state = NewMatchState(settings.Default())
	}
	return s, nil
}

// State exposes the match state. Only safe to touch from the loop goroutine
// or while the loop is not running.
func (s *Session) State() *MatchState { return s.state }

// Run drives the tick loop until the context ends or an operator shutdown
// command was processed. The loop never busy-waits and never blocks inside
// a tick.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	s.log.WithField("interval", s.tickInterval).Info("session loop started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick()
			if s.stopping {
				s.log.Info("session loop stopped")
				return nil
			}
		}
	}
}

// tick is one full pass: timers first, then the command queue, then the
// network queue. Each drain takes exactly what is queued right now; later
// arrivals wait for the next tick.
func (s *Session) tick() {
	now := s.clock.Now()
	s.checkLobbyCountdown(now)
	s.checkLoadTimeout(now)
	s.drainCommands()
	s.drainNetwork(now)
	s.pubPlayers.Store(int64(s.state.PlayerCount()))
	s.pubPhase.Store(int32(s.phase))
}

// Status reports current occupancy and phase. Safe from any goroutine; the
// values are published at the end of each tick.
func (s *Session) Status() (players int, phase Phase) {
	return int(s.pubPlayers.Load()), Phase(s.pubPhase.Load())
}

// checkLobbyCountdown fires the lobby-to-loading transition once the armed
// countdown elapses: everyone is told to load the stage and the stage-load
// barrier is armed with the full current client set.
func (s *Session) checkLobbyCountdown(now time.Time) {
	if s.lobbyDeadline.IsZero() || now.Before(s.lobbyDeadline) {
		return
	}
	s.lobbyDeadline = time.Time{}
	s.phase = PhaseLoading
	s.loading = make(map[protocol.ClientID]struct{})
	for _, id := range s.state.ClientIDs() {
		s.loading[id] = struct{}{}
	}
	s.loadDeadline = now.Add(s.loadTimeout)
	s.log.WithField("clients", len(s.loading)).Info("lobby countdown elapsed, loading stage")
	s.broadcast(protocol.LoadRace{}, transport.Reliable)
}

// checkLoadTimeout force-starts the race when stragglers take too long to
// load. Clearing the deadline makes the check idempotent.
func (s *Session) checkLoadTimeout(now time.Time) {
	if s.loadDeadline.IsZero() || now.Before(s.loadDeadline) {
		return
	}
	s.log.WithField("waiting", len(s.loading)).Warn("stage load timed out, forcing race start")
	s.releaseRace()
}

// releaseRace broadcasts the race start and stops the barrier clock.
func (s *Session) releaseRace() {
	s.loadDeadline = time.Time{}
	s.loading = nil
	s.phase = PhaseRacing
	s.broadcast(protocol.StartRace{}, transport.Reliable)
}

// updateLobbyCountdown enforces the arming rule after any mutation that can
// change universal readiness: the countdown runs iff at least one player
// exists and every player is ready. Disarming resets the countdown from
// scratch, it does not pause it.
func (s *Session) updateLobbyCountdown(now time.Time) {
	ready := s.state.AllPlayersReady()
	armed := !s.lobbyDeadline.IsZero()
	switch {
	case ready && !armed:
		s.lobbyDeadline = now.Add(s.lobbyCountdown)
		s.log.WithField("countdown", s.lobbyCountdown).Info("all players ready, lobby countdown armed")
	case !ready && armed:
		s.lobbyDeadline = time.Time{}
		s.log.Info("lobby countdown disarmed")
	}
}

func (s *Session) drainCommands() {
	for {
		select {
		case cmd := <-s.commands:
			s.handleCommand(cmd)
		default:
			return
		}
	}
}

func (s *Session) drainNetwork(now time.Time) {
	for _, ev := range s.tr.Poll() {
		switch ev.Kind {
		case transport.EventHello:
			s.handleHello(ev)
		case transport.EventDisconnect:
			s.handleDisconnect(ev, now)
		case transport.EventData:
			s.handleData(ev, now)
		}
	}
}

// handleHello decides connection approval: the hello payload must contain
// the acceptance token. Approvals carry a full state snapshot so the new
// client can bootstrap its view before incremental messages arrive.
func (s *Session) handleHello(ev transport.Event) {
	if !strings.Contains(string(ev.Payload), s.acceptToken) {
		s.log.WithField("conn", ev.Conn).Info("connection denied, bad hello")
		s.tr.Deny(ev.Conn)
		return
	}
	if s.maxClients > 0 && s.state.ClientCount() >= s.maxClients {
		s.log.WithField("conn", ev.Conn).Info("connection denied, server full")
		s.tr.Deny(ev.Conn)
		return
	}
	welcome, err := protocol.EncodeSnapshot(s.state.Snapshot())
	if err != nil {
		s.log.WithError(err).Error("encode welcome snapshot failed")
		s.tr.Deny(ev.Conn)
		return
	}
	if err := s.tr.Approve(ev.Conn, welcome); err != nil {
		s.log.WithError(err).WithField("conn", ev.Conn).Warn("approve connection failed")
		return
	}
	s.approvedConns[ev.Conn] = struct{}{}
	s.log.WithField("conn", ev.Conn).Info("connection approved")
}

// handleDisconnect cascades a departing connection out of the match: the
// bound client and every player it owns go together, and everyone else is
// told. A connection that never completed a join has nothing to clean up.
func (s *Session) handleDisconnect(ev transport.Event, now time.Time) {
	delete(s.approvedConns, ev.Conn)
	id, ok := s.clientByConn[ev.Conn]
	if !ok {
		s.log.WithFields(logrus.Fields{"conn": ev.Conn, "reason": ev.Reason}).
			Debug("unbound connection closed")
		return
	}
	delete(s.clientByConn, ev.Conn)
	delete(s.connByClient, id)
	client := s.state.RemoveClient(id)
	if client == nil {
		return
	}
	s.log.WithFields(logrus.Fields{"client": id, "name": client.Name, "reason": ev.Reason}).
		Info("client disconnected")
	s.broadcast(protocol.ClientLeft{ClientID: id}, transport.Reliable)
	s.broadcast(protocol.ChatMessage{Kind: protocol.ChatSystem, Text: client.Name + " left the game"}, transport.Reliable)
	s.updateLobbyCountdown(now)
}

// handleData decodes and dispatches one inbound frame. A malformed or
// unauthorized message is dropped and logged; the drain continues with the
// next queued message either way.
func (s *Session) handleData(ev transport.Event, now time.Time) {
	if _, ok := s.approvedConns[ev.Conn]; !ok {
		s.log.WithField("conn", ev.Conn).Warn("dropping message from unapproved connection")
		return
	}
	msg, err := protocol.Decode(ev.Payload)
	if err != nil {
		s.log.WithError(err).WithField("conn", ev.Conn).Warn("dropping malformed message")
		return
	}

	if owned, ok := msg.(protocol.Owned); ok {
		bound, isBound := s.clientByConn[ev.Conn]
		if !isBound || bound != owned.Sender() {
			s.log.WithFields(logrus.Fields{
				"conn":    ev.Conn,
				"claimed": owned.Sender(),
				"type":    protocol.TypeName(msg),
			}).Warn("dropping message with unowned client id")
			return
		}
	}

	switch m := msg.(type) {
	case protocol.ClientJoined:
		s.handleClientJoined(ev, m)
	case protocol.PlayerJoined:
		s.state.AddPlayer(m.ClientID, m.CtrlIndex, m.Name, m.CharacterID)
		s.tr.Broadcast(ev.Payload, transport.Reliable)
		s.updateLobbyCountdown(now)
	case protocol.PlayerLeft:
		s.state.RemovePlayer(PlayerKey{ClientID: m.ClientID, CtrlIndex: m.CtrlIndex})
		s.tr.Broadcast(ev.Payload, transport.Reliable)
		s.updateLobbyCountdown(now)
	case protocol.CharacterChanged:
		s.state.SetPlayerCharacter(PlayerKey{ClientID: m.ClientID, CtrlIndex: m.CtrlIndex}, m.CharacterID)
		s.tr.Broadcast(ev.Payload, transport.Reliable)
	case protocol.ChangedReady:
		s.state.SetPlayerReady(PlayerKey{ClientID: m.ClientID, CtrlIndex: m.CtrlIndex}, m.Ready)
		s.tr.Broadcast(ev.Payload, transport.Reliable)
		s.updateLobbyCountdown(now)
	case protocol.SettingsChanged:
		s.state.ReplaceSettings(m.Settings)
		s.tr.Broadcast(ev.Payload, transport.Reliable)
	case protocol.StartRace:
		s.handleLoadAck(ev.Conn)
	case protocol.ChatMessage:
		s.log.WithFields(logrus.Fields{"client": m.ClientID, "text": m.Text}).Info("chat")
		s.tr.Broadcast(ev.Payload, transport.Reliable)
	case protocol.PlayerMovement:
		// pure relay, the server never simulates
		s.tr.Broadcast(ev.Payload, transport.Unreliable)
	default:
		s.log.WithFields(logrus.Fields{"conn": ev.Conn, "type": protocol.TypeName(msg)}).
			Warn("dropping unexpected message")
	}
}

// handleClientJoined binds the connection to its claimed client identity.
// Every later ownership check runs against this binding.
func (s *Session) handleClientJoined(ev transport.Event, m protocol.ClientJoined) {
	if _, ok := s.clientByConn[ev.Conn]; ok {
		s.log.WithField("conn", ev.Conn).Warn("dropping duplicate join from bound connection")
		return
	}
	// the cap is checked again here: several connections can be approved
	// before any of them joins
	if s.maxClients > 0 && s.state.ClientCount() >= s.maxClients {
		s.log.WithFields(logrus.Fields{"conn": ev.Conn, "client": m.ClientID}).
			Warn("dropping join, server full")
		return
	}
	if !s.state.AddClient(m.ClientID, m.Name) {
		s.log.WithFields(logrus.Fields{"conn": ev.Conn, "client": m.ClientID}).
			Warn("dropping join with client id already in use")
		return
	}
	s.clientByConn[ev.Conn] = m.ClientID
	s.connByClient[m.ClientID] = ev.Conn
	s.log.WithFields(logrus.Fields{"client": m.ClientID, "name": m.Name}).Info("client joined")
	s.broadcast(protocol.ChatMessage{Kind: protocol.ChatSystem, Text: m.Name + " joined the game"}, transport.Reliable)
	s.tr.Broadcast(ev.Payload, transport.Reliable)
}

// handleLoadAck records a client's "stage loaded" acknowledgement against
// the barrier. The sender is identified by its connection binding, never by
// a claimed id. When the last straggler reports in, the race is released
// immediately instead of waiting out the timeout.
func (s *Session) handleLoadAck(conn transport.ConnID) {
	id, ok := s.clientByConn[conn]
	if !ok {
		s.log.WithField("conn", conn).Warn("dropping load ack from unbound connection")
		return
	}
	if s.loading == nil {
		s.log.WithField("client", id).Debug("ignoring load ack, barrier not armed")
		return
	}
	delete(s.loading, id)
	s.log.WithFields(logrus.Fields{"client": id, "waiting": len(s.loading)}).Debug("stage load acknowledged")
	if len(s.loading) == 0 {
		s.log.Info("all clients loaded, starting race")
		s.releaseRace()
	}
}

// broadcast encodes and sends a server-originated message to every client.
func (s *Session) broadcast(m protocol.Message, rel transport.Reliability) {
	payload, err := protocol.Encode(m)
	if err != nil {
		s.log.WithError(err).WithField("type", protocol.TypeName(m)).Error("encode broadcast failed")
		return
	}
	s.tr.Broadcast(payload, rel)
}
