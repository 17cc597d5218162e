package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	inboundQueueSize = 1024
	outboxSize       = 256
	helloTimeout     = 10 * time.Second
	writeTimeout     = 5 * time.Second
	maxFrameSize     = 64 << 10
)

// WsServer accepts websocket connections and feeds their lifecycle and data
// frames into a single bounded event queue.
type WsServer struct {
	log logrus.FieldLogger

	events chan Event

	mu    sync.Mutex
	conns map[ConnID]*wsConn

	listener net.Listener
	httpSrv  *http.Server
}

type wsConn struct {
	id       ConnID
	ws       *websocket.Conn
	outbox   chan []byte
	approved bool
	closed   bool
}

// NewWsServer creates a server that is not yet listening.
func NewWsServer(log logrus.FieldLogger) *WsServer {
	return &WsServer{
		log:    log,
		events: make(chan Event, inboundQueueSize),
		conns:  make(map[ConnID]*wsConn),
	}
}

// Listen binds the port and starts accepting connections. A bind failure is
// the caller's only fatal startup error.
func (s *WsServer) Listen(port uint) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.Wrapf(err, "bind port %d failed", port)
	}
	s.listener = ln
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.httpSrv = &http.Server{Handler: mux}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("websocket server stopped")
		}
	}()
	s.log.WithField("port", port).Info("transport listening")
	return nil
}

// Addr reports the bound listen address, for callers that asked for port 0.
func (s *WsServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *WsServer) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.WithError(err).Debug("websocket accept failed")
		return
	}
	ws.SetReadLimit(maxFrameSize)

	c := &wsConn{
		id:     ConnID(uuid.NewString()),
		ws:     ws,
		outbox: make(chan []byte, outboxSize),
	}
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	go s.writePump(c)
	s.readPump(r.Context(), c)
}

// readPump reads the hello frame, then data frames, and always finishes by
// emitting exactly one disconnect event for the connection.
func (s *WsServer) readPump(ctx context.Context, c *wsConn) {
	reason := "connection closed"
	defer func() {
		s.dropConn(c)
		s.enqueue(Event{Conn: c.id, Kind: EventDisconnect, Reason: reason})
	}()

	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	_, hello, err := c.ws.Read(helloCtx)
	cancel()
	if err != nil {
		reason = "no hello received"
		return
	}
	s.enqueue(Event{Conn: c.id, Kind: EventHello, Payload: hello})

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				reason = fmt.Sprintf("peer closed (%d)", status)
			}
			return
		}
		s.enqueue(Event{Conn: c.id, Kind: EventData, Payload: data})
	}
}

func (s *WsServer) writePump(c *wsConn) {
	for payload := range c.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.ws.Write(ctx, websocket.MessageBinary, payload)
		cancel()
		if err != nil {
			return
		}
	}
}

// enqueue adds an event to the bounded inbound queue. Hello and data frames
// are dropped when the session has fallen too far behind; a disconnect is a
// one-shot lifecycle event whose loss would strand the client in the match
// state, so it always goes through even if the read pump has to wait for the
// next drain.
func (s *WsServer) enqueue(ev Event) {
	if ev.Kind == EventDisconnect {
		s.events <- ev
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.WithFields(logrus.Fields{"conn": ev.Conn, "kind": ev.Kind}).
			Warn("inbound queue full, dropping event")
	}
}

// Poll drains everything currently queued without blocking. Events arriving
// during the call are picked up next tick.
func (s *WsServer) Poll() []Event {
	var out []Event
	for {
		select {
		case ev := <-s.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Approve admits a connection, sending the welcome payload (the lobby
// snapshot) as the first frame the client receives.
func (s *WsServer) Approve(id ConnID, welcome []byte) error {
	s.mu.Lock()
	c, ok := s.conns[id]
	if ok {
		c.approved = true
	}
	s.mu.Unlock()
	if !ok {
		return errors.Errorf("approve unknown connection %s", id)
	}
	s.Send(id, welcome, Reliable)
	return nil
}

// Deny rejects a connection that sent an unacceptable hello.
func (s *WsServer) Deny(id ConnID) {
	s.mu.Lock()
	c, ok := s.conns[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = c.ws.Close(websocket.StatusPolicyViolation, "rejected")
}

// Kick closes an approved connection; its disconnect event follows through
// the usual path.
func (s *WsServer) Kick(id ConnID, reason string) {
	s.mu.Lock()
	c, ok := s.conns[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = c.ws.Close(websocket.StatusNormalClosure, reason)
}

// Send queues a payload for one peer. Reliable sends to a peer that cannot
// drain its buffer close the connection rather than stall the tick loop;
// unreliable sends are simply dropped.
func (s *WsServer) Send(id ConnID, payload []byte, rel Reliability) {
	s.mu.Lock()
	c, ok := s.conns[id]
	if !ok || c.closed {
		s.mu.Unlock()
		return
	}
	select {
	case c.outbox <- payload:
		s.mu.Unlock()
	default:
		if rel == Reliable {
			c.closed = true
			close(c.outbox)
			s.mu.Unlock()
			s.log.WithField("conn", id).Warn("peer too slow, closing")
			_ = c.ws.Close(websocket.StatusPolicyViolation, "too slow")
			return
		}
		s.mu.Unlock()
	}
}

// Broadcast queues a payload for every approved peer.
func (s *WsServer) Broadcast(payload []byte, rel Reliability) {
	s.mu.Lock()
	ids := make([]ConnID, 0, len(s.conns))
	for id, c := range s.conns {
		if c.approved {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Send(id, payload, rel)
	}
}

func (s *WsServer) dropConn(c *wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c.id]; !ok {
		return
	}
	delete(s.conns, c.id)
	if !c.closed {
		c.closed = true
		close(c.outbox)
	}
}

// Shutdown stops accepting and closes every live connection.
func (s *WsServer) Shutdown(ctx context.Context) {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Shutdown(ctx)
	}
}
