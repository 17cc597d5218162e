package transport

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func startServer(t *testing.T) *WsServer {
	t.Helper()
	s := NewWsServer(quietLogger())
	require.NoError(t, s.Listen(0))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func dial(t *testing.T, s *WsServer) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/", s.Addr()), nil)
	require.NoError(t, err)
	return conn
}

// pollFor drains the inbound queue until an event of the wanted kind shows
// up or the deadline passes.
func pollFor(t *testing.T, s *WsServer, kind EventKind) Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range s.Poll() {
			if ev.Kind == kind {
				return ev
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %v event before deadline", kind)
	return Event{}
}

func TestHelloApproveDelivery(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := context.Background()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("hello server")))

	ev := pollFor(t, s, EventHello)
	require.Equal(t, []byte("hello server"), ev.Payload)

	require.NoError(t, s.Approve(ev.Conn, []byte("welcome")))

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, got, err := conn.Read(readCtx)
	require.NoError(t, err)
	require.Equal(t, []byte("welcome"), got)

	// approved peers are included in broadcasts
	s.Broadcast([]byte("to everyone"), Reliable)
	readCtx2, cancel2 := context.WithTimeout(ctx, 5*time.Second)
	defer cancel2()
	_, got, err = conn.Read(readCtx2)
	require.NoError(t, err)
	require.Equal(t, []byte("to everyone"), got)
}

func TestDataFramesReachQueue(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := context.Background()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("hello")))
	ev := pollFor(t, s, EventHello)
	require.NoError(t, s.Approve(ev.Conn, []byte("welcome")))

	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3}))
	data := pollFor(t, s, EventData)
	require.Equal(t, ev.Conn, data.Conn)
	require.Equal(t, []byte{1, 2, 3}, data.Payload)
}

func TestPeerCloseSurfacesDisconnect(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)

	ctx := context.Background()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("hello")))
	ev := pollFor(t, s, EventHello)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	disc := pollFor(t, s, EventDisconnect)
	require.Equal(t, ev.Conn, disc.Conn)
}

func TestDisconnectSurvivesFullQueue(t *testing.T) {
	s := NewWsServer(quietLogger())
	for i := 0; i < inboundQueueSize+10; i++ {
		s.enqueue(Event{Conn: "chatty", Kind: EventData, Payload: []byte{1}})
	}

	delivered := make(chan struct{})
	go func() {
		s.enqueue(Event{Conn: "chatty", Kind: EventDisconnect, Reason: "gone"})
		close(delivered)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range s.Poll() {
			if ev.Kind == EventDisconnect {
				<-delivered
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("disconnect event was lost behind a full queue")
}

func TestDenyClosesConnection(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)

	ctx := context.Background()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("bad hello")))
	ev := pollFor(t, s, EventHello)
	s.Deny(ev.Conn)

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(readCtx)
	require.Error(t, err)
	pollFor(t, s, EventDisconnect)
}
