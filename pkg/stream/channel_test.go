package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestNextDelaySequence(t *testing.T) {
	floor := 1 * time.Second
	ceiling := 15 * time.Second

	// delays actually waited before each reconnect attempt
	got := []time.Duration{floor}
	for i := 0; i < 5; i++ {
		got = append(got, NextDelay(got[len(got)-1], floor, ceiling))
	}
	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 15 * time.Second, 15 * time.Second,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestNextDelayRespectsFloor(t *testing.T) {
	if d := NextDelay(0, time.Second, 15*time.Second); d != 2*time.Second {
		t.Fatalf("NextDelay(0) = %v, want 2s", d)
	}
}

// wsTestServer upgrades every request and hands the connection to accept.
func wsTestServer(t *testing.T, accept func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accept(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestChannelForwardsFrames(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"inbox_updated","conversation_id":1}`))
		// keep the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	frames := make(chan []byte, 4)
	ch := Open(ChannelConfig{
		URL:       wsURL(srv),
		OnMessage: func(raw []byte) { frames <- raw },
	})
	defer ch.Stop()

	select {
	case raw := <-frames:
		if !strings.Contains(string(raw), "inbox_updated") {
			t.Fatalf("unexpected frame %s", raw)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no frame forwarded")
	}
}

func TestChannelReconnectsAfterServerClose(t *testing.T) {
	var opens atomic.Int32
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		if opens.Add(1) == 1 {
			conn.Close() // kick the first connection straight out
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	openCh := make(chan struct{}, 4)
	closeCh := make(chan struct{}, 4)
	ch := Open(ChannelConfig{
		URL:               wsURL(srv),
		RetryFloorSeconds: 1,
		OnOpen:            func() { openCh <- struct{}{} },
		OnClose:           func() { closeCh <- struct{}{} },
	})
	defer ch.Stop()

	waitSignal(t, openCh, "first open")
	waitSignal(t, closeCh, "close after server kick")
	waitSignal(t, openCh, "reconnect open")
	if n := opens.Load(); n < 2 {
		t.Fatalf("server saw %d connections, want at least 2", n)
	}
}

func TestChannelStopIdempotent(t *testing.T) {
	boom := errors.New("no listener")
	ch := Open(ChannelConfig{
		URL:    "ws://127.0.0.1:0/nowhere",
		Dialer: func(ctx context.Context, url string) (*websocket.Conn, error) { return nil, boom },
	})
	done := make(chan struct{})
	go func() {
		ch.Stop()
		ch.Stop()
		ch.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestChannelSurvivesHandlerPanic(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`first`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`second`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	frames := make(chan string, 4)
	ch := Open(ChannelConfig{
		URL: wsURL(srv),
		OnMessage: func(raw []byte) {
			if string(raw) == "first" {
				panic("handler bug")
			}
			frames <- string(raw)
		},
	})
	defer ch.Stop()

	select {
	case got := <-frames:
		if got != "second" {
			t.Fatalf("frame = %q, want second", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("channel died after handler panic")
	}
}

func TestChannelSendsKeepAlive(t *testing.T) {
	pings := make(chan string, 4)
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			pings <- string(raw)
		}
	})

	ch := Open(ChannelConfig{
		URL:              wsURL(srv),
		HeartbeatSeconds: 1,
	})
	defer ch.Stop()

	select {
	case got := <-pings:
		if !strings.Contains(got, `"ping"`) {
			t.Fatalf("keep-alive frame = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no keep-alive observed")
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
