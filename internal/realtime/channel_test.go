package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/playperu/geoquest/internal/geoquest"
)

type staticIdentity struct {
	token string
	id    geoquest.PlayerID
}

func (s staticIdentity) Token() (string, bool) { return s.token, s.token != "" }

func (s staticIdentity) PlayerID() (geoquest.PlayerID, error) {
	if s.id == "" {
		return "", geoquest.ErrUnauthenticated
	}
	return s.id, nil
}

var errFakeClosed = errors.New("fake conn closed")

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 8), closed: make(chan struct{})}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.closed:
		return nil, errFakeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}

type fakeDialer struct {
	mu      sync.Mutex
	release chan struct{}
	urls    []string
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	release := d.release
	d.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type fakeTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Timers() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeTimer(nil), c.timers...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectIsIdempotentWhilePending(t *testing.T) {
	dialer := &fakeDialer{release: make(chan struct{})}
	ch := New("ws://game.test", staticIdentity{token: "tok", id: "me"},
		WithDialer(dialer), WithLogger(discardLogger()))
	defer ch.Close()

	ch.Connect("")
	ch.Connect("")

	waitFor(t, "first dial", func() bool { return dialer.Dials() >= 1 })
	if got := ch.State(); got != Connecting {
		t.Fatalf("state = %v, want connecting", got)
	}

	close(dialer.release)
	waitFor(t, "connected", func() bool { return ch.State() == Connected })

	ch.Connect("me")
	if got := dialer.Dials(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
	if got, want := ch.Address(), "ws://game.test/ws/player/me"; got != want {
		t.Errorf("address = %q, want %q", got, want)
	}
}

func TestConnectToDifferentTargetReplacesConnection(t *testing.T) {
	dialer := &fakeDialer{}
	ch := New("ws://game.test/", staticIdentity{token: "tok", id: "me"},
		WithDialer(dialer), WithLogger(discardLogger()))
	defer ch.Close()

	ch.Connect("")
	waitFor(t, "connected", func() bool { return ch.State() == Connected })
	first := dialer.Conn(0)

	ch.Connect("host")
	waitFor(t, "second dial", func() bool { return dialer.Dials() == 2 })
	waitFor(t, "reconnected", func() bool { return ch.State() == Connected })

	select {
	case <-first.closed:
	case <-time.After(time.Second):
		t.Fatal("old connection was not closed")
	}
	if got, want := ch.Address(), "ws://game.test/ws/player/host?player2_id=me"; got != want {
		t.Errorf("address = %q, want %q", got, want)
	}
}

func TestConnectWithoutTokenDoesNothing(t *testing.T) {
	dialer := &fakeDialer{}
	ch := New("ws://game.test", staticIdentity{}, WithDialer(dialer), WithLogger(discardLogger()))
	defer ch.Close()

	ch.Connect("")

	if got := ch.State(); got != Disconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
	if got := dialer.Dials(); got != 0 {
		t.Errorf("dials = %d, want 0", got)
	}
}

func TestUnexpectedCloseSchedulesOneReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	ch := New("ws://game.test", staticIdentity{token: "tok", id: "me"},
		WithDialer(dialer), WithLogger(discardLogger()), WithAfterFunc(clock.AfterFunc))
	defer ch.Close()

	ch.Connect("")
	waitFor(t, "connected", func() bool { return ch.State() == Connected })

	dialer.Conn(0).Close()
	waitFor(t, "reconnect scheduled", func() bool { return len(clock.Timers()) == 1 })

	timer := clock.Timers()[0]
	if timer.delay != DefaultReconnectDelay {
		t.Errorf("delay = %v, want %v", timer.delay, DefaultReconnectDelay)
	}
	if got := ch.State(); got != Disconnected {
		t.Errorf("state = %v, want disconnected", got)
	}

	timer.fn()
	waitFor(t, "reconnected", func() bool { return ch.State() == Connected })

	if got := dialer.Dials(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
	if got := len(clock.Timers()); got != 1 {
		t.Errorf("timers = %d, want exactly 1", got)
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	ch := New("ws://game.test", staticIdentity{token: "tok", id: "me"},
		WithDialer(dialer), WithLogger(discardLogger()), WithAfterFunc(clock.AfterFunc))
	defer ch.Close()

	ch.Connect("")
	waitFor(t, "connected", func() bool { return ch.State() == Connected })

	dialer.Conn(0).Close()
	waitFor(t, "reconnect scheduled", func() bool { return len(clock.Timers()) == 1 })

	ch.Disconnect()
	ch.Disconnect()

	timer := clock.Timers()[0]
	if !timer.Stopped() {
		t.Error("reconnect timer was not stopped")
	}

	// A timer that already fired must not resurrect the connection either.
	timer.fn()
	time.Sleep(20 * time.Millisecond)

	if got := dialer.Dials(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if got := ch.State(); got != Disconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestExplicitDisconnectDoesNotReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	ch := New("ws://game.test", staticIdentity{token: "tok", id: "me"},
		WithDialer(dialer), WithLogger(discardLogger()), WithAfterFunc(clock.AfterFunc))
	defer ch.Close()

	ch.Connect("")
	waitFor(t, "connected", func() bool { return ch.State() == Connected })

	ch.Disconnect()
	time.Sleep(20 * time.Millisecond)

	if got := len(clock.Timers()); got != 0 {
		t.Errorf("timers = %d, want 0", got)
	}
}

func TestSendWhileDisconnectedIsDropped(t *testing.T) {
	ch := New("ws://game.test", staticIdentity{token: "tok", id: "me"},
		WithDialer(&fakeDialer{}), WithLogger(discardLogger()))
	defer ch.Close()

	ch.Send(Move{PlayerID: "me", Choice: "rock"})
}

func TestListenersReceiveInOrderAndSurviveGarbage(t *testing.T) {
	dialer := &fakeDialer{}
	ch := New("ws://game.test", staticIdentity{token: "tok", id: "me"},
		WithDialer(dialer), WithLogger(discardLogger()))
	defer ch.Close()

	var mu sync.Mutex
	var first, second []string
	ch.AddListener(func(m Message) {
		mu.Lock()
		first = append(first, m.Event())
		mu.Unlock()
	})
	id := ch.AddListener(func(m Message) {
		mu.Lock()
		second = append(second, m.Event())
		mu.Unlock()
	})
	ch.AddListener(func(Message) { panic("listener bug") })

	ch.Connect("")
	waitFor(t, "connected", func() bool { return ch.State() == Connected })

	conn := dialer.Conn(0)
	conn.in <- []byte(`{"event":"start_game","players":["me","you"]}`)
	conn.in <- []byte(`garbage`)
	conn.in <- []byte(`{"event":"result","winner":"me"}`)

	waitFor(t, "two messages", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 2
	})

	ch.RemoveListener(id)
	conn.in <- []byte(`{"event":"rejected"}`)
	waitFor(t, "third message", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{EventStartGame, EventResult, EventRejected}
	for i := range want {
		if first[i] != want[i] {
			t.Errorf("first[%d] = %q, want %q", i, first[i], want[i])
		}
	}
	if len(second) != 2 {
		t.Errorf("removed listener got %d messages, want 2", len(second))
	}
}

func TestChannelOverWebSocket(t *testing.T) {
	received := make(chan []byte, 1)
	paths := make(chan string, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/player/{id}", func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.RequestURI()
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		if err := conn.Write(ctx, websocket.MessageText, []byte(`{"event":"start_game","game_type":"rps","players":["host","me"]}`)); err != nil {
			return
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		received <- data
		conn.Close(websocket.StatusNormalClosure, "done")
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	clock := &fakeClock{}
	ch := New(wsURL, staticIdentity{token: "tok", id: "me"},
		WithLogger(discardLogger()), WithAfterFunc(clock.AfterFunc))
	defer ch.Close()

	started := make(chan StartGame, 1)
	ch.AddListener(func(m Message) {
		if sg, ok := m.(StartGame); ok {
			started <- sg
		}
	})

	ch.Connect("host")

	select {
	case got := <-paths:
		if want := "/ws/player/host?player2_id=me"; got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw a connection")
	}

	select {
	case sg := <-started:
		if sg.GameType != "rps" || len(sg.Players) != 2 {
			t.Errorf("start game = %+v", sg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener never received start_game")
	}

	ch.Send(Move{PlayerID: "me", Choice: "rock"})

	select {
	case data := <-received:
		msg, err := Parse(data)
		if err != nil {
			t.Fatalf("server got unparseable frame %s: %v", data, err)
		}
		if mv, ok := msg.(Move); !ok || mv.Choice != "rock" || mv.PlayerID != "me" {
			t.Errorf("server got %#v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the move")
	}

	waitFor(t, "reconnect scheduled after server close", func() bool { return len(clock.Timers()) == 1 })
}
