package minigame

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/playperu/geoquest/internal/geoquest"
	"github.com/playperu/geoquest/internal/realtime"
)

type fakeChannel struct {
	mu        sync.Mutex
	connected []geoquest.PlayerID
	sent      []realtime.Message
	listeners map[realtime.ListenerID]realtime.Listener
	next      realtime.ListenerID
}

func (f *fakeChannel) Connect(target geoquest.PlayerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, target)
}

func (f *fakeChannel) Send(msg realtime.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
}

func (f *fakeChannel) AddListener(fn realtime.Listener) realtime.ListenerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listeners == nil {
		f.listeners = map[realtime.ListenerID]realtime.Listener{}
	}
	f.next++
	f.listeners[f.next] = fn
	return f.next
}

func (f *fakeChannel) RemoveListener(id realtime.ListenerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listeners, id)
}

func (f *fakeChannel) deliver(msg realtime.Message) {
	f.mu.Lock()
	ls := make([]realtime.Listener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		ls = append(ls, fn)
	}
	f.mu.Unlock()
	for _, fn := range ls {
		fn(msg)
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var joiner = Participants{Player1: "host", Player2: "me", Self: Joiner}

func TestJoinConnectsToIssuer(t *testing.T) {
	ch := &fakeChannel{}
	s := Join(ch, joiner, quiet())
	defer s.Close()

	if len(ch.connected) != 1 || ch.connected[0] != "host" {
		t.Errorf("connected = %v, want [host]", ch.connected)
	}
	if got := s.Snapshot().Status; got != AwaitingOpponent {
		t.Errorf("status = %s, want awaiting_opponent", got)
	}
}

func TestFullGameWon(t *testing.T) {
	ch := &fakeChannel{}
	s := Join(ch, joiner, quiet())
	defer s.Close()

	if err := s.Move(Rock); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("move before start err = %v, want ErrNotInProgress", err)
	}

	ch.deliver(realtime.StartGame{GameType: "rps", Players: []geoquest.PlayerID{"host", "me"}})
	if got := s.Snapshot().Status; got != InProgress {
		t.Fatalf("status = %s, want in_progress", got)
	}

	if err := s.Move(Paper); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if err := s.Move(Scissors); !errors.Is(err, ErrAlreadyMoved) {
		t.Errorf("second move err = %v, want ErrAlreadyMoved", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(ch.sent))
	}
	if mv, ok := ch.sent[0].(realtime.Move); !ok || mv.PlayerID != "me" || mv.Choice != "paper" {
		t.Errorf("sent = %#v", ch.sent[0])
	}

	ch.deliver(realtime.Move{PlayerID: "me", Choice: "paper"})
	ch.deliver(realtime.Move{PlayerID: "host", Choice: "rock"})
	if !s.Snapshot().OpponentMoved {
		t.Error("opponent move not recorded")
	}

	ch.deliver(realtime.Result{Winner: "me"})

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after result")
	}
	snap := s.Snapshot()
	if snap.Status != Resolved || snap.Outcome != Won || snap.Winner != "me" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.OwnMove == nil || *snap.OwnMove != Paper {
		t.Errorf("own move = %v", snap.OwnMove)
	}
}

func TestOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		parts  Participants
		winner geoquest.PlayerID
		want   Outcome
	}{
		{name: "issuer wins", parts: Participants{Player1: "host", Player2: "guest", Self: Issuer}, winner: "host", want: Won},
		{name: "issuer loses", parts: Participants{Player1: "host", Player2: "guest", Self: Issuer}, winner: "guest", want: Lost},
		{name: "joiner loses", parts: joiner, winner: "host", want: Lost},
		{name: "draw", parts: joiner, winner: "", want: Draw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			s := Join(ch, tt.parts, quiet())
			defer s.Close()

			ch.deliver(realtime.StartGame{GameType: "rps"})
			ch.deliver(realtime.Result{Winner: tt.winner})
			if got := s.Snapshot().Outcome; got != tt.want {
				t.Errorf("outcome = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRejectedAbortsFromAnyState(t *testing.T) {
	setups := map[string][]realtime.Message{
		"awaiting":    nil,
		"in progress": {realtime.StartGame{GameType: "rps"}},
	}
	for name, before := range setups {
		t.Run(name, func(t *testing.T) {
			ch := &fakeChannel{}
			s := Join(ch, joiner, quiet())
			defer s.Close()

			var seen []Status
			s.OnChange(func(snap Snapshot) { seen = append(seen, snap.Status) })

			for _, m := range before {
				ch.deliver(m)
			}
			ch.deliver(realtime.Rejected{Reason: "Game full - try another QR"})
			ch.deliver(realtime.Result{Winner: "me"})

			snap := s.Snapshot()
			if snap.Status != Aborted {
				t.Fatalf("status = %s, want aborted", snap.Status)
			}
			if snap.Reason != "Game full - try another QR" {
				t.Errorf("reason = %q", snap.Reason)
			}
			for _, st := range seen {
				if st == Resolved {
					t.Error("resolved state reached after rejection")
				}
			}
			<-s.Done()
		})
	}
}

func TestCloseDeregisters(t *testing.T) {
	ch := &fakeChannel{}
	s := Join(ch, joiner, quiet())
	s.Close()
	s.Close()

	if len(ch.listeners) != 0 {
		t.Errorf("%d listeners left after Close", len(ch.listeners))
	}
	if got := s.Snapshot().Status; got != Aborted {
		t.Errorf("status = %s, want aborted", got)
	}
	ch.deliver(realtime.StartGame{})
	if got := s.Snapshot().Status; got != Aborted {
		t.Errorf("status after late frame = %s", got)
	}
}

func TestParseChoice(t *testing.T) {
	if c, err := ParseChoice("scissors"); err != nil || c != Scissors {
		t.Errorf("ParseChoice(scissors) = %q, %v", c, err)
	}
	if _, err := ParseChoice("lizard"); !errors.Is(err, ErrInvalidChoice) {
		t.Errorf("err = %v, want ErrInvalidChoice", err)
	}
}
