// Package minigame runs the two-player rock-paper-scissors exchange that
// follows a successful pairing. The server drives every transition; the
// session only records what it is told and sends the local player's move.
package minigame

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/playperu/geoquest/internal/geoquest"
	"github.com/playperu/geoquest/internal/realtime"
)

var (
	// ErrNotInProgress is returned by Move outside InProgress.
	ErrNotInProgress = errors.New("game not in progress")
	// ErrAlreadyMoved is returned by a second Move.
	ErrAlreadyMoved = errors.New("move already submitted")
	// ErrInvalidChoice is returned for an unknown choice.
	ErrInvalidChoice = errors.New("invalid choice")
)

// Channel is the part of the realtime channel a session needs.
type Channel interface {
	Connect(target geoquest.PlayerID)
	Send(msg realtime.Message)
	AddListener(fn realtime.Listener) realtime.ListenerID
	RemoveListener(id realtime.ListenerID)
}

// Choice is a move.
type Choice string

const (
	Rock     Choice = "rock"
	Paper    Choice = "paper"
	Scissors Choice = "scissors"
)

// ParseChoice validates s.
func ParseChoice(s string) (Choice, error) {
	switch c := Choice(s); c {
	case Rock, Paper, Scissors:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChoice, s)
}

// Status is the session state.
type Status string

const (
	AwaitingOpponent Status = "awaiting_opponent"
	InProgress       Status = "in_progress"
	Resolved         Status = "resolved"
	Aborted          Status = "aborted"
)

func (s Status) terminal() bool { return s == Resolved || s == Aborted }

// Outcome is the local player's result once Resolved.
type Outcome string

const (
	Won  Outcome = "won"
	Lost Outcome = "lost"
	Draw Outcome = "draw"
)

// Role says which participant the local player is.
type Role int

const (
	// Issuer showed the pairing code and owns the channel.
	Issuer Role = iota + 1
	// Joiner scanned the code.
	Joiner
)

// Participants names both players and the local player's role.
type Participants struct {
	Player1 geoquest.PlayerID
	Player2 geoquest.PlayerID
	Self    Role
}

// Own returns the local player's id.
func (p Participants) Own() geoquest.PlayerID {
	if p.Self == Joiner {
		return p.Player2
	}
	return p.Player1
}

// Snapshot is the session state for display.
type Snapshot struct {
	Players       [2]geoquest.PlayerID `json:"players"`
	Status        Status               `json:"status"`
	GameType      string               `json:"game_type,omitempty"`
	OwnMove       *Choice              `json:"own_move,omitempty"`
	OpponentMoved bool                 `json:"opponent_moved"`
	Winner        geoquest.PlayerID    `json:"winner,omitempty"`
	Outcome       Outcome              `json:"outcome,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}

// Session is one game. It lives until Close.
type Session struct {
	ch     Channel
	own    geoquest.PlayerID
	logger *slog.Logger
	done   chan struct{}

	mu        sync.Mutex
	snap      Snapshot
	listener  realtime.ListenerID
	closed    bool
	observers []func(Snapshot)
}

// Join starts listening and connects to player 1's channel.
func Join(ch Channel, parts Participants, logger *slog.Logger) *Session {
	s := &Session{
		ch:     ch,
		own:    parts.Own(),
		logger: logger.With("player_id", parts.Own()),
		done:   make(chan struct{}),
		snap: Snapshot{
			Players: [2]geoquest.PlayerID{parts.Player1, parts.Player2},
			Status:  AwaitingOpponent,
		},
	}
	s.mu.Lock()
	s.listener = ch.AddListener(s.handle)
	s.mu.Unlock()

	ch.Connect(parts.Player1)
	return s
}

// OnChange registers fn for every state change.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Session) copyLocked() Snapshot {
	snap := s.snap
	if snap.OwnMove != nil {
		c := *snap.OwnMove
		snap.OwnMove = &c
	}
	return snap
}

// Done is closed when the session is resolved or aborted.
func (s *Session) Done() <-chan struct{} { return s.done }

// Move submits the local player's single move.
func (s *Session) Move(c Choice) error {
	if _, err := ParseChoice(string(c)); err != nil {
		return err
	}

	s.mu.Lock()
	if s.snap.Status != InProgress {
		s.mu.Unlock()
		return ErrNotInProgress
	}
	if s.snap.OwnMove != nil {
		s.mu.Unlock()
		return ErrAlreadyMoved
	}
	s.snap.OwnMove = &c
	s.notifyLocked()
	s.mu.Unlock()

	s.ch.Send(realtime.Move{PlayerID: s.own, Choice: string(c)})
	return nil
}

// Close stops listening. A session closed before it finished is aborted.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	id := s.listener
	if !s.snap.Status.terminal() {
		s.finishLocked(Aborted)
		s.snap.Reason = "left"
	}
	s.observers = nil
	s.mu.Unlock()

	s.ch.RemoveListener(id)
}

func (s *Session) handle(msg realtime.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.snap.Status.terminal() {
		return
	}

	switch m := msg.(type) {
	case realtime.StartGame:
		if s.snap.Status != AwaitingOpponent {
			return
		}
		s.snap.Status = InProgress
		s.snap.GameType = m.GameType
		if len(m.Players) == 2 {
			s.snap.Players = [2]geoquest.PlayerID{m.Players[0], m.Players[1]}
		}
		s.logger.Info("mini-game started", "game_type", m.GameType)

	case realtime.Move:
		if m.PlayerID == s.own || s.snap.Status != InProgress {
			return
		}
		s.snap.OpponentMoved = true

	case realtime.Result:
		s.snap.Winner = m.Winner
		switch {
		case m.Winner == "":
			s.snap.Outcome = Draw
		case m.Winner == s.own:
			s.snap.Outcome = Won
		default:
			s.snap.Outcome = Lost
		}
		s.finishLocked(Resolved)
		s.logger.Info("mini-game resolved", "outcome", s.snap.Outcome)

	case realtime.Rejected:
		s.snap.Reason = m.Reason
		s.finishLocked(Aborted)
		s.logger.Info("mini-game rejected", "reason", m.Reason)

	default:
		return
	}
	s.notifyLocked()
}

func (s *Session) finishLocked(st Status) {
	s.snap.Status = st
	close(s.done)
}

func (s *Session) notifyLocked() {
	if len(s.observers) == 0 {
		return
	}
	snap := s.copyLocked()
	for _, fn := range s.observers {
		fn(snap)
	}
}
