package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/playperu/geoquest/internal/geoquest"
	"github.com/playperu/geoquest/internal/hunt"
	"github.com/playperu/geoquest/internal/interact"
	"github.com/playperu/geoquest/internal/location"
	"github.com/playperu/geoquest/internal/minigame"
	"github.com/playperu/geoquest/internal/pairing"
	"github.com/playperu/geoquest/internal/realtime"
)

// Scanner handles raw scanned text.
type Scanner interface {
	Handle(ctx context.Context, raw string) (interact.Outcome, error)
	HandleStep(ctx context.Context, huntID, raw string) (interact.Outcome, error)
}

// Pairing is the issuer side of peer pairing.
type Pairing interface {
	Issue(ctx context.Context) (pairing.Code, error)
	Status() pairing.Status
	Reset()
	MarkConsumed(peer geoquest.PlayerID) bool
	OnChange(fn func(pairing.Status))
}

// Backend is the part of the game API the agent calls directly.
type Backend interface {
	hunt.Backend
	ActiveHunts(ctx context.Context, skip, limit int) (geoquest.HuntPage, error)
	ScanHistory(ctx context.Context, skip, limit int) (geoquest.ScanPage, error)
}

// Identity names the local player.
type Identity interface {
	PlayerID() (geoquest.PlayerID, error)
}

// Journal lists recorded scans.
type Journal interface {
	RecentScans(ctx context.Context, limit int) ([]geoquest.JournalEntry, error)
}

// Deps are the engine components served by the API. Journal and Health
// may be nil.
type Deps struct {
	Logger     *slog.Logger
	Feed       *location.Feed
	Scanner    Scanner
	Pairing    Pairing
	Backend    Backend
	Hunts      *hunt.Registry
	HuntConfig hunt.Config
	Channel    minigame.Channel
	Identity   Identity
	Journal    Journal
	Health     http.Handler
}

// agent holds the request-independent state behind the handlers.
type agent struct {
	Deps
	broker   *Broker
	listener realtime.ListenerID

	mu   sync.Mutex
	game *minigame.Session
}

type interactionEvent struct {
	Message string            `json:"message"`
	PeerID  geoquest.PlayerID `json:"peer_id"`
}

func newAgent(deps Deps) *agent {
	a := &agent{Deps: deps, broker: NewBroker()}

	a.Pairing.OnChange(func(s pairing.Status) {
		a.broker.Publish(TopicPairing, newPairingResponse(s))
	})
	a.listener = a.Channel.AddListener(a.onRealtime)
	return a
}

// onRealtime reacts to a peer scanning this player's pairing code: the
// code is consumed and the issuer's side of the game starts.
func (a *agent) onRealtime(msg realtime.Message) {
	pi, ok := msg.(realtime.PlayerInteraction)
	if !ok {
		return
	}
	a.broker.Publish(TopicInteraction, interactionEvent{Message: pi.Message, PeerID: pi.PeerID})

	if !a.Pairing.MarkConsumed(pi.PeerID) {
		return
	}
	self, err := a.Identity.PlayerID()
	if err != nil {
		a.Logger.Warn("cannot host game without identity", "error", err)
		return
	}
	if a.currentGame() != nil {
		return
	}
	a.startGame(minigame.Participants{Player1: self, Player2: pi.PeerID, Self: minigame.Issuer})
}

func (a *agent) startGame(parts minigame.Participants) *minigame.Session {
	a.stopGame()

	s := minigame.Join(a.Channel, parts, a.Logger)
	s.OnChange(func(snap minigame.Snapshot) {
		a.broker.Publish(TopicMinigame, snap)
	})

	a.mu.Lock()
	a.game = s
	a.mu.Unlock()
	a.broker.Publish(TopicMinigame, s.Snapshot())
	return s
}

func (a *agent) currentGame() *minigame.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.game
}

func (a *agent) stopGame() bool {
	a.mu.Lock()
	s := a.game
	a.game = nil
	a.mu.Unlock()

	if s == nil {
		return false
	}
	s.Close()
	return true
}

// openHunt starts tracking huntID and publishes its state changes.
func (a *agent) openHunt(ctx context.Context, huntID string) (*hunt.Tracker, error) {
	t, err := hunt.Open(ctx, a.Backend, a.Feed, a.Feed, huntID, a.HuntConfig, a.Logger)
	if err != nil {
		return nil, err
	}
	t.OnChange(func(s hunt.State) {
		a.broker.Publish(TopicHunt, s)
	})
	a.Hunts.Add(t)

	go func() {
		<-t.Finished()
		a.Hunts.Release(t)
	}()
	return t, nil
}

func (a *agent) close() {
	a.Channel.RemoveListener(a.listener)
	a.stopGame()
	a.Hunts.CloseAll()
}
