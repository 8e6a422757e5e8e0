// Package hunt tracks the player's progress through a multi-step hunt:
// live distance and bearing to the current step, and the proximity gate
// that enables scanning it.
package hunt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/playperu/geoquest/internal/geo"
	"github.com/playperu/geoquest/internal/geoquest"
)

var (
	// ErrOutOfRange is returned when a scan is attempted too far from the step.
	ErrOutOfRange = errors.New("too far from the current step")
	// ErrHuntComplete is returned when there is no step left to scan.
	ErrHuntComplete = errors.New("hunt already completed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("tracker closed")
)

const failedScanMessage = "Failed to validate QR. Try again."

// Backend is the hunt side of the game API.
type Backend interface {
	Hunt(ctx context.Context, huntID string) (geoquest.Hunt, error)
	SubmitHuntScan(ctx context.Context, huntID, code string, at geo.Coordinate) (geoquest.StepResult, error)
	AbandonHunt(ctx context.Context, huntID string) error
}

// Config holds the tracking policy.
type Config struct {
	Proximity       float64
	PositionEvery   time.Duration
	HeadingEvery    time.Duration
	CompletionDelay time.Duration
}

// DefaultConfig is the policy the game ships with.
var DefaultConfig = Config{
	Proximity:       50,
	PositionEvery:   time.Second,
	HeadingEvery:    100 * time.Millisecond,
	CompletionDelay: 2 * time.Second,
}

// State is a snapshot for display. Distance, Bearing and Arrow are nil
// until a fix arrives and while no step is active.
type State struct {
	HuntID      string          `json:"hunt_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	CurrentStep *geoquest.Step  `json:"current_step"`
	Position    *geo.Coordinate `json:"position,omitempty"`
	Distance    *float64        `json:"distance,omitempty"`
	Bearing     *float64        `json:"bearing,omitempty"`
	Heading     float64         `json:"heading"`
	Arrow       *float64        `json:"arrow,omitempty"`
	CanScan     bool            `json:"can_scan"`
	Completed   bool            `json:"completed"`
	Reward      int             `json:"reward,omitempty"`
	Message     string          `json:"message,omitempty"`
	Err         string          `json:"error,omitempty"`
}

// StepOutcome is the result of a successful submission.
type StepOutcome struct {
	Status   geoquest.StepStatus `json:"status"`
	Message  string              `json:"message,omitempty"`
	NextStep *geoquest.Step      `json:"next_step,omitempty"`
	Reward   int                 `json:"reward,omitempty"`
}

// Tracker follows one open hunt until Close.
type Tracker struct {
	api     Backend
	loc     geoquest.LocationProvider
	cfg     Config
	logger  *slog.Logger
	huntID  string
	cancel  context.CancelFunc
	group   *errgroup.Group
	closeMu sync.Once

	finished   chan struct{}
	finishOnce sync.Once

	mu        sync.Mutex
	state     State
	fix       *geo.Coordinate
	timer     *time.Timer
	closed    bool
	observers []func(State)
}

// Open loads the hunt and starts the position and heading watches. A
// position watch refused for lack of permission is reported in State.Err.
func Open(ctx context.Context, api Backend, loc geoquest.LocationProvider, heading geoquest.HeadingProvider, huntID string, cfg Config, logger *slog.Logger) (*Tracker, error) {
	h, err := api.Hunt(ctx, huntID)
	if err != nil {
		return nil, fmt.Errorf("loading hunt %s: %w", huntID, err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(watchCtx)

	t := &Tracker{
		api:      api,
		loc:      loc,
		cfg:      cfg,
		logger:   logger.With("hunt_id", huntID),
		huntID:   huntID,
		cancel:   cancel,
		group:    g,
		finished: make(chan struct{}),
		state: State{
			HuntID:      huntID,
			Name:        h.Name,
			Description: h.Description,
			CurrentStep: h.CurrentStep,
			Completed:   h.CurrentStep == nil,
		},
	}

	positions, err := loc.WatchPosition(gctx, cfg.PositionEvery)
	if err != nil {
		t.state.Err = err.Error()
		t.logger.Warn("position watch unavailable", "error", err)
	}
	g.Go(func() error {
		t.followPositions(gctx, positions)
		return nil
	})

	if heading != nil {
		headings, err := heading.WatchHeading(gctx, cfg.HeadingEvery)
		if err != nil {
			t.logger.Warn("heading watch unavailable", "error", err)
		} else {
			g.Go(func() error {
				for deg := range headings {
					t.setHeading(deg)
				}
				return nil
			})
		}
	}

	t.logger.Info("hunt opened", "name", h.Name)
	return t, nil
}

// followPositions applies fixes from positions. When the watch ends, or
// could not start, it retries every PositionEvery until the provider
// accepts a new watch or ctx ends.
func (t *Tracker) followPositions(ctx context.Context, positions <-chan geo.Coordinate) {
	retry := time.NewTicker(t.cfg.PositionEvery)
	defer retry.Stop()

	for {
		if positions != nil {
			for c := range positions {
				t.setFix(c)
			}
			if ctx.Err() != nil {
				return
			}
			t.lostFix(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-retry.C:
		}

		var err error
		positions, err = t.loc.WatchPosition(ctx, t.cfg.PositionEvery)
		if err != nil {
			positions = nil
		}
	}
}

func (t *Tracker) lostFix(ctx context.Context) {
	_, err := t.loc.Current(ctx)
	if err == nil {
		err = errors.New("position watch ended")
	}
	t.logger.Warn("position watch ended", "error", err)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Err = err.Error()
	t.state.CanScan = false
	t.notifyLocked()
}

func (t *Tracker) setFix(c geo.Coordinate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fix = &c
	t.state.Err = ""
	t.recomputeLocked()
	t.notifyLocked()
}

func (t *Tracker) setHeading(deg float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Heading = deg
	if t.state.Bearing != nil {
		arrow := geo.RelativeBearing(*t.state.Bearing, deg)
		t.state.Arrow = &arrow
	}
	t.notifyLocked()
}

// recomputeLocked derives distance, bearing and the scan gate from the last
// fix and the current step.
func (t *Tracker) recomputeLocked() {
	if t.fix != nil {
		pos := *t.fix
		t.state.Position = &pos
	}
	if t.fix == nil || t.state.CurrentStep == nil {
		t.state.Distance, t.state.Bearing, t.state.Arrow = nil, nil, nil
		t.state.CanScan = false
		return
	}
	target := t.state.CurrentStep.Target()
	d := geo.DistanceMeters(*t.fix, target)
	b := geo.BearingDegrees(*t.fix, target)
	a := geo.RelativeBearing(b, t.state.Heading)
	t.state.Distance, t.state.Bearing, t.state.Arrow = &d, &b, &a
	t.state.CanScan = d < t.cfg.Proximity
}

// OnChange registers fn for every state change.
func (t *Tracker) OnChange(fn func(State)) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// State returns the current snapshot.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyLocked()
}

func (t *Tracker) copyLocked() State {
	s := t.state
	if s.CurrentStep != nil {
		st := *s.CurrentStep
		s.CurrentStep = &st
	}
	return s
}

// CanScan reports whether the scan action is enabled.
func (t *Tracker) CanScan() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.CanScan
}

// HuntID returns the tracked hunt.
func (t *Tracker) HuntID() string { return t.huntID }

// Finished is closed CompletionDelay after the hunt completes, or on Close.
func (t *Tracker) Finished() <-chan struct{} { return t.finished }

// SubmitScan sends raw as the answer to the current step. It refuses
// locally when the player is out of range. Failures leave the state as it
// was.
func (t *Tracker) SubmitScan(ctx context.Context, raw string) (StepOutcome, error) {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return StepOutcome{}, ErrClosed
	case t.state.CurrentStep == nil:
		t.mu.Unlock()
		return StepOutcome{}, ErrHuntComplete
	case !t.state.CanScan || t.fix == nil:
		t.mu.Unlock()
		return StepOutcome{}, ErrOutOfRange
	}
	at := *t.fix
	t.mu.Unlock()

	res, err := t.api.SubmitHuntScan(ctx, t.huntID, raw, at)
	if err != nil {
		return StepOutcome{}, fmt.Errorf("submitting hunt scan: %w", err)
	}

	switch res.Status {
	case geoquest.StepSuccess:
		next := res.NextStep
		if next == nil {
			h, err := t.api.Hunt(ctx, t.huntID)
			if err != nil {
				return StepOutcome{}, fmt.Errorf("reloading hunt after step: %w", err)
			}
			next = h.CurrentStep
		}
		t.mu.Lock()
		t.state.CurrentStep = next
		t.state.Completed = next == nil
		t.state.Message = res.Message
		t.recomputeLocked()
		t.notifyLocked()
		t.mu.Unlock()
		t.logger.Info("hunt step completed", "next_step", stepNumber(next))
		return StepOutcome{Status: res.Status, Message: res.Message, NextStep: next}, nil

	case geoquest.StepCompleted:
		t.mu.Lock()
		t.state.CurrentStep = nil
		t.state.Completed = true
		t.state.Reward = res.Reward
		t.state.Message = res.Message
		t.recomputeLocked()
		if !t.closed && t.timer == nil {
			t.timer = time.AfterFunc(t.cfg.CompletionDelay, t.finish)
		}
		t.notifyLocked()
		t.mu.Unlock()
		t.logger.Info("hunt completed", "reward", res.Reward)
		return StepOutcome{Status: res.Status, Message: res.Message, Reward: res.Reward}, nil
	}

	msg := res.Message
	if msg == "" {
		msg = failedScanMessage
	}
	return StepOutcome{}, geoquest.Rejected(msg)
}

// Abandon marks the hunt abandoned on the backend and closes the tracker.
func (t *Tracker) Abandon(ctx context.Context) error {
	if err := t.api.AbandonHunt(ctx, t.huntID); err != nil {
		return fmt.Errorf("abandoning hunt %s: %w", t.huntID, err)
	}
	t.Close()
	return nil
}

// Close stops both watches and waits for them. It is safe to call more
// than once.
func (t *Tracker) Close() {
	t.closeMu.Do(func() {
		t.mu.Lock()
		t.closed = true
		if t.timer != nil {
			t.timer.Stop()
		}
		t.observers = nil
		t.mu.Unlock()

		t.cancel()
		t.group.Wait()
		t.finish()
	})
}

func (t *Tracker) finish() {
	t.finishOnce.Do(func() { close(t.finished) })
}

func (t *Tracker) notifyLocked() {
	if len(t.observers) == 0 {
		return
	}
	s := t.copyLocked()
	for _, fn := range t.observers {
		fn(s)
	}
}

func stepNumber(s *geoquest.Step) int {
	if s == nil {
		return 0
	}
	return s.Number
}
