// Package pairing issues and validates the short-lived, location-bound codes
// that let a second player join the issuer's mini-game.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playperu/geoquest/internal/geo"
	"github.com/playperu/geoquest/internal/geoquest"
)

var (
	// ErrCooldown matches every *CooldownError.
	ErrCooldown = errors.New("pairing code requested too soon")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pairer closed")
	// ErrReset is returned by an Issue call overtaken by Reset.
	ErrReset = errors.New("pairing reset during issuance")
)

// CooldownError tells the caller how long to wait before asking again.
type CooldownError struct {
	Wait time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("pairing code requested too soon, retry in %s", e.Wait.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrCooldown }

// Backend issues and validates peer codes.
type Backend interface {
	IssuePeerCode(ctx context.Context, at geo.Coordinate) (geoquest.PeerGrant, error)
	ValidatePeerCode(ctx context.Context, token string, at geo.Coordinate) (geoquest.PeerValidation, error)
}

// Phase is the issuer-side state.
type Phase string

const (
	Idle     Phase = "idle"
	Issuing  Phase = "issuing"
	Active   Phase = "active"
	Expired  Phase = "expired"
	Consumed Phase = "consumed"
)

// Reason explains an expiry.
type Reason string

const (
	ReasonTimeout Reason = "timeout"
	ReasonDrift   Reason = "drift"
)

// Status is a snapshot for display.
type Status struct {
	Phase     Phase             `json:"phase"`
	Code      *Code             `json:"code,omitempty"`
	Reason    Reason            `json:"reason,omitempty"`
	Remaining time.Duration     `json:"-"`
	Peer      geoquest.PlayerID `json:"peer,omitempty"`
}

// Config holds the pairing policy.
type Config struct {
	TTL         time.Duration
	Cooldown    time.Duration
	SampleEvery time.Duration
	MaxDrift    float64
}

// DefaultConfig is the policy the game ships with.
var DefaultConfig = Config{
	TTL:         300 * time.Second,
	Cooldown:    5 * time.Second,
	SampleEvery: 5 * time.Second,
	MaxDrift:    50,
}

// Pairer drives one player's pairing code through its lifecycle.
type Pairer struct {
	api    Backend
	loc    geoquest.LocationProvider
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	wg sync.WaitGroup

	mu          sync.Mutex
	phase       Phase
	code        *Code
	reason      Reason
	peer        geoquest.PlayerID
	lastRequest time.Time
	gen         uint64
	cancel      context.CancelFunc
	observers   []func(Status)
	closed      bool
}

// Option configures a Pairer.
type Option func(*Pairer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pairer) { p.now = now }
}

// New creates an idle pairer.
func New(api Backend, loc geoquest.LocationProvider, cfg Config, logger *slog.Logger, opts ...Option) *Pairer {
	p := &Pairer{
		api:    api,
		loc:    loc,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		phase:  Idle,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OnChange registers fn to receive every status change.
func (p *Pairer) OnChange(fn func(Status)) {
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}

// Status returns the current state.
func (p *Pairer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Pairer) statusLocked() Status {
	s := Status{Phase: p.phase, Reason: p.reason, Peer: p.peer}
	if p.code != nil {
		c := *p.code
		s.Code = &c
		if p.phase == Active {
			s.Remaining = max(c.ExpiresAt().Sub(p.now()), 0)
		}
	}
	return s
}

// Issue requests a new code at the current position. A request within the
// cooldown of the previous one fails with *CooldownError and never reaches
// the backend. On failure the previous state is kept.
func (p *Pairer) Issue(ctx context.Context) (Code, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Code{}, ErrClosed
	}
	now := p.now()
	if !p.lastRequest.IsZero() {
		if wait := p.cfg.Cooldown - now.Sub(p.lastRequest); wait > 0 {
			p.mu.Unlock()
			return Code{}, &CooldownError{Wait: wait}
		}
	}
	p.lastRequest = now

	prevPhase, prevCode, prevReason, prevPeer := p.phase, p.code, p.reason, p.peer
	p.stopWatchLocked()
	gen := p.gen
	p.phase = Issuing
	p.reason = ""
	p.notifyLocked()
	p.mu.Unlock()

	code, err := p.issue(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Code{}, ErrClosed
	}
	if gen != p.gen {
		return Code{}, ErrReset
	}
	if err != nil {
		p.phase, p.code, p.reason, p.peer = prevPhase, prevCode, prevReason, prevPeer
		if prevPhase == Active && prevCode != nil {
			p.startWatchLocked(*prevCode)
		}
		p.notifyLocked()
		return Code{}, err
	}

	p.phase = Active
	p.code = &code
	p.peer = ""
	p.startWatchLocked(code)
	p.notifyLocked()
	p.logger.Info("pairing code issued", "expires_at", code.ExpiresAt())
	return code, nil
}

func (p *Pairer) issue(ctx context.Context) (Code, error) {
	at, err := p.loc.Current(ctx)
	if err != nil {
		return Code{}, fmt.Errorf("locating for pairing code: %w", err)
	}
	grant, err := p.api.IssuePeerCode(ctx, at)
	if err != nil {
		return Code{}, fmt.Errorf("issuing pairing code: %w", err)
	}
	ttl := p.cfg.TTL
	if grant.TTLSeconds > 0 {
		ttl = time.Duration(grant.TTLSeconds) * time.Second
	}
	return Code{Token: grant.Token, Origin: at, IssuedAt: p.now(), TTL: ttl}, nil
}

// MarkConsumed records that peer scanned the active code. It reports
// whether a code was active.
func (p *Pairer) MarkConsumed(peer geoquest.PlayerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != Active {
		return false
	}
	p.stopWatchLocked()
	p.phase = Consumed
	p.peer = peer
	p.notifyLocked()
	return true
}

// Validate submits a code scanned from another player. The backend decides
// on distance and expiry; a non-success verdict is a *geoquest.RejectedError.
func (p *Pairer) Validate(ctx context.Context, token string) (geoquest.PeerValidation, error) {
	at, err := p.loc.Current(ctx)
	if err != nil {
		return geoquest.PeerValidation{}, fmt.Errorf("locating for pairing validation: %w", err)
	}
	v, err := p.api.ValidatePeerCode(ctx, token, at)
	if err != nil {
		return v, fmt.Errorf("validating pairing code: %w", err)
	}
	if !v.OK() {
		return v, geoquest.Rejected(v.Message)
	}
	return v, nil
}

// Reset discards any code and returns to Idle. The cooldown still applies.
func (p *Pairer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	p.notifyLocked()
}

func (p *Pairer) resetLocked() {
	p.stopWatchLocked()
	p.phase = Idle
	p.code = nil
	p.reason = ""
	p.peer = ""
}

// Close stops all background work and waits for it to finish.
func (p *Pairer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.resetLocked()
	p.observers = nil
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pairer) startWatchLocked(code Code) {
	p.gen++
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go func(gen uint64) {
		defer p.wg.Done()
		p.watch(ctx, gen, code)
	}(p.gen)
}

func (p *Pairer) stopWatchLocked() {
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// watch expires code on TTL or when the holder drifts too far from its
// origin, whichever comes first.
func (p *Pairer) watch(ctx context.Context, gen uint64, code Code) {
	ttl := time.NewTimer(max(code.ExpiresAt().Sub(p.now()), 0))
	defer ttl.Stop()
	tick := time.NewTicker(p.cfg.SampleEvery)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ttl.C:
			p.expire(gen, ReasonTimeout)
			return
		case <-tick.C:
		}

		if !p.now().Before(code.ExpiresAt()) {
			p.expire(gen, ReasonTimeout)
			return
		}
		at, err := p.loc.Current(ctx)
		if err != nil {
			p.logger.Debug("pairing drift sample skipped", "error", err)
			continue
		}
		if !geo.Within(code.Origin, at, p.cfg.MaxDrift) {
			p.logger.Info("pairing code invalidated by drift", "distance_m", geo.DistanceMeters(at, code.Origin))
			p.expire(gen, ReasonDrift)
			return
		}
	}
}

func (p *Pairer) expire(gen uint64, reason Reason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || p.phase != Active {
		return
	}
	p.cancel()
	p.cancel = nil
	p.phase = Expired
	p.reason = reason
	p.notifyLocked()
}

// notifyLocked delivers the current status to observers. Observers must not
// call back into the Pairer.
func (p *Pairer) notifyLocked() {
	if len(p.observers) == 0 {
		return
	}
	s := p.statusLocked()
	for _, fn := range p.observers {
		fn(s)
	}
}
