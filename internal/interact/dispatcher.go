// Package interact routes a scanned QR payload to the flow its kind
// triggers and turns the backend's verdict into a message for the player.
package interact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/playperu/geoquest/internal/geo"
	"github.com/playperu/geoquest/internal/geoquest"
	"github.com/playperu/geoquest/internal/hunt"
	"github.com/playperu/geoquest/internal/qr"
)

var (
	// ErrNoActiveHunt is returned for a hunt code whose hunt is not open.
	ErrNoActiveHunt = errors.New("no active hunt for this code")
	// ErrPairingUnavailable is returned for a peer code when no pairer is wired.
	ErrPairingUnavailable = errors.New("pairing unavailable")
)

const (
	msgWrongLocation = "You are not in the correct location to get the rewards for this code."
	msgMysterious    = "This QR code is mysterious and unknown to the system."
	msgScanFailed    = "An error occurred while scanning. Please try again."
	msgUnsupported   = "This code type is not supported yet."
	msgLoginOK       = "Login successful."
	msgLoginFailed   = "Login failed."
	msgPaired        = "Pairing accepted. Joining game."
	msgNoHunt        = "Open this hunt before scanning its codes."
)

// Backend covers the scan endpoints that need no local state.
type Backend interface {
	CompleteQRLogin(ctx context.Context, sessionID string) (geoquest.LoginResult, error)
	ScanQR(ctx context.Context, code string, at geo.Coordinate) (geoquest.ScanResult, error)
}

// PeerValidator validates scanned pairing codes.
type PeerValidator interface {
	Validate(ctx context.Context, token string) (geoquest.PeerValidation, error)
}

// StepScanner submits a hunt step.
type StepScanner interface {
	SubmitScan(ctx context.Context, raw string) (hunt.StepOutcome, error)
}

// HuntRouter finds the open tracker for a hunt.
type HuntRouter func(huntID string) (StepScanner, bool)

// Journal records scan attempts.
type Journal interface {
	RecordScan(ctx context.Context, e geoquest.JournalEntry) error
}

// Outcome is what the player is told about a scan. Exactly one of the
// detail fields is set on success.
type Outcome struct {
	Kind    qr.Kind `json:"kind"`
	Success bool    `json:"success"`
	Message string  `json:"message"`

	Login *geoquest.LoginResult    `json:"login,omitempty"`
	Scan  *geoquest.ScanResult     `json:"scan,omitempty"`
	Peer  *geoquest.PeerValidation `json:"peer,omitempty"`
	Step  *hunt.StepOutcome        `json:"step,omitempty"`

	// ItemCode is the code carried by a structured item or encounter scan.
	ItemCode string `json:"item_code,omitempty"`
	// PeerOrigin is where the scanned pairing code was issued, when the
	// code carries it.
	PeerOrigin *geo.Coordinate `json:"peer_origin,omitempty"`
}

// Dispatcher handles scans. Optional collaborators are set with options.
type Dispatcher struct {
	api     Backend
	loc     geoquest.LocationProvider
	logger  *slog.Logger
	pairing PeerValidator
	hunts   HuntRouter
	journal Journal
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithPairing(p PeerValidator) Option { return func(d *Dispatcher) { d.pairing = p } }

func WithHunts(r HuntRouter) Option { return func(d *Dispatcher) { d.hunts = r } }

func WithJournal(j Journal) Option { return func(d *Dispatcher) { d.journal = j } }

func New(api Backend, loc geoquest.LocationProvider, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{api: api, loc: loc, logger: logger}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Handle classifies raw and runs the matching flow. On error the returned
// Outcome still carries a message suitable for the player.
func (d *Dispatcher) Handle(ctx context.Context, raw string) (Outcome, error) {
	p := qr.Classify(raw)
	out, err := d.route(ctx, p)
	return d.finish(ctx, raw, p.Kind, out, err)
}

// HandleStep submits raw as the answer to the current step of the open hunt
// huntID, whatever its format, and records it like any other scan.
func (d *Dispatcher) HandleStep(ctx context.Context, huntID, raw string) (Outcome, error) {
	out, err := d.huntStep(ctx, qr.Payload{Raw: raw, Kind: qr.KindHuntStep, HuntID: huntID})
	return d.finish(ctx, raw, qr.KindHuntStep, out, err)
}

func (d *Dispatcher) finish(ctx context.Context, raw string, kind qr.Kind, out Outcome, err error) (Outcome, error) {
	out.Kind = kind
	if err != nil {
		out.Success = false
		if out.Message == "" {
			out.Message = failureMessage(err)
		}
		d.logger.Info("scan failed", "kind", kind, "error", err)
	}

	d.record(ctx, raw, out)
	return out, err
}

func (d *Dispatcher) route(ctx context.Context, p qr.Payload) (Outcome, error) {
	switch p.Kind {
	case qr.KindLogin:
		return d.login(ctx, p.SessionID)
	case qr.KindPeer:
		out, err := d.peer(ctx, p.PeerToken)
		out.PeerOrigin = p.PeerOrigin
		return out, err
	case qr.KindHuntStep:
		return d.huntStep(ctx, p)
	case qr.KindSecure:
		return Outcome{Message: msgUnsupported}, nil
	default:
		out, err := d.reward(ctx, p.Raw)
		out.ItemCode = p.ItemCode
		return out, err
	}
}

func (d *Dispatcher) login(ctx context.Context, sessionID string) (Outcome, error) {
	res, err := d.api.CompleteQRLogin(ctx, sessionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("completing qr login: %w", err)
	}
	out := Outcome{Login: &res, Success: res.Status == "success", Message: res.Message}
	if out.Message == "" {
		out.Message = msgLoginFailed
		if out.Success {
			out.Message = msgLoginOK
		}
	}
	return out, nil
}

func (d *Dispatcher) peer(ctx context.Context, token string) (Outcome, error) {
	if d.pairing == nil {
		return Outcome{}, ErrPairingUnavailable
	}
	v, err := d.pairing.Validate(ctx, token)
	if err != nil {
		return Outcome{}, err
	}
	msg := v.Message
	if msg == "" {
		msg = msgPaired
	}
	return Outcome{Peer: &v, Success: true, Message: msg}, nil
}

func (d *Dispatcher) huntStep(ctx context.Context, p qr.Payload) (Outcome, error) {
	var (
		sc StepScanner
		ok bool
	)
	if d.hunts != nil {
		sc, ok = d.hunts(p.HuntID)
	}
	if !ok {
		return Outcome{Message: msgNoHunt}, fmt.Errorf("hunt %s: %w", p.HuntID, ErrNoActiveHunt)
	}

	res, err := sc.SubmitScan(ctx, p.Raw)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Step: &res, Success: true, Message: res.Message}, nil
}

func (d *Dispatcher) reward(ctx context.Context, raw string) (Outcome, error) {
	at, err := d.loc.Current(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("locating for scan: %w", err)
	}
	res, err := d.api.ScanQR(ctx, raw, at)
	if err != nil {
		return Outcome{}, fmt.Errorf("scanning qr: %w", err)
	}
	return Outcome{Scan: &res, Success: res.LocationValid, Message: RewardMessage(res)}, nil
}

// RewardMessage describes a reward scan verdict the way the game words it.
func RewardMessage(res geoquest.ScanResult) string {
	if !res.LocationValid {
		return msgWrongLocation
	}
	r := res.RewardData
	switch res.EncounterType {
	case "item_drop":
		return fmt.Sprintf("You have found %v.", r["item_name"])
	case "transportation":
		return fmt.Sprintf("You have been transported to %v.", r["destination"])
	case "encounter":
		return fmt.Sprintf("You have encountered a level %v of type %v", r["difficulty_level"], r["puzzle_type"])
	}
	return msgMysterious
}

func failureMessage(err error) string {
	var rej *geoquest.RejectedError
	switch {
	case errors.As(err, &rej) && rej.Message != "":
		return rej.Message
	case errors.Is(err, geoquest.ErrPermissionDenied):
		return "Location permission is required to scan this code."
	case errors.Is(err, hunt.ErrOutOfRange):
		return "Get closer to the step before scanning."
	}
	return msgScanFailed
}

func (d *Dispatcher) record(ctx context.Context, raw string, out Outcome) {
	if d.journal == nil {
		return
	}
	err := d.journal.RecordScan(context.WithoutCancel(ctx), geoquest.JournalEntry{
		Raw:     raw,
		Kind:    string(out.Kind),
		Code:    out.ItemCode,
		Success: out.Success,
		Message: out.Message,
	})
	if err != nil {
		d.logger.Error("recording scan", "error", err)
	}
}
