// Package geoquest defines the core domain types, sensor interfaces and
// error taxonomy shared by the interaction engine. It depends only on the
// standard library and the geo package.
package geoquest

import (
	"context"
	"time"

	"github.com/playperu/geoquest/internal/geo"
)

// PlayerID identifies a player on the game backend.
type PlayerID string

// Hunt is a multi-step journey as reported by the backend.
type Hunt struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CurrentStep *Step  `json:"current_step"`
}

// Step is a single hunt target.
type Step struct {
	ID        string  `json:"id,omitempty"`
	Number    int     `json:"step_number,omitempty"`
	Hint      string  `json:"hint,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Target returns the step's coordinate.
func (s Step) Target() geo.Coordinate {
	return geo.Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}

// StepStatus is the backend verdict on a hunt-step scan.
type StepStatus string

const (
	StepSuccess   StepStatus = "success"
	StepCompleted StepStatus = "completed"
)

// StepResult is the backend response to a hunt-step submission.
type StepResult struct {
	Status   StepStatus `json:"status"`
	Message  string     `json:"message,omitempty"`
	NextStep *Step      `json:"next_step,omitempty"`
	Reward   int        `json:"reward,omitempty"`
}

// PeerGrant is an issued pairing token.
type PeerGrant struct {
	Token      string `json:"token"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// PeerValidation is the backend verdict on a scanned pairing token.
type PeerValidation struct {
	Status   string   `json:"status"`
	Message  string   `json:"message,omitempty"`
	Player1  PlayerID `json:"player1_id,omitempty"`
	Player2  PlayerID `json:"player2_id,omitempty"`
	GameType string   `json:"game_type,omitempty"`
}

// OK reports whether the backend accepted the token.
func (v PeerValidation) OK() bool { return v.Status == "success" }

// HuntSummary is an entry of the active hunts listing.
type HuntSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	StepsDone   int    `json:"steps_completed,omitempty"`
	StepsTotal  int    `json:"total_steps,omitempty"`
}

// HuntPage is one page of active hunts.
type HuntPage struct {
	Hunts []HuntSummary `json:"hunts"`
	Total int           `json:"total"`
}

// ScanRecord is one entry of the backend scan history.
type ScanRecord struct {
	ScanTime        string  `json:"scan_time"`
	Success         bool    `json:"success"`
	ScanType        string  `json:"scan_type"`
	ProximityStatus *string `json:"proximity_status,omitempty"`
	QRCode          *string `json:"qr_code,omitempty"`
	PeerUsername    *string `json:"peer_username,omitempty"`
}

// ScanPage is one page of scan history.
type ScanPage struct {
	Scans []ScanRecord `json:"scans"`
	Total int          `json:"total"`
}

// Player is the backend profile of the current player.
type Player struct {
	ID         PlayerID       `json:"id"`
	Username   string         `json:"username"`
	Points     int            `json:"points"`
	ScanCounts map[string]int `json:"scan_counts,omitempty"`
}

// LocationProvider delivers the device position.
type LocationProvider interface {
	// Current returns the latest fix or ErrPermissionDenied.
	Current(ctx context.Context) (geo.Coordinate, error)
	// WatchPosition streams fixes sampled every interval until ctx ends.
	WatchPosition(ctx context.Context, every time.Duration) (<-chan geo.Coordinate, error)
}

// HeadingProvider delivers compass headings in degrees. Headings are used
// for display only.
type HeadingProvider interface {
	WatchHeading(ctx context.Context, every time.Duration) (<-chan float64, error)
}

// ScanResult is the backend verdict on a generic reward scan.
type ScanResult struct {
	Status        string         `json:"status"`
	Message       string         `json:"message,omitempty"`
	LocationValid bool           `json:"location_valid"`
	EncounterType string         `json:"encounter_type,omitempty"`
	RewardData    map[string]any `json:"reward_data,omitempty"`
}

// LoginResult is the backend response to a QR login handoff.
type LoginResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// JournalEntry is one locally recorded scan attempt. The journal is a
// diagnostic log; the backend remains the source of truth for progress.
type JournalEntry struct {
	ID        int64     `json:"id"`
	Raw       string    `json:"raw"`
	Kind      string    `json:"kind"`
	Code      string    `json:"code,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	ScannedAt time.Time `json:"scanned_at"`
}
