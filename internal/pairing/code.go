package pairing

import (
	"fmt"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/playperu/geoquest/internal/geo"
	"github.com/playperu/geoquest/internal/qr"
)

// Code is an issued pairing token bound to the place it was requested.
type Code struct {
	Token    string         `json:"token"`
	Origin   geo.Coordinate `json:"origin"`
	IssuedAt time.Time      `json:"issued_at"`
	TTL      time.Duration  `json:"-"`
}

// ExpiresAt is the first instant the code is no longer valid.
func (c Code) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.TTL)
}

// Valid reports whether the code is still usable at time now by a holder
// standing at at.
func (c Code) Valid(now time.Time, at geo.Coordinate, maxDrift float64) bool {
	return now.Before(c.ExpiresAt()) && geo.Within(c.Origin, at, maxDrift)
}

// QRText is the text another player scans.
func (c Code) QRText() string {
	return qr.PrefixPeer + c.Token
}

// PNG renders the code as a square image of size pixels.
func (c Code) PNG(size int) ([]byte, error) {
	png, err := qrcode.Encode(c.QRText(), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("rendering pairing code: %w", err)
	}
	return png, nil
}
