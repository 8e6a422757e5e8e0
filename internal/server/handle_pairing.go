package server

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/playperu/geoquest/internal/geo"
	"github.com/playperu/geoquest/internal/geoquest"
	"github.com/playperu/geoquest/internal/pairing"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

// PairingResponse is the pairing state with durations in whole seconds,
// the unit the backend issues ttl_seconds in.
type PairingResponse struct {
	Phase            pairing.Phase     `json:"phase"`
	Token            string            `json:"token,omitempty"`
	Origin           *geo.Coordinate   `json:"origin,omitempty"`
	IssuedAt         *time.Time        `json:"issued_at,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	TTLSeconds       int               `json:"ttl_seconds,omitempty"`
	RemainingSeconds int               `json:"remaining_seconds"`
	Reason           pairing.Reason    `json:"reason,omitempty"`
	Peer             geoquest.PlayerID `json:"peer,omitempty"`
}

func newPairingResponse(s pairing.Status) PairingResponse {
	resp := PairingResponse{
		Phase:            s.Phase,
		RemainingSeconds: int(math.Ceil(s.Remaining.Seconds())),
		Reason:           s.Reason,
		Peer:             s.Peer,
	}
	if c := s.Code; c != nil {
		origin, issued, expires := c.Origin, c.IssuedAt, c.ExpiresAt()
		resp.Token = c.Token
		resp.Origin = &origin
		resp.IssuedAt = &issued
		resp.ExpiresAt = &expires
		resp.TTLSeconds = int(c.TTL / time.Second)
	}
	return resp
}

func handleIssuePairing(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := a.Pairing.Issue(r.Context()); err != nil {
			writeErr(w, err)
			return
		}
		// The issuer waits for its peer on its own channel.
		a.Channel.Connect("")
		writeJSON(w, http.StatusCreated, newPairingResponse(a.Pairing.Status()))
	}
}

func handleGetPairing(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, newPairingResponse(a.Pairing.Status()))
	}
}

func handleResetPairing(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.Pairing.Reset()
		w.WriteHeader(http.StatusNoContent)
	}
}

func handlePairingQR(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := a.Pairing.Status()
		if st.Phase != pairing.Active || st.Code == nil {
			writeError(w, http.StatusNotFound, "no active pairing code")
			return
		}

		size := defaultQRSize
		if s := r.URL.Query().Get("size"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 64 || n > maxQRSize {
				writeError(w, http.StatusBadRequest, "size must be between 64 and 1024")
				return
			}
			size = n
		}

		png, err := st.Code.PNG(size)
		if err != nil {
			a.Logger.Error("rendering pairing code", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(png)
	}
}
