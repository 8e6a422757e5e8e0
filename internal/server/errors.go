package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/playperu/geoquest/internal/geoquest"
	"github.com/playperu/geoquest/internal/hunt"
	"github.com/playperu/geoquest/internal/interact"
	"github.com/playperu/geoquest/internal/minigame"
	"github.com/playperu/geoquest/internal/pairing"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, geoquest.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, geoquest.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, geoquest.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pairing.ErrCooldown):
		return http.StatusTooManyRequests
	case errors.Is(err, hunt.ErrOutOfRange),
		errors.Is(err, hunt.ErrHuntComplete),
		errors.Is(err, geoquest.ErrNoFix),
		errors.Is(err, minigame.ErrNotInProgress),
		errors.Is(err, minigame.ErrAlreadyMoved),
		errors.Is(err, pairing.ErrReset):
		return http.StatusConflict
	case errors.Is(err, interact.ErrNoActiveHunt):
		return http.StatusNotFound
	case errors.Is(err, minigame.ErrInvalidChoice):
		return http.StatusBadRequest
	case errors.Is(err, geoquest.ErrNetwork), errors.Is(err, geoquest.ErrMalformedPayload):
		return http.StatusBadGateway
	case errors.Is(err, pairing.ErrClosed), errors.Is(err, hunt.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	var rej *geoquest.RejectedError
	if errors.As(err, &rej) && rej.Message != "" {
		msg = rej.Message
	}
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	var cd *pairing.CooldownError
	if errors.As(err, &cd) {
		w.Header().Set("Retry-After", strconv.Itoa(max(int(math.Ceil(cd.Wait.Seconds())), 1)))
	}
	writeError(w, status, msg)
}
