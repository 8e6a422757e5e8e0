package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/playperu/geoquest/internal/geoquest"
	"github.com/playperu/geoquest/internal/interact"
	"github.com/playperu/geoquest/internal/minigame"
	"github.com/playperu/geoquest/internal/qr"
)

type ScanRequest struct {
	Raw string `json:"raw"`
}

// ScanResponse is the outcome shown to the player. Error is set when the
// scan failed.
type ScanResponse struct {
	Outcome interact.Outcome `json:"outcome"`
	Error   string           `json:"error,omitempty"`
}

func handleScan(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScanRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Raw) == "" {
			writeError(w, http.StatusBadRequest, "raw is required")
			return
		}

		out, err := a.Scanner.Handle(r.Context(), req.Raw)
		a.broker.Publish(TopicScan, out)
		if err != nil {
			a.Logger.Info("scan failed", "kind", out.Kind, "error", err)
			writeJSON(w, statusFor(err), ScanResponse{Outcome: out, Error: out.Message})
			return
		}

		if out.Kind == qr.KindPeer && out.Peer != nil {
			parts, err := a.joinerParticipants(*out.Peer)
			if err != nil {
				a.Logger.Warn("cannot join peer game", "error", err)
				writeJSON(w, statusFor(err), ScanResponse{Outcome: out, Error: err.Error()})
				return
			}
			a.startGame(parts)
		}
		writeJSON(w, http.StatusOK, ScanResponse{Outcome: out})
	}
}

// joinerParticipants names the players of the game joined through v. The
// local player fills in for a missing player 2; a missing host is refused.
func (a *agent) joinerParticipants(v geoquest.PeerValidation) (minigame.Participants, error) {
	if v.Player1 == "" {
		return minigame.Participants{}, fmt.Errorf("peer validation names no host: %w", geoquest.ErrMalformedPayload)
	}
	parts := minigame.Participants{Player1: v.Player1, Player2: v.Player2, Self: minigame.Joiner}
	if parts.Player2 == "" {
		self, err := a.Identity.PlayerID()
		if err != nil {
			return minigame.Participants{}, err
		}
		parts.Player2 = self
	}
	return parts, nil
}
