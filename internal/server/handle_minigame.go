package server

import (
	"errors"
	"net/http"

	"github.com/playperu/geoquest/internal/geoquest"
	"github.com/playperu/geoquest/internal/minigame"
)

// StartGameRequest joins the game hosted by Player1 when set, and hosts a
// game against Player2 otherwise.
type StartGameRequest struct {
	Player1 geoquest.PlayerID `json:"player1_id,omitempty"`
	Player2 geoquest.PlayerID `json:"player2_id,omitempty"`
}

type MoveRequest struct {
	Choice string `json:"choice"`
}

func handleStartGame(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartGameRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		self, err := a.Identity.PlayerID()
		if err != nil {
			writeErr(w, err)
			return
		}

		parts := minigame.Participants{Player1: self, Player2: req.Player2, Self: minigame.Issuer}
		if req.Player1 != "" && req.Player1 != self {
			parts = minigame.Participants{Player1: req.Player1, Player2: self, Self: minigame.Joiner}
		}
		s := a.startGame(parts)
		writeJSON(w, http.StatusCreated, s.Snapshot())
	}
}

func handleGetGame(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := a.currentGame()
		if s == nil {
			writeError(w, http.StatusNotFound, "no game")
			return
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

func handleLeaveGame(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.stopGame() {
			writeError(w, http.StatusNotFound, "no game")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleMove(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := a.currentGame()
		if s == nil {
			writeError(w, http.StatusNotFound, "no game")
			return
		}
		var req MoveRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		c, err := minigame.ParseChoice(req.Choice)
		if err == nil {
			err = s.Move(c)
		}
		if err != nil {
			if errors.Is(err, minigame.ErrInvalidChoice) {
				writeError(w, http.StatusBadRequest, "choice must be rock, paper or scissors")
				return
			}
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}
