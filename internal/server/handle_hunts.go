package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/geoquest/internal/geoquest"
)

// HistoryResponse joins the backend scan history with the local journal.
type HistoryResponse struct {
	Remote geoquest.ScanPage        `json:"remote"`
	Local  []geoquest.JournalEntry `json:"local,omitempty"`
}

func handleListHunts(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		skip, limit := page(r)
		hunts, err := a.Backend.ActiveHunts(r.Context(), skip, limit)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, hunts)
	}
}

func handleOpenHunt(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		huntID := chi.URLParam(r, "huntID")
		t, err := a.openHunt(r.Context(), huntID)
		if err != nil {
			writeErr(w, err)
			return
		}
		st := t.State()
		a.broker.Publish(TopicHunt, st)
		writeJSON(w, http.StatusCreated, st)
	}
}

func handleGetHunt(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := a.Hunts.Get(chi.URLParam(r, "huntID"))
		if !ok {
			writeError(w, http.StatusNotFound, "hunt not open")
			return
		}
		writeJSON(w, http.StatusOK, t.State())
	}
}

func handleCloseHunt(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Hunts.Remove(chi.URLParam(r, "huntID")) {
			writeError(w, http.StatusNotFound, "hunt not open")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleHuntScan(a *agent) http.HandlerFunc {
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

		out, err := a.Scanner.HandleStep(r.Context(), chi.URLParam(r, "huntID"), req.Raw)
		a.broker.Publish(TopicScan, out)
		if err != nil {
			writeJSON(w, statusFor(err), ScanResponse{Outcome: out, Error: out.Message})
			return
		}
		writeJSON(w, http.StatusOK, ScanResponse{Outcome: out})
	}
}

func handleAbandonHunt(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		huntID := chi.URLParam(r, "huntID")

		var err error
		if t, ok := a.Hunts.Get(huntID); ok {
			err = t.Abandon(r.Context())
		} else {
			err = a.Backend.AbandonHunt(r.Context(), huntID)
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleHistory(a *agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		skip, limit := page(r)
		remote, err := a.Backend.ScanHistory(r.Context(), skip, limit)
		if err != nil {
			writeErr(w, err)
			return
		}

		resp := HistoryResponse{Remote: remote}
		if a.Journal != nil {
			local, err := a.Journal.RecentScans(r.Context(), limit)
			if err != nil {
				a.Logger.Error("reading scan journal", "error", err)
			} else {
				resp.Local = local
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
