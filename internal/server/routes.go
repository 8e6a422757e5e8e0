package server

import (
	"github.com/go-chi/chi/v5"
)

func addRoutes(r chi.Router, a *agent) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", handleSwaggerUI())
	if a.Health != nil {
		r.Mount("/healthz", a.Health)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/location", handleGetLocation(a.Feed))
		r.Put("/location", handlePutLocation(a.Feed))
		r.Put("/location/permission", handlePutPermission(a.Feed))
		r.Put("/heading", handlePutHeading(a.Feed))

		r.Post("/scan", handleScan(a))
		r.Get("/history", handleHistory(a))

		r.Post("/pairing", handleIssuePairing(a))
		r.Get("/pairing", handleGetPairing(a))
		r.Delete("/pairing", handleResetPairing(a))
		r.Get("/pairing/qr.png", handlePairingQR(a))

		r.Get("/hunts", handleListHunts(a))
		r.Route("/hunts/{huntID}", func(r chi.Router) {
			r.Post("/", handleOpenHunt(a))
			r.Get("/", handleGetHunt(a))
			r.Delete("/", handleCloseHunt(a))
			r.Post("/scan", handleHuntScan(a))
			r.Post("/abandon", handleAbandonHunt(a))
		})

		r.Post("/minigame", handleStartGame(a))
		r.Get("/minigame", handleGetGame(a))
		r.Delete("/minigame", handleLeaveGame(a))
		r.Post("/minigame/move", handleMove(a))

		r.Get("/events", handleEvents(a.broker))
	})
}
