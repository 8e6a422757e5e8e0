package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"
	"github.com/swaggest/swgui/v5emb"

	"github.com/playperu/geoquest/internal/geoquest"
	"github.com/playperu/geoquest/internal/handler/health"
	"github.com/playperu/geoquest/internal/hunt"
	"github.com/playperu/geoquest/internal/minigame"
)

type operation struct {
	method, path string
	summary      string
	description  string
	req          any
	resp         any
	status       int
	errors       []int
	contentType  string
}

var operations = []operation{
	{method: http.MethodGet, path: "/healthz", summary: "Health check",
		description: "Returns the status of the local store and the game backend.",
		resp:        health.Response{}, status: http.StatusOK, errors: []int{http.StatusServiceUnavailable}},

	{method: http.MethodGet, path: "/api/location", summary: "Sensor state",
		description: "Returns the location permission, latest fix and heading.",
		resp:        SensorResponse{}, status: http.StatusOK},
	{method: http.MethodPut, path: "/api/location", summary: "Report position",
		description: "Feeds a GPS fix from the device.",
		req:         LocationRequest{}, resp: SensorResponse{}, status: http.StatusOK, errors: []int{http.StatusBadRequest}},
	{method: http.MethodPut, path: "/api/location/permission", summary: "Report permission",
		description: "Grants or revokes location permission.",
		req:         PermissionRequest{}, resp: SensorResponse{}, status: http.StatusOK, errors: []int{http.StatusBadRequest}},
	{method: http.MethodPut, path: "/api/heading", summary: "Report heading",
		description: "Feeds a compass heading in degrees or a raw magnetometer reading.",
		req:         HeadingRequest{}, resp: SensorResponse{}, status: http.StatusOK, errors: []int{http.StatusBadRequest}},

	{method: http.MethodPost, path: "/api/scan", summary: "Handle scan",
		description: "Classifies scanned text and routes it to login, pairing, hunt or reward handling.",
		req:         ScanRequest{}, resp: ScanResponse{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity, http.StatusBadGateway}},
	{method: http.MethodGet, path: "/api/history", summary: "Scan history",
		description: "Returns the backend scan history and the local scan journal.",
		resp:        HistoryResponse{}, status: http.StatusOK, errors: []int{http.StatusBadGateway}},

	{method: http.MethodPost, path: "/api/pairing", summary: "Issue pairing code",
		description: "Requests a pairing code bound to the current position.",
		resp:        PairingResponse{}, status: http.StatusCreated,
		errors: []int{http.StatusForbidden, http.StatusTooManyRequests, http.StatusBadGateway}},
	{method: http.MethodGet, path: "/api/pairing", summary: "Pairing status",
		resp: PairingResponse{}, status: http.StatusOK},
	{method: http.MethodDelete, path: "/api/pairing", summary: "Reset pairing",
		status: http.StatusNoContent},
	{method: http.MethodGet, path: "/api/pairing/qr.png", summary: "Pairing code image",
		description: "Renders the active pairing code as a PNG QR code.",
		status:      http.StatusOK, contentType: "image/png", errors: []int{http.StatusNotFound}},

	{method: http.MethodGet, path: "/api/hunts", summary: "Active hunts",
		resp: geoquest.HuntPage{}, status: http.StatusOK, errors: []int{http.StatusBadGateway}},
	{method: http.MethodPost, path: "/api/hunts/{huntID}", summary: "Open hunt",
		description: "Loads a hunt and starts tracking distance and bearing to its current step.",
		resp:        hunt.State{}, status: http.StatusCreated, errors: []int{http.StatusUnprocessableEntity, http.StatusBadGateway}},
	{method: http.MethodGet, path: "/api/hunts/{huntID}", summary: "Hunt state",
		resp: hunt.State{}, status: http.StatusOK, errors: []int{http.StatusNotFound}},
	{method: http.MethodDelete, path: "/api/hunts/{huntID}", summary: "Close hunt",
		description: "Stops tracking a hunt without abandoning it.",
		status:      http.StatusNoContent, errors: []int{http.StatusNotFound}},
	{method: http.MethodPost, path: "/api/hunts/{huntID}/scan", summary: "Submit hunt step",
		description: "Submits a scan for the current step. Rejected unless within range of the target.",
		req:         ScanRequest{}, resp: ScanResponse{}, status: http.StatusOK,
		errors: []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity}},
	{method: http.MethodPost, path: "/api/hunts/{huntID}/abandon", summary: "Abandon hunt",
		status: http.StatusNoContent, errors: []int{http.StatusUnprocessableEntity, http.StatusBadGateway}},

	{method: http.MethodPost, path: "/api/minigame", summary: "Start game",
		description: "Hosts a game, or joins the game hosted by player1_id.",
		req:         StartGameRequest{}, resp: minigame.Snapshot{}, status: http.StatusCreated, errors: []int{http.StatusUnauthorized}},
	{method: http.MethodGet, path: "/api/minigame", summary: "Game state",
		resp: minigame.Snapshot{}, status: http.StatusOK, errors: []int{http.StatusNotFound}},
	{method: http.MethodDelete, path: "/api/minigame", summary: "Leave game",
		status: http.StatusNoContent, errors: []int{http.StatusNotFound}},
	{method: http.MethodPost, path: "/api/minigame/move", summary: "Submit move",
		req: MoveRequest{}, resp: minigame.Snapshot{}, status: http.StatusOK,
		errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict}},

	{method: http.MethodGet, path: "/api/events", summary: "SSE event stream",
		description: "Server-Sent Events for pairing, hunt, minigame, interaction and scan updates. Filter with ?topics=a,b.",
		status:      http.StatusOK, contentType: "text/event-stream"},
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "GeoQuest Agent API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Local API of the GeoQuest interaction engine.")

	for _, op := range operations {
		oc, err := r.NewOperationContext(op.method, op.path)
		if err != nil {
			continue
		}
		oc.SetSummary(op.summary)
		if op.description != "" {
			oc.SetDescription(op.description)
		}
		if op.req != nil {
			oc.AddReqStructure(op.req)
		}
		if op.contentType != "" {
			oc.AddRespStructure(nil, openapi.WithHTTPStatus(op.status), openapi.WithContentType(op.contentType))
		} else {
			oc.AddRespStructure(op.resp, openapi.WithHTTPStatus(op.status))
		}
		for _, status := range op.errors {
			oc.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(status))
		}
		_ = r.AddOperation(oc)
	}

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func handleSwaggerUI() http.HandlerFunc {
	return v5emb.New("GeoQuest Agent API", "/openapi.json", "/docs").ServeHTTP
}
