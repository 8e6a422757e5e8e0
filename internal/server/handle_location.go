package server

import (
	"net/http"

	"github.com/playperu/geoquest/internal/geo"
	"github.com/playperu/geoquest/internal/location"
)

type LocationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type PermissionRequest struct {
	Granted bool `json:"granted"`
}

// HeadingRequest carries either a compass heading or a raw magnetometer
// field reading.
type HeadingRequest struct {
	Heading *float64 `json:"heading,omitempty"`
	X       *float64 `json:"x,omitempty"`
	Y       *float64 `json:"y,omitempty"`
}

type SensorResponse struct {
	Permission bool            `json:"permission"`
	Position   *geo.Coordinate `json:"position,omitempty"`
	Heading    *float64        `json:"heading,omitempty"`
}

func sensorState(feed *location.Feed, r *http.Request) SensorResponse {
	resp := SensorResponse{Permission: feed.Permission()}
	if c, err := feed.Current(r.Context()); err == nil {
		resp.Position = &c
	}
	if h, ok := feed.Heading(); ok {
		resp.Heading = &h
	}
	return resp
}

func handleGetLocation(feed *location.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sensorState(feed, r))
	}
}

func handlePutLocation(feed *location.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LocationRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		c := geo.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude}
		if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
			writeError(w, http.StatusBadRequest, "coordinate out of range")
			return
		}
		feed.Update(c)
		writeJSON(w, http.StatusOK, sensorState(feed, r))
	}
}

func handlePutPermission(feed *location.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PermissionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		feed.SetPermission(req.Granted)
		writeJSON(w, http.StatusOK, sensorState(feed, r))
	}
}

func handlePutHeading(feed *location.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req HeadingRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		switch {
		case req.Heading != nil:
			feed.UpdateHeading(*req.Heading)
		case req.X != nil && req.Y != nil:
			feed.UpdateField(*req.X, *req.Y)
		default:
			writeError(w, http.StatusBadRequest, "heading or x and y required")
			return
		}
		writeJSON(w, http.StatusOK, sensorState(feed, r))
	}
}
