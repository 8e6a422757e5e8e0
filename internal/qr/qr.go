// Package qr classifies scanned QR text into the interaction it triggers.
//
// Classification is total: any input, including empty strings and binary
// garbage, maps to exactly one Kind. Malformed input degrades to KindGeneric.
package qr

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/playperu/geoquest/internal/geo"
)

// Kind is the classified purpose of a scanned payload.
type Kind string

const (
	KindLogin     Kind = "login"
	KindPeer      Kind = "peer"
	KindItemDrop  Kind = "item_drop"
	KindEncounter Kind = "encounter"
	KindHuntStep  Kind = "hunt_step"
	KindSecure    Kind = "secure" // reserved
	KindGeneric   Kind = "generic"
)

// Kinds lists every Kind in a stable order.
var Kinds = []Kind{KindLogin, KindPeer, KindItemDrop, KindEncounter, KindHuntStep, KindSecure, KindGeneric}

// Literal prefixes recognized on plain (non-JSON) payloads.
const (
	PrefixLogin = "lgin-"
	PrefixPeer  = "peer://"
	PrefixHunt  = "hunt://"
)

// Payload is a classified scan. Only the fields relevant to Kind are set.
type Payload struct {
	Raw  string `json:"raw"`
	Kind Kind   `json:"kind"`

	SessionID  string          `json:"session_id,omitempty"`
	PeerToken  string          `json:"peer_token,omitempty"`
	PeerOrigin *geo.Coordinate `json:"peer_origin,omitempty"`
	HuntID     string          `json:"hunt_id,omitempty"`
	ItemCode   string          `json:"item_code,omitempty"`
}

// recognizer inspects raw and returns ok=false when the payload is not its
// concern, letting the next pass try.
type recognizer func(raw string) (Payload, bool)

var passes = []recognizer{structured, prefixed}

// Classify maps raw scanned text to its Payload.
func Classify(raw string) Payload {
	for _, pass := range passes {
		if p, ok := pass(raw); ok {
			p.Raw = raw
			return p
		}
	}
	return Generic(raw)
}

// Generic returns the fallback classification for raw.
func Generic(raw string) Payload {
	return Payload{Raw: raw, Kind: KindGeneric}
}

type structuredFields struct {
	Type      any `json:"type"`
	SessionID any `json:"session_id"`
	Token     any `json:"token"`
	HuntID    any `json:"hunt_id"`
	Code      any `json:"code"`
}

// extractors pull the kind-specific fields out of a structured payload. A
// false return degrades the scan to generic.
var extractors = map[Kind]func(f structuredFields, p *Payload) bool{
	KindLogin: func(f structuredFields, p *Payload) bool {
		p.SessionID = nonEmpty(f.SessionID)
		return p.SessionID != ""
	},
	KindPeer: func(f structuredFields, p *Payload) bool {
		p.PeerToken = nonEmpty(f.Token)
		return p.PeerToken != ""
	},
	KindItemDrop: func(f structuredFields, p *Payload) bool {
		p.ItemCode = nonEmpty(f.Code)
		return true
	},
	KindEncounter: func(f structuredFields, p *Payload) bool {
		p.ItemCode = nonEmpty(f.Code)
		return true
	},
	KindHuntStep: func(f structuredFields, p *Payload) bool {
		p.HuntID = nonEmpty(f.HuntID)
		return p.HuntID != ""
	},
	KindSecure: func(structuredFields, *Payload) bool { return true },
}

func structured(raw string) (Payload, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return Payload{}, false
	}

	var fields structuredFields
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return Payload{}, false
	}
	if fields.Type == nil {
		return Payload{}, false
	}

	typ, ok := fields.Type.(string)
	if !ok {
		return Generic(raw), true
	}
	extract, ok := extractors[Kind(typ)]
	if !ok {
		return Generic(raw), true
	}

	p := Payload{Kind: Kind(typ)}
	if !extract(fields, &p) {
		return Generic(raw), true
	}
	return p, true
}

func prefixed(raw string) (Payload, bool) {
	s := strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(s, PrefixLogin):
		id := strings.TrimPrefix(s, PrefixLogin)
		if id == "" {
			return Payload{}, false
		}
		return Payload{Kind: KindLogin, SessionID: id}, true

	case strings.HasPrefix(s, PrefixPeer):
		rest := strings.TrimPrefix(s, PrefixPeer)
		if rest == "" {
			return Payload{}, false
		}
		p := Payload{Kind: KindPeer, PeerToken: rest}
		if c, ok := parseLatLng(rest); ok {
			p.PeerOrigin = &c
		}
		return p, true

	case strings.HasPrefix(s, PrefixHunt):
		rest := strings.TrimPrefix(s, PrefixHunt)
		id, _, _ := strings.Cut(rest, "/")
		if id == "" {
			return Payload{}, false
		}
		return Payload{Kind: KindHuntStep, HuntID: id}, true
	}

	return Payload{}, false
}

// parseLatLng accepts the legacy "lat,lng" peer form.
func parseLatLng(s string) (geo.Coordinate, bool) {
	latStr, lngStr, found := strings.Cut(s, ",")
	if !found {
		return geo.Coordinate{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil || lat < -90 || lat > 90 {
		return geo.Coordinate{}, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil || lng < -180 || lng > 180 {
		return geo.Coordinate{}, false
	}
	return geo.Coordinate{Latitude: lat, Longitude: lng}, true
}

func nonEmpty(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
