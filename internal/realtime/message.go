package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/playperu/geoquest/internal/geoquest"
)

// Event names carried in the envelope's "event" field.
const (
	EventStartGame         = "start_game"
	EventMove              = "move"
	EventResult            = "result"
	EventRejected          = "rejected"
	EventPlayerInteraction = "player_interaction"
)

// ErrMalformedEnvelope is returned by Parse for frames that are not JSON
// objects with a non-empty string "event" field.
var ErrMalformedEnvelope = fmt.Errorf("realtime envelope: %w", geoquest.ErrMalformedPayload)

// Message is one frame on the channel. The concrete type is selected by the
// envelope's event name; unrecognized events decode to Unknown.
type Message interface {
	Event() string
}

// StartGame opens a mini-game between two players.
type StartGame struct {
	GameType string
	Players  []geoquest.PlayerID
}

// Move is a single player choice.
type Move struct {
	PlayerID geoquest.PlayerID
	Choice   string
}

// Result ends a mini-game. An empty Winner is a draw.
type Result struct {
	Winner geoquest.PlayerID
}

// Rejected aborts a session join, e.g. when the target game is full.
type Rejected struct {
	Reason string
}

// PlayerInteraction notifies the issuer that a peer used their code.
type PlayerInteraction struct {
	Message string
	PeerID  geoquest.PlayerID
}

// Unknown preserves frames with events this client does not understand.
type Unknown struct {
	Name string
	Raw  json.RawMessage
}

func (StartGame) Event() string         { return EventStartGame }
func (Move) Event() string              { return EventMove }
func (Result) Event() string            { return EventResult }
func (Rejected) Event() string          { return EventRejected }
func (PlayerInteraction) Event() string { return EventPlayerInteraction }
func (u Unknown) Event() string         { return u.Name }

type envelope struct {
	Event any `json:"event"`
}

type startGameWire struct {
	Event    string              `json:"event"`
	GameType string              `json:"game_type"`
	Players  []geoquest.PlayerID `json:"players"`
}

type moveData struct {
	Choice string `json:"choice"`
}

type moveWire struct {
	Event    string            `json:"event"`
	PlayerID geoquest.PlayerID `json:"player_id"`
	Data     moveData          `json:"data"`
}

type resultWire struct {
	Event  string            `json:"event"`
	Winner geoquest.PlayerID `json:"winner"`
}

type rejectedWire struct {
	Event   string `json:"event"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

type interactionWire struct {
	Event   string            `json:"event"`
	Message string            `json:"message,omitempty"`
	PeerID  geoquest.PlayerID `json:"peer_id,omitempty"`
}

// Parse decodes and tags a single inbound frame.
func Parse(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Join(ErrMalformedEnvelope, err)
	}
	name, ok := env.Event.(string)
	if !ok || name == "" {
		return nil, ErrMalformedEnvelope
	}

	switch name {
	case EventStartGame:
		var w startGameWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, errors.Join(ErrMalformedEnvelope, err))
		}
		return StartGame{GameType: w.GameType, Players: w.Players}, nil

	case EventMove:
		var w moveWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, errors.Join(ErrMalformedEnvelope, err))
		}
		return Move{PlayerID: w.PlayerID, Choice: w.Data.Choice}, nil

	case EventResult:
		var w resultWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, errors.Join(ErrMalformedEnvelope, err))
		}
		return Result{Winner: w.Winner}, nil

	case EventRejected:
		var w rejectedWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, errors.Join(ErrMalformedEnvelope, err))
		}
		reason := w.Reason
		if reason == "" {
			reason = w.Message
		}
		return Rejected{Reason: reason}, nil

	case EventPlayerInteraction:
		var w interactionWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, errors.Join(ErrMalformedEnvelope, err))
		}
		return PlayerInteraction{Message: w.Message, PeerID: w.PeerID}, nil
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Unknown{Name: name, Raw: raw}, nil
}

// Encode renders msg as an outbound frame.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case StartGame:
		return json.Marshal(startGameWire{Event: EventStartGame, GameType: m.GameType, Players: m.Players})
	case Move:
		return json.Marshal(moveWire{Event: EventMove, PlayerID: m.PlayerID, Data: moveData{Choice: m.Choice}})
	case Result:
		return json.Marshal(resultWire{Event: EventResult, Winner: m.Winner})
	case Rejected:
		return json.Marshal(rejectedWire{Event: EventRejected, Reason: m.Reason})
	case PlayerInteraction:
		return json.Marshal(interactionWire{Event: EventPlayerInteraction, Message: m.Message, PeerID: m.PeerID})
	case Unknown:
		if len(m.Raw) == 0 {
			return json.Marshal(envelope{Event: m.Name})
		}
		return m.Raw, nil
	case nil:
		return nil, errors.New("encoding nil message")
	}
	return nil, fmt.Errorf("encoding %T: unsupported message", msg)
}
