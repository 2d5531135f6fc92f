// Package streaming defines the spectator stream wire format shared by the
// websocket recorder and any viewer that consumes it.
package streaming

import (
	"encoding/json"

	"github.com/skunkworks/algocore/pkg/core"
)

// Message type constants.
const (
	TypeStartGame = "start_game"
	TypeTurn      = "turn"
	TypeEndGame   = "end_game"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`
}

// StartGamePayload carries the game identity and configuration.
type StartGamePayload struct {
	Game *core.Game `json:"game"`
}

// TurnPayload carries one action phase.
type TurnPayload struct {
	Record *core.TurnRecord `json:"record"`
}

// EndGamePayload carries the final summary.
type EndGamePayload struct {
	Summary *core.GameSummary `json:"summary"`
}
