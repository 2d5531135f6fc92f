package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/skunkworks/algocore/pkg/core"
	"github.com/skunkworks/algocore/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend streams games to a spectator server.
type Backend struct {
	conn *connection
	cfg  Config
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn: newConnection(logger.With("component", "websocket")),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// StartGame announces the game and waits for the server ack.
func (b *Backend) StartGame(g *core.Game) error {
	data, err := marshalEnvelope(streaming.TypeStartGame, streaming.StartGamePayload{Game: g})
	if err != nil {
		return err
	}
	b.conn.setStartMsg(data)
	return b.conn.sendAndWait(data, streaming.TypeStartGame, ackTimeout)
}

// RecordTurn streams one action phase without waiting.
func (b *Backend) RecordTurn(r *core.TurnRecord) error {
	data, err := marshalEnvelope(streaming.TypeTurn, streaming.TurnPayload{Record: r})
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// EndGame sends the summary and waits for the server ack.
func (b *Backend) EndGame(s *core.GameSummary) error {
	data, err := marshalEnvelope(streaming.TypeEndGame, streaming.EndGamePayload{Summary: s})
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeEndGame, ackTimeout)
	b.conn.setStartMsg(nil)
	return err
}
