// internal/storage/storage.go
package storage

import "github.com/skunkworks/algocore/pkg/core"

// Backend records a game as it is played. Recording is write-only: nothing
// recorded is read back by the loop.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Game management
	StartGame(g *core.Game) error
	EndGame(s *core.GameSummary) error

	// Per action phase
	RecordTurn(r *core.TurnRecord) error
}

// Exporter is an optional interface for backends that write a file at the
// end of a game.
type Exporter interface {
	ExportedFilePath() string
}

// Nop discards everything. It is used when storage.type is "none".
type Nop struct{}

func (Nop) Init() error                       { return nil }
func (Nop) Close() error                      { return nil }
func (Nop) StartGame(*core.Game) error        { return nil }
func (Nop) EndGame(*core.GameSummary) error   { return nil }
func (Nop) RecordTurn(*core.TurnRecord) error { return nil }
