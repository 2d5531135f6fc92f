// internal/storage/memory/memory.go
package memory

import (
	"errors"
	"sync"

	"github.com/skunkworks/algocore/internal/config"
	"github.com/skunkworks/algocore/pkg/core"
)

// ErrNoGame is returned when a record arrives outside a game.
var ErrNoGame = errors.New("no game in progress")

// Backend keeps the current game in memory and exports it to JSON when the
// game ends.
type Backend struct {
	cfg   config.MemoryConfig
	game  *core.Game
	turns []core.TurnRecord

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{cfg: cfg}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartGame begins recording a new game, discarding anything unexported.
func (b *Backend) StartGame(g *core.Game) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	gameCopy := *g
	b.game = &gameCopy
	b.turns = nil
	return nil
}

// RecordTurn appends one action phase.
func (b *Backend) RecordTurn(r *core.TurnRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.game == nil {
		return ErrNoGame
	}
	b.turns = append(b.turns, *r)
	return nil
}

// EndGame writes the export file and forgets the game.
func (b *Backend) EndGame(s *core.GameSummary) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.game == nil {
		return ErrNoGame
	}

	err := b.exportJSON(s)
	b.game = nil
	b.turns = nil
	return err
}

// Turns returns a copy of the turns recorded so far in the current game.
func (b *Backend) Turns() []core.TurnRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.TurnRecord, len(b.turns))
	copy(out, b.turns)
	return out
}

// ExportedFilePath returns the file written by the last EndGame.
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
