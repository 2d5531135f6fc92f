package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/skunkworks/algocore/pkg/core"
)

// Context holds the current game and turn. Log handlers read it from other
// goroutines, so access is guarded.
type Context struct {
	mu     sync.RWMutex
	game   *core.Game
	turn   core.TurnInfo
	turns  int
	now    func() time.Time
	serial int
}

// NewContext creates a Context with no game loaded.
func NewContext() *Context {
	return &Context{
		turn: core.TurnInfo{Turn: -1, Frame: -1},
		now:  time.Now,
	}
}

// Start begins a new game with cfg and returns it.
func (c *Context) Start(cfg core.GameConfig) *core.Game {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serial++
	start := c.now()
	c.game = &core.Game{
		ID:        fmt.Sprintf("%s-%d", start.UTC().Format("20060102_150405"), c.serial),
		StartTime: start,
		Config:    cfg,
	}
	c.turn = core.TurnInfo{Turn: -1, Frame: -1}
	c.turns = 0
	return c.game
}

// Game returns the current game, or nil before the first Start.
func (c *Context) Game() *core.Game {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.game
}

// GameID returns the current game id, or "" before the first Start.
func (c *Context) GameID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.game == nil {
		return ""
	}
	return c.game.ID
}

// SetTurn records the turn being processed. Build phases advance the turn count.
func (c *Context) SetTurn(t core.TurnInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Phase == core.PhaseBuild {
		c.turns++
	}
	c.turn = t
}

// Turn returns the turn being processed.
func (c *Context) Turn() core.TurnInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.turn
}

// TurnsPlayed counts build phases seen in the current game.
func (c *Context) TurnsPlayed() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.turns
}
