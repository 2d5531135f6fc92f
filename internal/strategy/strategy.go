// Package strategy defines the hook that decides each turn's commands.
package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/skunkworks/algocore/internal/stats"
	"github.com/skunkworks/algocore/pkg/core"
	"github.com/skunkworks/algocore/pkg/engineio"
)

// ErrTooManyCommands is returned when a strategy sends more lines than the
// engine reads for one turn.
var ErrTooManyCommands = errors.New("too many commands for this turn")

// ErrWrite wraps a failure of the outbound transport. The engine can no
// longer be kept in step once it is returned.
var ErrWrite = errors.New("write command")

// Turn is what a strategy sees on a build phase.
type Turn struct {
	Game *core.Game
	Info core.TurnInfo
	// State is the raw engine frame, for strategies that model the board.
	State json.RawMessage
}

// Strategy decides what to build. Implementations run on the loop goroutine
// and may mutate the reserved attribution fields of the stats.
type Strategy interface {
	OnGameStart(g *core.Game, s *stats.GameStats) error
	OnTurn(t Turn, s *stats.GameStats, out *Submitter) error
}

// Default submits empty commands every turn.
type Default struct{}

// OnGameStart implements Strategy.
func (Default) OnGameStart(*core.Game, *stats.GameStats) error { return nil }

// OnTurn implements Strategy.
func (Default) OnTurn(_ Turn, _ *stats.GameStats, out *Submitter) error {
	return out.SubmitDefaultTurn()
}

// Submitter writes a turn's commands, one line per sub-phase.
type Submitter struct {
	w        engineio.Writer
	required int
	sent     int
}

// NewSubmitter expects exactly required lines to reach w.
func NewSubmitter(w engineio.Writer, required int) *Submitter {
	return &Submitter{w: w, required: required}
}

// Send writes one command line.
func (s *Submitter) Send(cmd string) error {
	if s.sent >= s.required {
		return fmt.Errorf("%w: %d already sent", ErrTooManyCommands, s.sent)
	}
	if err := s.w.WriteLine(cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	s.sent++
	return nil
}

// SendPlacements writes one command deploying every placement.
func (s *Submitter) SendPlacements(placements []core.Placement) error {
	if placements == nil {
		placements = []core.Placement{}
	}
	data, err := json.Marshal(placements)
	if err != nil {
		return fmt.Errorf("encode placements: %w", err)
	}
	return s.Send(string(data))
}

// SubmitDefaultTurn fills every remaining sub-phase with an empty command.
func (s *Submitter) SubmitDefaultTurn() error {
	_, err := s.Finish()
	return err
}

// Finish pads the turn with empty commands and returns how many it added.
func (s *Submitter) Finish() (int, error) {
	padded := 0
	for s.sent < s.required {
		if err := s.Send(""); err != nil {
			return padded, err
		}
		padded++
	}
	return padded, nil
}

// Sent returns how many lines have been written.
func (s *Submitter) Sent() int {
	return s.sent
}

// Remaining returns how many lines the engine still expects.
func (s *Submitter) Remaining() int {
	return s.required - s.sent
}

// PanicError is a recovered strategy panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("strategy panicked: %v", e.Value)
}

// PlayTurn runs the strategy and then completes the turn, so the engine gets
// its lines whatever the strategy did. The strategy error, if any, is returned
// after padding.
func PlayTurn(strat Strategy, t Turn, s *stats.GameStats, out *Submitter) (padded int, err error) {
	stratErr := guard(func() error { return strat.OnTurn(t, s, out) })

	padded, finishErr := out.Finish()
	if finishErr != nil {
		return padded, errors.Join(stratErr, fmt.Errorf("complete turn: %w", finishErr))
	}
	return padded, stratErr
}

// StartGame runs the strategy's game-start hook with panic protection.
func StartGame(strat Strategy, g *core.Game, s *stats.GameStats) error {
	return guard(func() error { return strat.OnGameStart(g, s) })
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
