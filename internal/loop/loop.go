// Package loop drives one engine session: read a line, classify it, hand it
// to the handler for its kind, repeat until the end phase.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/skunkworks/algocore/internal/dispatcher"
	"github.com/skunkworks/algocore/internal/handlers"
	"github.com/skunkworks/algocore/internal/parser"
	"github.com/skunkworks/algocore/internal/strategy"
	"github.com/skunkworks/algocore/pkg/engineio"
)

// State of the controller.
type State int

const (
	AwaitingInit State = iota
	Ready
	Terminated
)

func (s State) String() string {
	switch s {
	case AwaitingInit:
		return "awaiting-init"
	case Ready:
		return "ready"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrTransportClosed is returned by Run when the engine closes its
	// output before sending the end phase.
	ErrTransportClosed = errors.New("engine closed the input stream")
	// ErrTerminated is returned by Run on a controller that already ended.
	ErrTerminated = errors.New("loop already terminated")
)

// Controller is the turn/game state machine. It is not safe for concurrent
// use; Run owns it until it returns.
type Controller struct {
	in     engineio.Reader
	d      *dispatcher.Dispatcher
	svc    *handlers.Service
	logger *slog.Logger

	state     State
	messages  int
	malformed int
}

// New wires a controller. svc must already be registered on d.
func New(in engineio.Reader, d *dispatcher.Dispatcher, svc *handlers.Service, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		in:     in,
		d:      d,
		svc:    svc,
		logger: logger,
		state:  AwaitingInit,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Malformed counts lines reported as malformed so far.
func (c *Controller) Malformed() int {
	return c.malformed
}

// Messages counts lines read so far.
func (c *Controller) Messages() int {
	return c.messages
}

// Run processes lines until the end phase (nil), cancellation (ctx.Err()),
// the engine closing its stream (ErrTransportClosed) or the outbound stream
// failing.
func (c *Controller) Run(ctx context.Context) error {
	if c.state == Terminated {
		return ErrTerminated
	}

	for {
		line, err := c.in.ReadLine(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, engineio.ErrClosed) {
				return ErrTransportClosed
			}
			if errors.Is(err, engineio.ErrLineTooLong) {
				c.messages++
				c.malformed++
				c.logger.Warn("Malformed message", "error", err, "state", c.state.String())
				continue
			}
			return fmt.Errorf("read message: %w", err)
		}

		done, err := c.Step(ctx, line)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Step handles one inbound line and reports whether the game is over. The
// only errors it returns are outbound write failures.
func (c *Controller) Step(ctx context.Context, line []byte) (bool, error) {
	if c.state == Terminated {
		return true, ErrTerminated
	}
	c.messages++

	switch m := parser.Classify(line).(type) {
	case *parser.MalformedMessage:
		c.malformed++
		level := slog.LevelWarn
		if len(line) == 0 {
			level = slog.LevelDebug
		}
		c.logger.Log(ctx, level, "Malformed message", "error", m.Err, "bytes", len(line), "state", c.state.String())
		return false, nil

	case *parser.InitMessage:
		err := c.d.Dispatch(ctx, m)
		c.state = Ready
		return false, fatal(err)

	case *parser.BuildMessage:
		if c.state == AwaitingInit {
			return false, fatal(c.svc.PadTurn(m))
		}
		return false, fatal(c.d.Dispatch(ctx, m))

	case *parser.ActionMessage:
		if c.state == AwaitingInit {
			c.logger.Warn("Action phase before initialization, ignored", "turn", m.Turn.Turn)
			return false, nil
		}
		return false, fatal(c.d.Dispatch(ctx, m))

	case *parser.EndMessage:
		err := c.d.Dispatch(ctx, m)
		c.state = Terminated
		return true, fatal(err)

	default:
		c.logger.Error("Unhandled message kind", "kind", m.Kind().String())
		return false, nil
	}
}

// fatal keeps only the errors that desynchronize the engine. Handler errors
// are reported by the dispatcher.
func fatal(err error) error {
	if err != nil && errors.Is(err, strategy.ErrWrite) {
		return err
	}
	return nil
}
