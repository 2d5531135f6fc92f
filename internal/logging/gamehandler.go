package logging

import (
	"context"
	"log/slog"

	"github.com/skunkworks/algocore/pkg/core"
)

// GameState is the live game that log records are tagged with.
// *game.Context implements it.
type GameState interface {
	GameID() string
	Turn() core.TurnInfo
}

// gameHandler adds game, turn and phase attributes to every record logged
// while a game is running; frame is added during action phases. Records
// logged before the first game pass through untouched.
type gameHandler struct {
	inner slog.Handler
	state GameState
}

func newGameHandler(inner slog.Handler, state GameState) *gameHandler {
	return &gameHandler{inner: inner, state: state}
}

func (h *gameHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *gameHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(gameAttrs(h.state.GameID(), h.state.Turn())...)
	return h.inner.Handle(ctx, r)
}

func (h *gameHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &gameHandler{inner: h.inner.WithAttrs(attrs), state: h.state}
}

func (h *gameHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &gameHandler{inner: h.inner.WithGroup(name), state: h.state}
}

func gameAttrs(id string, t core.TurnInfo) []slog.Attr {
	if id == "" {
		return nil
	}
	attrs := []slog.Attr{slog.String("game", id)}
	if t.Turn < 0 {
		return attrs
	}
	attrs = append(attrs, slog.Int("turn", t.Turn), slog.String("phase", t.Phase.String()))
	if t.Phase == core.PhaseAction && t.Frame >= 0 {
		attrs = append(attrs, slog.Int("frame", t.Frame))
	}
	return attrs
}
