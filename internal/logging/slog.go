package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// Options configures the outputs of a SlogManager.
type Options struct {
	// Level is one of debug, info, warn or error.
	Level string
	// Console receives text output. Defaults to os.Stderr; stdout belongs
	// to the engine protocol and must never be used here.
	Console io.Writer
	// File, when set, receives a second text stream.
	File io.Writer
	// GraylogAddress, when set, adds a GELF UDP output.
	GraylogAddress string
	// Game, when set, tags records with the running game and turn.
	Game GameState
}

// SlogManager manages slog-based logging.
type SlogManager struct {
	logger  *slog.Logger
	gelf    *gelf.Writer
	outputs []string
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the handler chain. A failing graylog writer is reported and
// skipped; the console and file outputs still work.
func (m *SlogManager) Setup(opts Options) error {
	lvl := parseLevel(opts.Level)

	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	outputs := []output{{name: "console", handler: slog.NewTextHandler(console, handlerOpts)}}

	if opts.File != nil {
		outputs = append(outputs, output{name: "file", handler: slog.NewTextHandler(opts.File, handlerOpts)})
	}

	m.closeGelf()
	var gelfErr error
	if opts.GraylogAddress != "" {
		w, err := gelf.NewWriter(opts.GraylogAddress)
		if err != nil {
			gelfErr = fmt.Errorf("graylog writer: %w", err)
		} else {
			m.gelf = w
			outputs = append(outputs, output{name: "graylog", handler: slog.NewJSONHandler(w, handlerOpts)})
		}
	}

	fan := newFanout(outputs...)
	m.outputs = fan.names()

	var h slog.Handler = fan
	if opts.Game != nil {
		h = newGameHandler(h, opts.Game)
	}

	m.logger = slog.New(h)
	m.logger.Debug("Logging initialized", "level", lvl.String(), "outputs", m.outputs)
	if gelfErr != nil {
		m.logger.Warn("Graylog output disabled", "error", gelfErr)
	}
	return gelfErr
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Outputs names the active outputs in write order.
func (m *SlogManager) Outputs() []string {
	return m.outputs
}

// Close releases the graylog connection if one is open.
func (m *SlogManager) Close() error {
	return m.closeGelf()
}

func (m *SlogManager) closeGelf() error {
	if m.gelf == nil {
		return nil
	}
	err := m.gelf.Close()
	m.gelf = nil
	return err
}

// Banner writes the startup line once per process to w.
func Banner(w io.Writer, name, version string, start time.Time) {
	fmt.Fprintf(w, "%s %s starting at %s\n", name, version, start.UTC().Format(time.RFC3339))
}
