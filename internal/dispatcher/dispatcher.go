package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/skunkworks/algocore/internal/parser"
)

// ErrNoHandler is returned by Dispatch for a kind nothing is registered for.
var ErrNoHandler = errors.New("no handler registered")

// HandlerFunc processes one classified message.
type HandlerFunc func(ctx context.Context, msg parser.Message) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	logged bool
	timed  bool
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Timed records handler latency in the dispatcher.message.duration histogram.
func Timed() Option {
	return func(c *config) {
		c.timed = true
	}
}

// Dispatcher routes classified messages to the handler for their kind.
// It is called from the loop goroutine only and does no locking.
type Dispatcher struct {
	handlers map[parser.Kind]HandlerFunc
	logger   Logger

	processed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[parser.Kind]HandlerFunc),
		logger:   logger,
	}

	m := meter()

	var err error

	d.processed, err = m.Int64Counter(
		"dispatcher.messages.processed",
		metric.WithDescription("Total messages handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.messages.failed",
		metric.WithDescription("Total messages whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	d.duration, err = m.Float64Histogram(
		"dispatcher.message.duration",
		metric.WithDescription("Handler latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given kind, replacing any previous one.
func (d *Dispatcher) Register(kind parser.Kind, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.timed {
		handler = d.withTiming(kind, handler)
	}

	if cfg.logged {
		handler = d.withLogging(kind, handler)
	}

	d.handlers[kind] = d.withCounters(kind, handler)
}

// Dispatch routes a message to its registered handler.
func (d *Dispatcher) Dispatch(ctx context.Context, msg parser.Message) error {
	h, ok := d.handlers[msg.Kind()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, msg.Kind())
	}
	return h(ctx, msg)
}

// HasHandler returns true if a handler is registered for the kind.
func (d *Dispatcher) HasHandler(kind parser.Kind) bool {
	_, ok := d.handlers[kind]
	return ok
}

func (d *Dispatcher) withCounters(kind parser.Kind, h HandlerFunc) HandlerFunc {
	kindAttr := metric.WithAttributes(attribute.String("kind", kind.String()))

	return func(ctx context.Context, msg parser.Message) error {
		err := h(ctx, msg)
		d.processed.Add(ctx, 1, kindAttr)
		if err != nil {
			d.failed.Add(ctx, 1, kindAttr)
		}
		return err
	}
}

func (d *Dispatcher) withTiming(kind parser.Kind, h HandlerFunc) HandlerFunc {
	kindAttr := metric.WithAttributes(attribute.String("kind", kind.String()))

	return func(ctx context.Context, msg parser.Message) error {
		start := time.Now()
		err := h(ctx, msg)
		d.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, kindAttr)
		return err
	}
}

func (d *Dispatcher) withLogging(kind parser.Kind, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msg parser.Message) error {
		start := time.Now()
		d.logger.Debug("handling message", "kind", kind.String())

		err := h(ctx, msg)

		if err != nil {
			d.logger.Error("message failed", "kind", kind.String(), "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("message complete", "kind", kind.String(), "duration", time.Since(start))
		}

		return err
	}
}
