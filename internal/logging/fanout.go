package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// output is one named destination of the log stream: console, file or graylog.
type output struct {
	name    string
	handler slog.Handler
}

// fanoutHandler writes each record to every output enabled for its level.
// A failing output never keeps a record from the others; the failures are
// joined and returned.
type fanoutHandler struct {
	outputs []output
}

func newFanout(outputs ...output) *fanoutHandler {
	valid := make([]output, 0, len(outputs))
	for _, o := range outputs {
		if o.handler != nil {
			valid = append(valid, o)
		}
	}
	return &fanoutHandler{outputs: valid}
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, o := range f.outputs {
		if o.handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, o := range f.outputs {
		if !o.handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := o.handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, fmt.Errorf("%s output: %w", o.name, err))
		}
	}
	return errors.Join(errs...)
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *fanoutHandler) derive(fn func(slog.Handler) slog.Handler) *fanoutHandler {
	outputs := make([]output, len(f.outputs))
	for i, o := range f.outputs {
		outputs[i] = output{name: o.name, handler: fn(o.handler)}
	}
	return &fanoutHandler{outputs: outputs}
}

// names lists the outputs in write order.
func (f *fanoutHandler) names() []string {
	names := make([]string, len(f.outputs))
	for i, o := range f.outputs {
		names[i] = o.name
	}
	return names
}
