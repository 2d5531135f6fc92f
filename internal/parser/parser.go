// Package parser turns raw engine lines into typed messages and events.
// Tuples are indexed by position here and nowhere else.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/skunkworks/algocore/pkg/core"
)

// ReplayMarkerKey is present only in the engine's one-time configuration message.
const ReplayMarkerKey = "replaySave"

// TurnInfoKey carries the phase code of every turn message.
const TurnInfoKey = "turnInfo"

// EventsKey holds the event lists of an action-phase frame.
const EventsKey = "events"

var (
	// ErrProtocolDecode means the line is not a JSON object.
	ErrProtocolDecode = errors.New("protocol decode error")
	// ErrMalformedMessage means the line is JSON but not a known message shape.
	ErrMalformedMessage = errors.New("malformed message")
)

// EventDecodeError reports a single raw event that could not be decoded. Index
// is -1 when the error covers the whole category.
type EventDecodeError struct {
	Category core.EventCategory
	Index    int
	Field    string
	Err      error
}

func (e *EventDecodeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("decode %s events: %v", e.Category, e.Err)
	}
	if e.Field == "" {
		return fmt.Sprintf("decode %s event %d: %v", e.Category, e.Index, e.Err)
	}
	return fmt.Sprintf("decode %s event %d field %s: %v", e.Category, e.Index, e.Field, e.Err)
}

func (e *EventDecodeError) Unwrap() error {
	return e.Err
}

// intFromJSON decodes a JSON number (or numeric string) that must be integral.
// The engine serializes some integers as floats ("3.0").
func intFromJSON(raw json.RawMessage) (int, error) {
	if isNull(raw) {
		return 0, fmt.Errorf("null is not a number")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, fmt.Errorf("%s is not a number", truncate(raw))
		}
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", s)
		}
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int(f), nil
}

// floatFromJSON decodes any JSON number.
func floatFromJSON(raw json.RawMessage) (float64, error) {
	if isNull(raw) {
		return 0, fmt.Errorf("null is not a number")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("%s is not a number", truncate(raw))
	}
	return f, nil
}

// idFromJSON accepts the unit id as a string or as an integral number.
func idFromJSON(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", fmt.Errorf("null id")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	n, err := intFromJSON(raw)
	if err != nil {
		return "", fmt.Errorf("%s is neither a string nor an integer id", truncate(raw))
	}
	return strconv.Itoa(n), nil
}

// boolFromJSON accepts true/false or 0/1.
func boolFromJSON(raw json.RawMessage) (bool, error) {
	if isNull(raw) {
		return false, fmt.Errorf("null is not a boolean")
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	n, err := intFromJSON(raw)
	if err != nil || (n != 0 && n != 1) {
		return false, fmt.Errorf("%s is not a boolean", truncate(raw))
	}
	return n == 1, nil
}

// positionFromJSON decodes an [x, y] pair.
func positionFromJSON(raw json.RawMessage) (core.Position, error) {
	var xy []json.RawMessage
	if err := json.Unmarshal(raw, &xy); err != nil {
		return core.Position{}, fmt.Errorf("%s is not a coordinate pair", truncate(raw))
	}
	if len(xy) != 2 {
		return core.Position{}, fmt.Errorf("coordinate pair has %d elements", len(xy))
	}
	x, err := intFromJSON(xy[0])
	if err != nil {
		return core.Position{}, fmt.Errorf("x: %w", err)
	}
	y, err := intFromJSON(xy[1])
	if err != nil {
		return core.Position{}, fmt.Errorf("y: %w", err)
	}
	return core.Position{X: x, Y: y}, nil
}

func isNull(raw []byte) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func truncate(raw []byte) string {
	const limit = 64
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}
