package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/skunkworks/algocore/pkg/core"
)

// ErrSequenceConsumed is yielded when an event sequence is iterated a second time.
var ErrSequenceConsumed = errors.New("event sequence already consumed")

// RawEvents holds the undecoded event tuples of one action frame. A category
// whose list could not be read is left empty and its error kept in Errs.
type RawEvents struct {
	Death  []json.RawMessage
	Spawn  []json.RawMessage
	Breach []json.RawMessage
	Attack []json.RawMessage

	Errs map[core.EventCategory]error
}

func (r *RawEvents) setErr(category core.EventCategory, err error) {
	if r.Errs == nil {
		r.Errs = make(map[core.EventCategory]error)
	}
	r.Errs[category] = err
}

// ActionMessage is the result of an action phase. Each event category can be
// walked once; a second walk yields ErrSequenceConsumed and nothing else, so a
// frame cannot be counted twice.
type ActionMessage struct {
	Turn   core.TurnInfo
	Events RawEvents
	Raw    json.RawMessage

	consumed map[core.EventCategory]bool
}

const (
	deathArity  = 5
	spawnArity  = 4
	breachArity = 1
	attackArity = 1
)

// Deaths yields the decoded death events in engine order.
func (m *ActionMessage) Deaths() iter.Seq2[core.DeathEvent, error] {
	return walk(m, core.CategoryDeath, m.Events.Death, deathArity, decodeDeath)
}

// Spawns yields the decoded spawn events in engine order.
func (m *ActionMessage) Spawns() iter.Seq2[core.SpawnEvent, error] {
	return walk(m, core.CategorySpawn, m.Events.Spawn, spawnArity, decodeSpawn)
}

// Breaches yields the decoded breach events in engine order.
func (m *ActionMessage) Breaches() iter.Seq2[core.BreachEvent, error] {
	return walk(m, core.CategoryBreach, m.Events.Breach, breachArity, decodeBreach)
}

// Attacks yields attack events. They are decoded for observation only.
func (m *ActionMessage) Attacks() iter.Seq2[core.AttackEvent, error] {
	return walk(m, core.CategoryAttack, m.Events.Attack, attackArity, decodeAttack)
}

// fieldError marks which tuple slot failed to decode.
type fieldError struct {
	field string
	err   error
}

func (e fieldError) Error() string { return e.err.Error() }

func walk[T any](
	m *ActionMessage,
	category core.EventCategory,
	raws []json.RawMessage,
	arity int,
	decode func([]json.RawMessage) (T, error),
) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if m.consumed == nil {
			m.consumed = make(map[core.EventCategory]bool)
		}
		if m.consumed[category] {
			yield(zero, &EventDecodeError{Category: category, Index: -1, Err: ErrSequenceConsumed})
			return
		}
		m.consumed[category] = true

		if err := m.Events.Errs[category]; err != nil {
			if !yield(zero, &EventDecodeError{Category: category, Index: -1, Err: err}) {
				return
			}
		}

		for i, raw := range raws {
			ev, err := decodeTuple(raw, arity, decode)
			if err != nil {
				de := &EventDecodeError{Category: category, Index: i, Err: err}
				var fe fieldError
				if errors.As(err, &fe) {
					de.Field = fe.field
					de.Err = fe.err
				}
				if !yield(zero, de) {
					return
				}
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func decodeTuple[T any](raw json.RawMessage, arity int, decode func([]json.RawMessage) (T, error)) (T, error) {
	var zero T
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return zero, fmt.Errorf("%s is not a tuple", truncate(raw))
	}
	if len(fields) < arity {
		return zero, fmt.Errorf("tuple has %d fields, need %d", len(fields), arity)
	}
	return decode(fields)
}

// [0] position, [1] unit type, [2] id, [3] owner, [4] removed
func decodeDeath(f []json.RawMessage) (core.DeathEvent, error) {
	var e core.DeathEvent
	var err error
	if e.Position, err = positionFromJSON(f[0]); err != nil {
		return e, fieldError{"position", err}
	}
	t, err := intFromJSON(f[1])
	if err != nil {
		return e, fieldError{"unitType", err}
	}
	e.UnitType = core.UnitType(t)
	if e.UnitID, err = idFromJSON(f[2]); err != nil {
		return e, fieldError{"unitId", err}
	}
	o, err := intFromJSON(f[3])
	if err != nil {
		return e, fieldError{"owner", err}
	}
	e.Owner = core.Owner(o)
	if e.WasRemoved, err = boolFromJSON(f[4]); err != nil {
		return e, fieldError{"removed", err}
	}
	return e, nil
}

// [0] position, [1] unit type, [2] id, [3] owner
func decodeSpawn(f []json.RawMessage) (core.SpawnEvent, error) {
	var e core.SpawnEvent
	var err error
	if e.Position, err = positionFromJSON(f[0]); err != nil {
		return e, fieldError{"position", err}
	}
	t, err := intFromJSON(f[1])
	if err != nil {
		return e, fieldError{"unitType", err}
	}
	e.UnitType = core.UnitType(t)
	if e.UnitID, err = idFromJSON(f[2]); err != nil {
		return e, fieldError{"unitId", err}
	}
	o, err := intFromJSON(f[3])
	if err != nil {
		return e, fieldError{"owner", err}
	}
	e.Owner = core.Owner(o)
	return e, nil
}

// [0] position, then [1] damage, [2] unit type, [3] id, [4] owner when the
// engine sends the full tuple. Trailing fields are best effort.
func decodeBreach(f []json.RawMessage) (core.BreachEvent, error) {
	var e core.BreachEvent
	var err error
	if e.Position, err = positionFromJSON(f[0]); err != nil {
		return e, fieldError{"position", err}
	}
	if len(f) < 5 {
		return e, nil
	}
	if d, err := floatFromJSON(f[1]); err == nil {
		e.Damage = d
	}
	if t, err := intFromJSON(f[2]); err == nil {
		e.UnitType = core.UnitType(t)
	}
	if id, err := idFromJSON(f[3]); err == nil {
		e.UnitID = id
	}
	if o, err := intFromJSON(f[4]); err == nil {
		e.Owner = core.Owner(o)
	}
	return e, nil
}

func decodeAttack(f []json.RawMessage) (core.AttackEvent, error) {
	var e core.AttackEvent
	var err error
	if e.Position, err = positionFromJSON(f[0]); err != nil {
		return e, fieldError{"position", err}
	}
	e.Raw = make([]any, 0, len(f))
	for _, raw := range f {
		var v any
		_ = json.Unmarshal(raw, &v)
		e.Raw = append(e.Raw, v)
	}
	return e, nil
}
