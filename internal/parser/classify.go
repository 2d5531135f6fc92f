package parser

import (
	"encoding/json"
	"fmt"

	"github.com/skunkworks/algocore/pkg/core"
)

// Kind is the tag of a classified message.
type Kind int

const (
	KindMalformed Kind = iota
	KindInit
	KindBuild
	KindAction
	KindEnd
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindBuild:
		return "build"
	case KindAction:
		return "action"
	case KindEnd:
		return "end"
	default:
		return "malformed"
	}
}

// Message is one classified inbound line. The concrete type is one of
// *InitMessage, *BuildMessage, *ActionMessage, *EndMessage, *MalformedMessage.
type Message interface {
	Kind() Kind
}

// InitMessage is the game configuration.
type InitMessage struct {
	Config core.GameConfig
}

// BuildMessage asks for this turn's commands.
type BuildMessage struct {
	Turn core.TurnInfo
	Raw  json.RawMessage
}

// EndMessage ends the game.
type EndMessage struct {
	Turn core.TurnInfo
}

// MalformedMessage is any line that is not a known message.
// Err wraps ErrProtocolDecode or ErrMalformedMessage.
type MalformedMessage struct {
	Line []byte
	Err  error
}

func (*InitMessage) Kind() Kind      { return KindInit }
func (*BuildMessage) Kind() Kind     { return KindBuild }
func (*ActionMessage) Kind() Kind    { return KindAction }
func (*EndMessage) Kind() Kind       { return KindEnd }
func (*MalformedMessage) Kind() Kind { return KindMalformed }

func malformed(line []byte, sentinel error, format string, args ...any) *MalformedMessage {
	return &MalformedMessage{
		Line: line,
		Err:  fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)),
	}
}

// Classify decodes one inbound line. It never fails; unusable input comes back
// as *MalformedMessage. The line is retained by the returned message.
func Classify(line []byte) Message {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return malformed(line, ErrProtocolDecode, "%v", err)
	}
	if fields == nil {
		return malformed(line, ErrProtocolDecode, "not a JSON object")
	}

	if hasKey(fields, ReplayMarkerKey, markerSearchDepth) {
		return &InitMessage{Config: core.GameConfig{Raw: json.RawMessage(line)}}
	}

	rawTurnInfo, ok := fields[TurnInfoKey]
	if !ok {
		return malformed(line, ErrMalformedMessage, "neither %s nor %s present", ReplayMarkerKey, TurnInfoKey)
	}

	turn, err := decodeTurnInfo(rawTurnInfo)
	if err != nil {
		return malformed(line, ErrMalformedMessage, "%s: %v", TurnInfoKey, err)
	}

	switch turn.Phase {
	case core.PhaseBuild:
		return &BuildMessage{Turn: turn, Raw: json.RawMessage(line)}
	case core.PhaseAction:
		return &ActionMessage{Turn: turn, Events: decodeEvents(fields[EventsKey]), Raw: json.RawMessage(line)}
	case core.PhaseEnd:
		return &EndMessage{Turn: turn}
	default:
		return malformed(line, ErrMalformedMessage, "unexpected phase code %d", int(turn.Phase))
	}
}

// The engine nests the marker inside the timing section of the config.
const markerSearchDepth = 3

// hasKey looks for key in fields and in nested objects up to depth levels down.
func hasKey(fields map[string]json.RawMessage, key string, depth int) bool {
	if _, ok := fields[key]; ok {
		return true
	}
	if depth == 0 {
		return false
	}
	for _, v := range fields {
		if len(v) == 0 || v[0] != '{' {
			continue
		}
		var nested map[string]json.RawMessage
		if json.Unmarshal(v, &nested) != nil {
			continue
		}
		if hasKey(nested, key, depth-1) {
			return true
		}
	}
	return false
}

// decodeTurnInfo reads [phase, turn, frame, ...]. Only the phase is required.
func decodeTurnInfo(raw json.RawMessage) (core.TurnInfo, error) {
	info := core.TurnInfo{Turn: -1, Frame: -1}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return info, fmt.Errorf("not an array")
	}
	if len(elems) == 0 {
		return info, fmt.Errorf("empty")
	}

	phase, err := intFromJSON(elems[0])
	if err != nil {
		return info, fmt.Errorf("phase code: %w", err)
	}
	info.Phase = core.Phase(phase)

	if len(elems) > 1 {
		if n, err := intFromJSON(elems[1]); err == nil {
			info.Turn = n
		}
	}
	if len(elems) > 2 {
		if n, err := intFromJSON(elems[2]); err == nil {
			info.Frame = n
		}
	}
	return info, nil
}

// decodeEvents splits the events object into its categories. A missing
// object or category is an empty list.
func decodeEvents(raw json.RawMessage) RawEvents {
	var events RawEvents
	if isNull(raw) {
		return events
	}

	targets := map[core.EventCategory]*[]json.RawMessage{
		core.CategoryDeath:  &events.Death,
		core.CategorySpawn:  &events.Spawn,
		core.CategoryBreach: &events.Breach,
		core.CategoryAttack: &events.Attack,
	}

	var lists map[string]json.RawMessage
	if err := json.Unmarshal(raw, &lists); err != nil {
		for category := range targets {
			events.setErr(category, fmt.Errorf("%s is not an object", EventsKey))
		}
		return events
	}

	for category, dst := range targets {
		list, ok := lists[string(category)]
		if !ok || isNull(list) {
			continue
		}
		if err := json.Unmarshal(list, dst); err != nil {
			*dst = nil
			events.setErr(category, fmt.Errorf("%s is not a list", truncate(list)))
		}
	}
	return events
}
