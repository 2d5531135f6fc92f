// pkg/core/types.go
package core

import (
	"encoding/json"
	"fmt"
)

// BoardHalf is the first row of the opponent's half. Rows [0, BoardHalf) belong
// to us, rows [BoardHalf, 2*BoardHalf) to the opponent.
const BoardHalf = 14

// Position is a board cell. Copied by value, usable as a map key.
type Position struct {
	X int
	Y int
}

// OnOpponentSide reports whether the cell lies on the opponent's half.
func (p Position) OnOpponentSide() bool {
	return p.Y > BoardHalf-1
}

// OnOwnSide reports whether the cell lies on our half.
func (p Position) OnOwnSide() bool {
	return p.Y < BoardHalf
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// MarshalJSON encodes the position the way the engine does: [x, y].
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.X, p.Y})
}

// UnmarshalJSON decodes a [x, y] pair.
func (p *Position) UnmarshalJSON(data []byte) error {
	var xy [2]int
	if err := json.Unmarshal(data, &xy); err != nil {
		return fmt.Errorf("position: %w", err)
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

// UnitType is the engine's numeric unit code.
type UnitType int

const (
	UnitFilter     UnitType = 0
	UnitEncryptor  UnitType = 1
	UnitDestructor UnitType = 2
	UnitPing       UnitType = 3
	UnitEMP        UnitType = 4
	UnitScrambler  UnitType = 5
)

// IsStationary reports whether the unit is a defensive structure (codes 0-2).
func (t UnitType) IsStationary() bool {
	return t >= UnitFilter && t <= UnitDestructor
}

// IsMobile reports whether the unit is an attacking unit (codes 3-5).
func (t UnitType) IsMobile() bool {
	return t >= UnitPing && t <= UnitScrambler
}

// Shorthand is the engine's two-letter unit name used in placement commands.
func (t UnitType) Shorthand() string {
	switch t {
	case UnitFilter:
		return "FF"
	case UnitEncryptor:
		return "EF"
	case UnitDestructor:
		return "DF"
	case UnitPing:
		return "PI"
	case UnitEMP:
		return "EI"
	case UnitScrambler:
		return "SI"
	default:
		return fmt.Sprintf("U%d", int(t))
	}
}

func (t UnitType) String() string {
	switch t {
	case UnitFilter:
		return "filter"
	case UnitEncryptor:
		return "encryptor"
	case UnitDestructor:
		return "destructor"
	case UnitPing:
		return "ping"
	case UnitEMP:
		return "emp"
	case UnitScrambler:
		return "scrambler"
	default:
		return fmt.Sprintf("unit(%d)", int(t))
	}
}

// Owner identifies which player a unit belongs to.
type Owner int

const (
	OwnerSelf     Owner = 1
	OwnerOpponent Owner = 2
)

func (o Owner) String() string {
	switch o {
	case OwnerSelf:
		return "self"
	case OwnerOpponent:
		return "opponent"
	default:
		return fmt.Sprintf("owner(%d)", int(o))
	}
}

// Phase is the code carried in turnInfo[0].
type Phase int

const (
	PhaseBuild  Phase = 0
	PhaseAction Phase = 1
	PhaseEnd    Phase = 2
)

// Valid reports whether the engine defines the phase.
func (p Phase) Valid() bool {
	return p >= PhaseBuild && p <= PhaseEnd
}

func (p Phase) String() string {
	switch p {
	case PhaseBuild:
		return "build"
	case PhaseAction:
		return "action"
	case PhaseEnd:
		return "end"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// TurnInfo is the decoded turnInfo array: [phase, turn, actionFrame, ...].
// Turn and Frame are -1 when the engine omits them.
type TurnInfo struct {
	Phase Phase `json:"phase"`
	Turn  int   `json:"turn"`
	Frame int   `json:"frame"`
}
