// pkg/core/events.go
package core

// DeathEvent is a unit removed from the board.
type DeathEvent struct {
	Position   Position `json:"position"`
	UnitType   UnitType `json:"unitType"`
	UnitID     string   `json:"unitId"`
	Owner      Owner    `json:"owner"`
	WasRemoved bool     `json:"wasRemoved"`
}

// IsStructureLoss reports one of our defensive structures being destroyed.
func (e DeathEvent) IsStructureLoss() bool {
	return e.Owner == OwnerSelf && e.UnitType.IsStationary()
}

// IsKill reports an opponent attacking unit being destroyed.
func (e DeathEvent) IsKill() bool {
	return e.Owner == OwnerOpponent && e.UnitType.IsMobile()
}

// SpawnEvent is a unit created on the board.
type SpawnEvent struct {
	Position Position `json:"position"`
	UnitType UnitType `json:"unitType"`
	UnitID   string   `json:"unitId"`
	Owner    Owner    `json:"owner"`
}

// IsEnemyAttacker reports an attacking unit spawned on the opponent's half.
// Ownership is implied by the half; the owner field is not consulted.
func (e SpawnEvent) IsEnemyAttacker() bool {
	return e.UnitType.IsMobile() && e.Position.OnOpponentSide()
}

// BreachEvent is a unit reaching an edge of the board. Only the position is
// guaranteed; the remaining fields are filled when present.
type BreachEvent struct {
	Position Position `json:"position"`
	Damage   float64  `json:"damage,omitempty"`
	UnitType UnitType `json:"unitType,omitempty"`
	UnitID   string   `json:"unitId,omitempty"`
	Owner    Owner    `json:"owner,omitempty"`
}

// IsAgainstUs reports a breach landing on our half.
func (e BreachEvent) IsAgainstUs() bool {
	return e.Position.OnOwnSide()
}

// AttackEvent is observed but not aggregated.
type AttackEvent struct {
	Position Position `json:"position"`
	Raw      []any    `json:"raw"`
}

// EventCategory names one of the lists under "events".
type EventCategory string

const (
	CategoryDeath  EventCategory = "death"
	CategorySpawn  EventCategory = "spawn"
	CategoryBreach EventCategory = "breach"
	CategoryAttack EventCategory = "attack"
)
