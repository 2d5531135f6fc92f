// pkg/core/game.go
package core

import (
	"encoding/json"
	"time"
)

// GameConfig is the opaque configuration sent once by the engine.
type GameConfig struct {
	Raw json.RawMessage
}

// Lookup returns the top-level field with the given key.
func (c GameConfig) Lookup(key string) (json.RawMessage, bool) {
	if len(c.Raw) == 0 {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(c.Raw, &fields); err != nil {
		return nil, false
	}
	v, ok := fields[key]
	return v, ok
}

// MarshalJSON writes the configuration through unchanged.
func (c GameConfig) MarshalJSON() ([]byte, error) {
	if len(c.Raw) == 0 {
		return []byte("null"), nil
	}
	return c.Raw, nil
}

// UnmarshalJSON keeps a copy of the raw configuration.
func (c *GameConfig) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		c.Raw = nil
		return nil
	}
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Game identifies one engine session.
type Game struct {
	ID        string     `json:"gameId"`
	StartTime time.Time  `json:"startTime"`
	Config    GameConfig `json:"config"`
}

// ArmyTally aggregates opponent attacking-unit spawns.
type ArmyTally struct {
	TotalCount     int `json:"total_count"`
	TotalCost      int `json:"total_cost"`
	PingCount      int `json:"ping_count"`
	EMPCount       int `json:"EMP_count"`
	ScramblerCount int `json:"scrambler_count"`
}

// TurnRecord is what an action phase contributed.
type TurnRecord struct {
	GameID   string        `json:"gameId"`
	Turn     TurnInfo      `json:"turnInfo"`
	Time     time.Time     `json:"time"`
	Deaths   []DeathEvent  `json:"deaths"`
	Spawns   []SpawnEvent  `json:"spawns"`
	Breaches []BreachEvent `json:"breaches"`
	Attacks  int           `json:"attacks"`
	Tally    ArmyTally     `json:"armyTally"`
}

// Kills counts the opponent attackers destroyed this turn.
func (r *TurnRecord) Kills() int {
	n := 0
	for _, d := range r.Deaths {
		if d.IsKill() {
			n++
		}
	}
	return n
}

// StructureLosses counts our structures destroyed this turn.
func (r *TurnRecord) StructureLosses() int {
	n := 0
	for _, d := range r.Deaths {
		if d.IsStructureLoss() {
			n++
		}
	}
	return n
}

// GameSummary is the final aggregate of one game.
type GameSummary struct {
	GameID      string         `json:"gameId"`
	EndTime     time.Time      `json:"endTime"`
	Turns       int            `json:"turns"`
	Tally       ArmyTally      `json:"armyTally"`
	Breaches    []Position     `json:"breachList"`
	SpawnCoords []Position     `json:"enemySpawnCoords"`
	DeathTally  map[string]int `json:"deathTally"`
	KillTally   map[string]int `json:"killTally"`
}

// Placement is one unit to deploy.
type Placement struct {
	UnitType UnitType
	At       Position
}

// MarshalJSON encodes a placement as ["PI", x, y].
func (p Placement) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.UnitType.Shorthand(), p.At.X, p.At.Y})
}

// UploadMetadata describes an exported game sent to a replay server.
type UploadMetadata struct {
	GameID   string
	Turns    int
	Duration float64 // seconds
	Tag      string
}
