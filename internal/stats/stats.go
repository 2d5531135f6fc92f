// Package stats holds the running per-game aggregates about the opponent.
package stats

import (
	"fmt"
	"maps"
	"slices"

	"github.com/skunkworks/algocore/pkg/core"
)

// Unit costs used for the army estimate.
const (
	PingCost      = 1
	EMPCost       = 3
	ScramblerCost = 1
)

// DeathOutcome says which tally a death event fed.
type DeathOutcome int

const (
	DeathIgnored DeathOutcome = iota
	DeathStructureLost
	DeathKill
)

// Options tweak accounting.
type Options struct {
	// LegacyScramblerAccounting counts scrambler spawns in total_count only,
	// leaving total_cost and scrambler_count untouched, the way the first
	// algo generation did.
	LegacyScramblerAccounting bool
}

// GameStats is owned by the loop for one game. Not safe for concurrent use.
type GameStats struct {
	opts Options

	BreachList       []core.Position
	EnemySpawnCoords []core.Position
	EnemySpawns      []core.SpawnEvent
	ArmyTally        core.ArmyTally
	DeathTally       map[core.Position]int
	KillTally        map[core.Position]int

	// Filled by strategies; the loop never writes these.
	MyEmpIDs       map[string]struct{}
	EnemyShieldMap map[string]float64

	breachSeen map[core.Position]struct{}
	spawnSeen  map[core.Position]struct{}
}

// New returns empty stats.
func New(opts Options) *GameStats {
	s := &GameStats{opts: opts}
	s.Reset()
	return s
}

// Reset clears every aggregate. Called once per game start.
func (s *GameStats) Reset() {
	s.BreachList = []core.Position{}
	s.EnemySpawnCoords = []core.Position{}
	s.EnemySpawns = []core.SpawnEvent{}
	s.ArmyTally = core.ArmyTally{}
	s.DeathTally = make(map[core.Position]int)
	s.KillTally = make(map[core.Position]int)
	s.MyEmpIDs = make(map[string]struct{})
	s.EnemyShieldMap = make(map[string]float64)
	s.breachSeen = make(map[core.Position]struct{})
	s.spawnSeen = make(map[core.Position]struct{})
}

// RecordDeath counts our lost structures and killed enemy attackers by cell.
func (s *GameStats) RecordDeath(e core.DeathEvent) DeathOutcome {
	switch {
	case e.IsStructureLoss():
		s.DeathTally[e.Position]++
		return DeathStructureLost
	case e.IsKill():
		s.KillTally[e.Position]++
		return DeathKill
	default:
		return DeathIgnored
	}
}

// RecordSpawn tallies an enemy attacker spawn. It returns false for spawns
// that do not qualify, which change nothing. The second result is true when
// the spawn cell had not been seen before.
func (s *GameStats) RecordSpawn(e core.SpawnEvent) (counted, newCoord bool) {
	if !e.IsEnemyAttacker() {
		return false, false
	}

	s.ArmyTally.TotalCount++
	s.EnemySpawns = append(s.EnemySpawns, e)

	switch e.UnitType {
	case core.UnitPing:
		s.ArmyTally.PingCount++
		s.ArmyTally.TotalCost += PingCost
	case core.UnitEMP:
		s.ArmyTally.EMPCount++
		s.ArmyTally.TotalCost += EMPCost
	case core.UnitScrambler:
		// TODO: confirm scrambler cost accounting with the strategy owners and
		// drop LegacyScramblerAccounting once the first-generation replays are
		// no longer compared against.
		if !s.opts.LegacyScramblerAccounting {
			s.ArmyTally.ScramblerCount++
			s.ArmyTally.TotalCost += ScramblerCost
		}
	}

	if _, seen := s.spawnSeen[e.Position]; !seen {
		s.spawnSeen[e.Position] = struct{}{}
		s.EnemySpawnCoords = append(s.EnemySpawnCoords, e.Position)
		newCoord = true
	}
	return true, newCoord
}

// RecordBreach stores the cell of a breach on our half once.
func (s *GameStats) RecordBreach(e core.BreachEvent) bool {
	if !e.IsAgainstUs() {
		return false
	}
	if _, seen := s.breachSeen[e.Position]; seen {
		return false
	}
	s.breachSeen[e.Position] = struct{}{}
	s.BreachList = append(s.BreachList, e.Position)
	return true
}

// AddMyEmpID remembers one of our EMPs for attack attribution.
func (s *GameStats) AddMyEmpID(id string) {
	s.MyEmpIDs[id] = struct{}{}
}

// HasMyEmpID reports whether id is one of our EMPs.
func (s *GameStats) HasMyEmpID(id string) bool {
	_, ok := s.MyEmpIDs[id]
	return ok
}

// SetEnemyShield records shield data for an enemy unit.
func (s *GameStats) SetEnemyShield(id string, shield float64) {
	s.EnemyShieldMap[id] = shield
}

// EnemyShield returns the recorded shield for an enemy unit.
func (s *GameStats) EnemyShield(id string) (float64, bool) {
	v, ok := s.EnemyShieldMap[id]
	return v, ok
}

// Snapshot returns a deep copy that shares nothing with s.
func (s *GameStats) Snapshot() *GameStats {
	return &GameStats{
		opts:             s.opts,
		BreachList:       slices.Clone(s.BreachList),
		EnemySpawnCoords: slices.Clone(s.EnemySpawnCoords),
		EnemySpawns:      slices.Clone(s.EnemySpawns),
		ArmyTally:        s.ArmyTally,
		DeathTally:       maps.Clone(s.DeathTally),
		KillTally:        maps.Clone(s.KillTally),
		MyEmpIDs:         maps.Clone(s.MyEmpIDs),
		EnemyShieldMap:   maps.Clone(s.EnemyShieldMap),
		breachSeen:       maps.Clone(s.breachSeen),
		spawnSeen:        maps.Clone(s.spawnSeen),
	}
}

// Summary flattens the aggregates for recorders. Tally keys are "x,y".
func (s *GameStats) Summary(gameID string, turns int) core.GameSummary {
	return core.GameSummary{
		GameID:      gameID,
		Turns:       turns,
		Tally:       s.ArmyTally,
		Breaches:    slices.Clone(s.BreachList),
		SpawnCoords: slices.Clone(s.EnemySpawnCoords),
		DeathTally:  keyed(s.DeathTally),
		KillTally:   keyed(s.KillTally),
	}
}

func keyed(m map[core.Position]int) map[string]int {
	out := make(map[string]int, len(m))
	for p, n := range m {
		out[fmt.Sprintf("%d,%d", p.X, p.Y)] = n
	}
	return out
}
