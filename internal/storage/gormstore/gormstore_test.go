package gormstore

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skunkworks/algocore/internal/database"
	"github.com/skunkworks/algocore/pkg/core"
)

func newTestBackend(t *testing.T, opts ...Option) *Backend {
	t.Helper()
	// A long interval keeps the background writer out of the way unless a
	// test asks for it.
	opts = append([]Option{WithFlushInterval(time.Hour)}, opts...)
	b := New(database.SQLiteDialector(filepath.Join(t.TempDir(), "games.db")), zerolog.Nop(), opts...)
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func startGame(t *testing.T, b *Backend) *core.Game {
	t.Helper()
	g := &core.Game{
		ID:        "20260301_100000-1",
		StartTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Config:    core.GameConfig{Raw: json.RawMessage(`{"replaySave":0}`)},
	}
	require.NoError(t, b.StartGame(g))
	return g
}

func TestInit_MigratesTables(t *testing.T) {
	b := newTestBackend(t)

	for _, m := range Models {
		assert.True(t, b.DB().Migrator().HasTable(m), "%T table missing", m)
	}
}

func TestStartGame_InsertsRow(t *testing.T) {
	b := newTestBackend(t)
	startGame(t, b)

	var row Game
	require.NoError(t, b.DB().First(&row, "id = ?", "20260301_100000-1").Error)
	assert.JSONEq(t, `{"replaySave":0}`, string(row.Config))
	assert.Nil(t, row.EndTime)
}

func TestRecordTurn_WritesTurnAndEvents(t *testing.T) {
	b := newTestBackend(t)
	startGame(t, b)

	rec := &core.TurnRecord{
		GameID: "20260301_100000-1",
		Turn:   core.TurnInfo{Phase: core.PhaseAction, Turn: 4, Frame: 12},
		Time:   time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC),
		Deaths: []core.DeathEvent{
			{Position: core.Position{X: 3, Y: 7}, UnitType: core.UnitFilter, UnitID: "11", Owner: core.OwnerSelf},
			{Position: core.Position{X: 12, Y: 16}, UnitType: core.UnitPing, UnitID: "12", Owner: core.OwnerOpponent},
		},
		Spawns: []core.SpawnEvent{
			{Position: core.Position{X: 10, Y: 15}, UnitType: core.UnitEMP, UnitID: "7", Owner: core.OwnerOpponent},
		},
		Breaches: []core.BreachEvent{{Position: core.Position{X: 1, Y: 12}, Damage: 1}},
		Attacks:  5,
		Tally:    core.ArmyTally{TotalCount: 1, TotalCost: 3, EMPCount: 1},
	}
	require.NoError(t, b.RecordTurn(rec))
	assert.Equal(t, 1, b.Pending())
	require.NoError(t, b.Flush())
	assert.Zero(t, b.Pending())

	var turn Turn
	require.NoError(t, b.DB().First(&turn).Error)
	assert.Equal(t, 4, turn.Turn)
	assert.Equal(t, 12, turn.Frame)
	assert.Equal(t, 2, turn.Deaths)
	assert.Equal(t, 1, turn.Kills)
	assert.Equal(t, 1, turn.StructureLosses)
	assert.Equal(t, 1, turn.Breaches)
	assert.Equal(t, 5, turn.Attacks)
	assert.Equal(t, 3, turn.TotalCost)
	assert.Equal(t, 1, turn.EMPCount)

	var events []Event
	require.NoError(t, b.DB().Order("id").Find(&events).Error)
	require.Len(t, events, 4)
	assert.Equal(t, "death", events[0].Category)
	assert.Equal(t, "spawn", events[2].Category)
	assert.Equal(t, 10, events[2].X)
	assert.Equal(t, 15, events[2].Y)
	assert.Equal(t, "7", events[2].UnitID)
	assert.Equal(t, "breach", events[3].Category)
	assert.Contains(t, string(events[3].Detail), `"damage":1`)
}

func TestRecordTurn_NoEvents(t *testing.T) {
	b := newTestBackend(t)
	startGame(t, b)

	require.NoError(t, b.RecordTurn(&core.TurnRecord{Turn: core.TurnInfo{Phase: core.PhaseAction, Turn: 1}}))
	require.NoError(t, b.Flush())

	var count int64
	require.NoError(t, b.DB().Model(&Event{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, b.DB().Model(&Turn{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEndGame_UpdatesRow(t *testing.T) {
	b := newTestBackend(t)
	startGame(t, b)

	end := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	require.NoError(t, b.EndGame(&core.GameSummary{
		GameID:  "20260301_100000-1",
		EndTime: end,
		Turns:   42,
		Tally:   core.ArmyTally{TotalCount: 9, TotalCost: 13, PingCount: 7, EMPCount: 2},
	}))

	var row Game
	require.NoError(t, b.DB().First(&row, "id = ?", "20260301_100000-1").Error)
	require.NotNil(t, row.EndTime)
	assert.True(t, end.Equal(*row.EndTime))
	assert.Equal(t, 42, row.Turns)
	assert.Equal(t, 9, row.TotalCount)
	assert.Equal(t, 13, row.TotalCost)
	assert.Equal(t, 7, row.PingCount)
	assert.Equal(t, 2, row.EMPCount)
	assert.Contains(t, string(row.Summary), `"total_cost":13`)

	assert.ErrorIs(t, b.RecordTurn(&core.TurnRecord{}), ErrNoGame)
}

func TestRecordOutsideGame(t *testing.T) {
	b := newTestBackend(t)

	assert.ErrorIs(t, b.RecordTurn(&core.TurnRecord{}), ErrNoGame)
	assert.ErrorIs(t, b.EndGame(&core.GameSummary{}), ErrNoGame)
}

func TestEndGame_WritesQueuedTurns(t *testing.T) {
	b := newTestBackend(t)
	startGame(t, b)

	for i := range 3 {
		require.NoError(t, b.RecordTurn(&core.TurnRecord{Turn: core.TurnInfo{Phase: core.PhaseAction, Turn: i}}))
	}
	require.NoError(t, b.EndGame(&core.GameSummary{Turns: 3}))

	var count int64
	require.NoError(t, b.DB().Model(&Turn{}).Where("game_id = ?", "20260301_100000-1").Count(&count).Error)
	assert.Equal(t, int64(3), count)
	assert.Positive(t, b.LastWriteDuration())
}

func TestBackgroundWriter(t *testing.T) {
	b := newTestBackend(t, WithFlushInterval(10*time.Millisecond))
	startGame(t, b)

	require.NoError(t, b.RecordTurn(&core.TurnRecord{Turn: core.TurnInfo{Phase: core.PhaseAction, Turn: 1}}))

	assert.Eventually(t, func() bool {
		var count int64
		return b.DB().Model(&Turn{}).Count(&count).Error == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClose_WritesQueuedTurns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.db")
	b := New(database.SQLiteDialector(path), zerolog.Nop(), WithFlushInterval(time.Hour))
	require.NoError(t, b.Init())
	startGame(t, b)
	require.NoError(t, b.RecordTurn(&core.TurnRecord{Turn: core.TurnInfo{Phase: core.PhaseAction, Turn: 1}}))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "close is idempotent")

	reopened := database.NewManager(zerolog.Nop())
	require.NoError(t, reopened.Open(database.SQLiteDialector(path)))
	t.Cleanup(func() { _ = reopened.Close() })

	var count int64
	require.NoError(t, reopened.DB.Model(&Turn{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestClose_WithoutInit(t *testing.T) {
	b := New(database.SQLiteDialector(""), zerolog.Nop())
	assert.NoError(t, b.Close())
}
