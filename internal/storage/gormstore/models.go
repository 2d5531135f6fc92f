package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// Game is one engine session.
type Game struct {
	ID             string `gorm:"primaryKey;size:64"`
	StartTime      time.Time
	EndTime        *time.Time
	Config         datatypes.JSON
	Turns          int
	TotalCount     int
	TotalCost      int
	PingCount      int
	EMPCount       int `gorm:"column:emp_count"`
	ScramblerCount int
	Summary        datatypes.JSON
}

func (Game) TableName() string { return "games" }

// Turn is the outcome of one action phase. The tally columns hold the
// running totals after the turn.
type Turn struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	GameID          string `gorm:"index;size:64"`
	Turn            int    `gorm:"index"`
	Frame           int
	Time            time.Time
	Deaths          int
	Spawns          int
	Breaches        int
	Attacks         int
	Kills           int
	StructureLosses int
	TotalCount      int
	TotalCost       int
	PingCount       int
	EMPCount        int `gorm:"column:emp_count"`
	ScramblerCount  int
}

func (Turn) TableName() string { return "turns" }

// Event is one decoded death, spawn or breach.
type Event struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	GameID   string `gorm:"index;size:64"`
	Turn     int    `gorm:"index"`
	Category string `gorm:"size:16;index"`
	X        int
	Y        int
	UnitType int
	UnitID   string `gorm:"size:64"`
	Owner    int
	Detail   datatypes.JSON
}

func (Event) TableName() string { return "events" }

// Models lists every table the backend migrates.
var Models = []any{&Game{}, &Turn{}, &Event{}}
