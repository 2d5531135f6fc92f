// Package gormstore records games into a relational database through gorm.
package gormstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/skunkworks/algocore/internal/database"
	"github.com/skunkworks/algocore/internal/queue"
	"github.com/skunkworks/algocore/pkg/core"
)

// DefaultFlushInterval is how often queued turns are written.
const DefaultFlushInterval = 500 * time.Millisecond

const eventBatchSize = 500

// ErrNoGame is returned when a record arrives outside a game.
var ErrNoGame = errors.New("no game in progress")

type pendingTurn struct {
	turn   Turn
	events []Event
}

// Option configures a Backend.
type Option func(*Backend)

// WithFlushInterval sets how often the background writer runs.
func WithFlushInterval(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.flushInterval = d
		}
	}
}

// Backend writes games, turns and events through a database.Manager. Turns
// are queued by RecordTurn and written by a background writer, so the loop
// never waits on the database during an action phase. EndGame and Close
// write whatever is still queued.
type Backend struct {
	dialector gorm.Dialector
	db        *database.Manager
	log       zerolog.Logger

	flushInterval time.Duration
	pending       *queue.Queue[pendingTurn]
	flushMu       sync.Mutex
	lastWrite     atomic.Int64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	gameID string
}

// New creates a backend for the given dialector. Nothing is opened until Init.
func New(d gorm.Dialector, log zerolog.Logger, opts ...Option) *Backend {
	b := &Backend{
		dialector:     d,
		db:            database.NewManager(log),
		log:           log,
		flushInterval: DefaultFlushInterval,
		pending:       queue.New[pendingTurn](),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Init connects, migrates the schema and starts the background writer.
func (b *Backend) Init() error {
	if err := b.db.Open(b.dialector); err != nil {
		return err
	}
	if err := b.db.Migrate(Models...); err != nil {
		return err
	}

	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.flushLoop()
	return nil
}

// Close stops the writer, writes what is still queued and closes the
// connection.
func (b *Backend) Close() error {
	var flushErr error
	if b.stop != nil {
		b.stopOnce.Do(func() {
			close(b.stop)
			<-b.done
			flushErr = b.Flush()
		})
	}
	return errors.Join(flushErr, b.db.Close())
}

// DB exposes the underlying connection for inspection.
func (b *Backend) DB() *gorm.DB {
	return b.db.DB
}

// Pending returns how many turns wait for the writer.
func (b *Backend) Pending() int {
	return b.pending.Len()
}

// LastWriteDuration returns how long the last non-empty flush took.
func (b *Backend) LastWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

func (b *Backend) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.log.Error().Err(err).Msg("Failed to write queued turns")
			}
		}
	}
}

// Flush writes every queued turn with its events in one transaction. Turns
// that fail to write are dropped; the error says how many.
func (b *Backend) Flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	items := b.pending.Drain()
	if len(items) == 0 {
		return nil
	}

	start := time.Now()
	err := b.db.DB.Transaction(func(tx *gorm.DB) error {
		for i := range items {
			if err := tx.Create(&items[i].turn).Error; err != nil {
				return fmt.Errorf("insert turn: %w", err)
			}
			if len(items[i].events) == 0 {
				continue
			}
			if err := tx.CreateInBatches(items[i].events, eventBatchSize).Error; err != nil {
				return fmt.Errorf("insert events: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %d turns: %w", len(items), err)
	}

	elapsed := time.Since(start)
	b.lastWrite.Store(int64(elapsed))
	b.log.Debug().Int("turns", len(items)).Dur("took", elapsed).Msg("Wrote queued turns")
	return nil
}

// StartGame inserts the game row.
func (b *Backend) StartGame(g *core.Game) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	row := Game{
		ID:        g.ID,
		StartTime: g.StartTime,
		Config:    datatypes.JSON(configBytes(g.Config)),
	}
	if err := b.db.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	b.gameID = g.ID
	return nil
}

// RecordTurn queues one turn row and its events for the writer.
func (b *Backend) RecordTurn(r *core.TurnRecord) error {
	b.mu.Lock()
	gameID := b.gameID
	b.mu.Unlock()

	if gameID == "" {
		return ErrNoGame
	}

	b.pending.Push(pendingTurn{
		turn: Turn{
			GameID:          gameID,
			Turn:            r.Turn.Turn,
			Frame:           r.Turn.Frame,
			Time:            r.Time,
			Deaths:          len(r.Deaths),
			Spawns:          len(r.Spawns),
			Breaches:        len(r.Breaches),
			Attacks:         r.Attacks,
			Kills:           r.Kills(),
			StructureLosses: r.StructureLosses(),
			TotalCount:      r.Tally.TotalCount,
			TotalCost:       r.Tally.TotalCost,
			PingCount:       r.Tally.PingCount,
			EMPCount:        r.Tally.EMPCount,
			ScramblerCount:  r.Tally.ScramblerCount,
		},
		events: eventRows(gameID, r),
	})
	return nil
}

// EndGame writes the queued turns, then stores the final tally and summary
// on the game row.
func (b *Backend) EndGame(s *core.GameSummary) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gameID == "" {
		return ErrNoGame
	}

	flushErr := b.Flush()

	summary, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}

	err = b.db.DB.Model(&Game{ID: b.gameID}).Updates(map[string]any{
		"end_time":        end,
		"turns":           s.Turns,
		"total_count":     s.Tally.TotalCount,
		"total_cost":      s.Tally.TotalCost,
		"ping_count":      s.Tally.PingCount,
		"emp_count":       s.Tally.EMPCount,
		"scrambler_count": s.Tally.ScramblerCount,
		"summary":         datatypes.JSON(summary),
	}).Error
	b.gameID = ""
	if err != nil {
		return errors.Join(flushErr, fmt.Errorf("update game: %w", err))
	}
	return flushErr
}

func eventRows(gameID string, r *core.TurnRecord) []Event {
	rows := make([]Event, 0, len(r.Deaths)+len(r.Spawns)+len(r.Breaches))
	for _, d := range r.Deaths {
		rows = append(rows, Event{
			GameID: gameID, Turn: r.Turn.Turn, Category: string(core.CategoryDeath),
			X: d.Position.X, Y: d.Position.Y, UnitType: int(d.UnitType), UnitID: d.UnitID, Owner: int(d.Owner),
			Detail: detail(d),
		})
	}
	for _, s := range r.Spawns {
		rows = append(rows, Event{
			GameID: gameID, Turn: r.Turn.Turn, Category: string(core.CategorySpawn),
			X: s.Position.X, Y: s.Position.Y, UnitType: int(s.UnitType), UnitID: s.UnitID, Owner: int(s.Owner),
			Detail: detail(s),
		})
	}
	for _, br := range r.Breaches {
		rows = append(rows, Event{
			GameID: gameID, Turn: r.Turn.Turn, Category: string(core.CategoryBreach),
			X: br.Position.X, Y: br.Position.Y, UnitType: int(br.UnitType), UnitID: br.UnitID, Owner: int(br.Owner),
			Detail: detail(br),
		})
	}
	return rows
}

func detail(v any) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

func configBytes(c core.GameConfig) []byte {
	if len(c.Raw) == 0 {
		return []byte("null")
	}
	return c.Raw
}
