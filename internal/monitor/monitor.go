package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/skunkworks/algocore/internal/game"
	"github.com/skunkworks/algocore/internal/storage"
	"github.com/skunkworks/algocore/pkg/core"
)

const defaultInterval = time.Second

// WriteStats is implemented by recorders that buffer their writes.
type WriteStats interface {
	Pending() int
	LastWriteDuration() time.Duration
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Context  *game.Context
	Backend  storage.Backend
	Logger   *slog.Logger
	Path     string
	Interval time.Duration
	Now      func() time.Time
}

// Status is what the status file holds.
type Status struct {
	Time            time.Time      `json:"time"`
	GameID          string         `json:"gameId"`
	Turn            int            `json:"turn"`
	Frame           int            `json:"frame"`
	TurnsPlayed     int            `json:"turnsPlayed"`
	ActionFrames    int            `json:"actionFrames"`
	Tally           core.ArmyTally `json:"armyTally"`
	Kills           int            `json:"kills"`
	StructureLosses int            `json:"structureLosses"`
	Breaches        int            `json:"breaches"`
	PendingWrites   int            `json:"pendingWrites"`
	LastWriteMs     float64        `json:"lastWriteMs"`
}

type totals struct {
	gameID          string
	frames          int
	tally           core.ArmyTally
	kills           int
	structureLosses int
	breaches        int
}

// Service keeps running totals of the current game and periodically writes
// them to a status file. It is a turn sink: WriteTurn runs on the loop
// goroutine, the file is written from its own goroutine.
type Service struct {
	deps Dependencies

	mu        sync.Mutex
	totals    totals
	isRunning bool
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = defaultInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Backend == nil {
		deps.Backend = storage.Nop{}
	}
	return &Service{deps: deps}
}

// WriteTurn folds one action phase into the running totals. A record of a
// new game starts the totals over.
func (s *Service) WriteTurn(r *core.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.GameID != s.totals.gameID {
		s.totals = totals{gameID: r.GameID}
	}
	s.totals.frames++
	s.totals.tally = r.Tally
	s.totals.kills += r.Kills()
	s.totals.structureLosses += r.StructureLosses()
	s.totals.breaches += len(r.Breaches)
	return nil
}

// Status returns the current status.
func (s *Service) Status() Status {
	turn := s.deps.Context.Turn()
	st := Status{
		Time:        s.deps.Now().UTC(),
		GameID:      s.deps.Context.GameID(),
		Turn:        turn.Turn,
		Frame:       turn.Frame,
		TurnsPlayed: s.deps.Context.TurnsPlayed(),
	}

	s.mu.Lock()
	if s.totals.gameID == st.GameID {
		st.ActionFrames = s.totals.frames
		st.Tally = s.totals.tally
		st.Kills = s.totals.kills
		st.StructureLosses = s.totals.structureLosses
		st.Breaches = s.totals.breaches
	}
	s.mu.Unlock()

	if ws, ok := s.deps.Backend.(WriteStats); ok {
		st.PendingWrites = ws.Pending()
		st.LastWriteMs = float64(ws.LastWriteDuration().Microseconds()) / 1000
	}
	return st
}

// IsRunning returns whether the status writer is running
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Start starts the status writer goroutine.
func (s *Service) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.deps.Path), 0755); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		s.deps.Logger.Debug("Status monitor started", "path", s.deps.Path, "interval", s.deps.Interval.String())
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.WriteFile(); err != nil {
					s.deps.Logger.Warn("Failed to write status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the writer and writes the status one last time.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
	if err := s.WriteFile(); err != nil {
		s.deps.Logger.Warn("Failed to write status file", "error", err)
	}
}

// WriteFile replaces the status file with the current status.
func (s *Service) WriteFile() error {
	data, err := json.MarshalIndent(s.Status(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	tmp := s.deps.Path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return os.Rename(tmp, s.deps.Path)
}
