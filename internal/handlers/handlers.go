package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skunkworks/algocore/internal/dispatcher"
	"github.com/skunkworks/algocore/internal/game"
	"github.com/skunkworks/algocore/internal/parser"
	"github.com/skunkworks/algocore/internal/stats"
	"github.com/skunkworks/algocore/internal/storage"
	"github.com/skunkworks/algocore/internal/strategy"
	"github.com/skunkworks/algocore/pkg/core"
	"github.com/skunkworks/algocore/pkg/engineio"
)

// DefaultSubPhases is how many command lines the engine reads per build phase.
const DefaultSubPhases = 2

// TurnSink receives one record per action phase. The influx manager and the
// status monitor are sinks.
type TurnSink interface {
	WriteTurn(r *core.TurnRecord) error
}

// Uploader sends an exported game file somewhere. The replay server client
// is one.
type Uploader interface {
	Upload(ctx context.Context, path string, meta core.UploadMetadata) error
}

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Strategy  strategy.Strategy
	Stats     *stats.GameStats
	Out       engineio.Writer
	SubPhases int
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service handles classified messages for one session. All methods run on
// the loop goroutine.
type Service struct {
	deps    Dependencies
	ctx     *game.Context
	backend storage.Backend
	sinks   []TurnSink
	upload  Uploader
	active  bool
}

// NewService creates a new handler service. Missing optional dependencies
// get defaults.
func NewService(deps Dependencies, ctx *game.Context) *Service {
	if deps.Strategy == nil {
		deps.Strategy = strategy.Default{}
	}
	if deps.Stats == nil {
		deps.Stats = stats.New(stats.Options{})
	}
	if deps.Out == nil {
		deps.Out = engineio.Discard{}
	}
	if deps.SubPhases <= 0 {
		deps.SubPhases = DefaultSubPhases
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		deps:    deps,
		ctx:     ctx,
		backend: storage.Nop{},
	}
}

// SetBackend sets the game recorder.
func (s *Service) SetBackend(b storage.Backend) {
	if b == nil {
		b = storage.Nop{}
	}
	s.backend = b
}

// AddTurnSink adds a per-turn sink. Sinks see records in the order added.
func (s *Service) AddTurnSink(sink TurnSink) {
	if sink != nil {
		s.sinks = append(s.sinks, sink)
	}
}

// SetUploader sets where exported games are sent. It only has an effect
// with a recorder that exports a file.
func (s *Service) SetUploader(u Uploader) {
	s.upload = u
}

// Stats returns the aggregates of the current game.
func (s *Service) Stats() *stats.GameStats {
	return s.deps.Stats
}

// Context returns the game context.
func (s *Service) Context() *game.Context {
	return s.ctx
}

// Register installs the handlers on d.
func (s *Service) Register(d *dispatcher.Dispatcher) {
	d.Register(parser.KindInit, func(ctx context.Context, m parser.Message) error {
		return s.OnInit(ctx, m.(*parser.InitMessage))
	}, dispatcher.Logged(), dispatcher.Timed())
	d.Register(parser.KindBuild, func(ctx context.Context, m parser.Message) error {
		return s.OnBuild(ctx, m.(*parser.BuildMessage))
	}, dispatcher.Logged(), dispatcher.Timed())
	d.Register(parser.KindAction, func(ctx context.Context, m parser.Message) error {
		return s.OnAction(ctx, m.(*parser.ActionMessage))
	}, dispatcher.Logged(), dispatcher.Timed())
	d.Register(parser.KindEnd, func(ctx context.Context, m parser.Message) error {
		return s.OnEnd(ctx, m.(*parser.EndMessage))
	}, dispatcher.Logged())
}

// OnInit starts a new game: all aggregates are reset and the configuration
// stored. A game still open is closed out first.
func (s *Service) OnInit(ctx context.Context, m *parser.InitMessage) error {
	if s.active {
		s.deps.Logger.Warn("Initialization during a game, starting over", "previousGame", s.ctx.GameID())
		s.finishRecording(ctx)
	}

	s.deps.Stats.Reset()
	g := s.ctx.Start(m.Config)
	s.active = true

	s.deps.Logger.Info("Game started", "gameId", g.ID, "configBytes", len(m.Config.Raw))

	if err := s.backend.StartGame(g); err != nil {
		s.deps.Logger.Warn("Recorder failed to start game", "error", err)
	}

	if err := strategy.StartGame(s.deps.Strategy, g, s.deps.Stats); err != nil {
		return fmt.Errorf("strategy game start: %w", err)
	}
	return nil
}

// OnBuild lets the strategy play the turn. The engine always receives
// SubPhases lines, whatever the strategy does.
func (s *Service) OnBuild(_ context.Context, m *parser.BuildMessage) error {
	s.ctx.SetTurn(m.Turn)

	out := strategy.NewSubmitter(s.deps.Out, s.deps.SubPhases)
	padded, err := strategy.PlayTurn(s.deps.Strategy, strategy.Turn{
		Game:  s.ctx.Game(),
		Info:  m.Turn,
		State: m.Raw,
	}, s.deps.Stats, out)

	if padded > 0 {
		s.deps.Logger.Debug("Padded turn", "lines", padded)
	}
	if err != nil {
		return fmt.Errorf("turn %d: %w", m.Turn.Turn, err)
	}
	return nil
}

// PadTurn answers a build phase that arrived before any game started. The
// strategy is not consulted.
func (s *Service) PadTurn(m *parser.BuildMessage) error {
	padded, err := strategy.NewSubmitter(s.deps.Out, s.deps.SubPhases).Finish()
	s.deps.Logger.Warn("Build phase before initialization", "turn", m.Turn.Turn, "padded", padded)
	return err
}

// OnAction feeds every event of the frame into the aggregates and records
// the turn. A bad event is reported and skipped; the rest of its category
// is still processed.
func (s *Service) OnAction(_ context.Context, m *parser.ActionMessage) error {
	s.ctx.SetTurn(m.Turn)
	st := s.deps.Stats

	rec := core.TurnRecord{
		GameID: s.ctx.GameID(),
		Turn:   m.Turn,
		Time:   s.deps.Now(),
	}
	var decodeErrs int

	for e, err := range m.Deaths() {
		if s.skip(err, &decodeErrs) {
			continue
		}
		rec.Deaths = append(rec.Deaths, e)
		st.RecordDeath(e)
	}

	for e, err := range m.Spawns() {
		if s.skip(err, &decodeErrs) {
			continue
		}
		rec.Spawns = append(rec.Spawns, e)
		if counted, _ := st.RecordSpawn(e); counted {
			s.deps.Logger.Debug("Enemy attacker spawned",
				"type", e.UnitType.String(), "at", e.Position.String(), "totalCost", st.ArmyTally.TotalCost)
		}
	}

	for e, err := range m.Breaches() {
		if s.skip(err, &decodeErrs) {
			continue
		}
		rec.Breaches = append(rec.Breaches, e)
		if st.RecordBreach(e) {
			s.deps.Logger.Info("Breach on our side", "at", e.Position.String())
		}
	}

	for _, err := range m.Attacks() {
		if s.skip(err, &decodeErrs) {
			continue
		}
		rec.Attacks++
	}

	rec.Tally = st.ArmyTally

	if err := s.backend.RecordTurn(&rec); err != nil {
		s.deps.Logger.Warn("Recorder failed to record turn", "error", err)
	}
	for _, sink := range s.sinks {
		if err := sink.WriteTurn(&rec); err != nil {
			s.deps.Logger.Warn("Turn sink failed", "sink", fmt.Sprintf("%T", sink), "error", err)
		}
	}

	if decodeErrs > 0 {
		s.deps.Logger.Warn("Action phase had undecodable events", "count", decodeErrs)
	}
	return nil
}

// skip reports whether an event must be skipped, logging why.
func (s *Service) skip(err error, count *int) bool {
	if err == nil {
		return false
	}
	*count++

	var de *parser.EventDecodeError
	if errors.As(err, &de) {
		s.deps.Logger.Warn("Skipping event", "category", string(de.Category), "index", de.Index, "error", de.Err)
	} else {
		s.deps.Logger.Warn("Skipping event", "error", err)
	}
	return true
}

// OnEnd closes out the game.
func (s *Service) OnEnd(ctx context.Context, m *parser.EndMessage) error {
	s.ctx.SetTurn(m.Turn)
	if !s.active {
		return nil
	}
	s.finishRecording(ctx)
	st := s.deps.Stats
	s.deps.Logger.Info("Game over",
		"turns", s.ctx.TurnsPlayed(),
		"totalCount", st.ArmyTally.TotalCount,
		"totalCost", st.ArmyTally.TotalCost,
		"breaches", len(st.BreachList))
	return nil
}

// Summary returns the summary of the current game.
func (s *Service) Summary() core.GameSummary {
	sum := s.deps.Stats.Summary(s.ctx.GameID(), s.ctx.TurnsPlayed())
	sum.EndTime = s.deps.Now()
	return sum
}

func (s *Service) finishRecording(ctx context.Context) {
	s.active = false
	sum := s.Summary()
	if err := s.backend.EndGame(&sum); err != nil {
		s.deps.Logger.Warn("Recorder failed to end game", "error", err)
		return
	}
	s.uploadExport(ctx, sum)
}

func (s *Service) uploadExport(ctx context.Context, sum core.GameSummary) {
	exp, ok := s.backend.(storage.Exporter)
	if !ok || s.upload == nil {
		return
	}
	path := exp.ExportedFilePath()
	if path == "" {
		return
	}

	var duration float64
	if g := s.ctx.Game(); g != nil {
		duration = sum.EndTime.Sub(g.StartTime).Seconds()
	}
	meta := core.UploadMetadata{GameID: sum.GameID, Turns: sum.Turns, Duration: duration}
	if err := s.upload.Upload(ctx, path, meta); err != nil {
		s.deps.Logger.Warn("Failed to upload game", "path", path, "error", err)
		return
	}
	s.deps.Logger.Info("Uploaded game", "path", path)
}
