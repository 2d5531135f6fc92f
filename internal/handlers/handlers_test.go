package handlers

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skunkworks/algocore/internal/dispatcher"
	"github.com/skunkworks/algocore/internal/game"
	"github.com/skunkworks/algocore/internal/parser"
	"github.com/skunkworks/algocore/internal/stats"
	"github.com/skunkworks/algocore/internal/storage"
	"github.com/skunkworks/algocore/internal/strategy"
	"github.com/skunkworks/algocore/pkg/core"
	"github.com/skunkworks/algocore/pkg/engineio"
)

// mockBackend records what the service sends to storage.
type mockBackend struct {
	started []*core.Game
	turns   []core.TurnRecord
	ended   []core.GameSummary
	failAll bool
}

func (b *mockBackend) Init() error  { return nil }
func (b *mockBackend) Close() error { return nil }

func (b *mockBackend) StartGame(g *core.Game) error {
	b.started = append(b.started, g)
	return b.err()
}

func (b *mockBackend) RecordTurn(r *core.TurnRecord) error {
	b.turns = append(b.turns, *r)
	return b.err()
}

func (b *mockBackend) EndGame(s *core.GameSummary) error {
	b.ended = append(b.ended, *s)
	return b.err()
}

func (b *mockBackend) err() error {
	if b.failAll {
		return errors.New("disk full")
	}
	return nil
}

var _ storage.Backend = (*mockBackend)(nil)

type mockSink struct{ records []core.TurnRecord }

func (s *mockSink) WriteTurn(r *core.TurnRecord) error {
	s.records = append(s.records, *r)
	return nil
}

type failingSink struct{ calls int }

func (s *failingSink) WriteTurn(*core.TurnRecord) error {
	s.calls++
	return errors.New("sink down")
}

type scriptedStrategy struct {
	started int
	turns   []strategy.Turn
	onTurn  func(*strategy.Submitter) error
}

func (s *scriptedStrategy) OnGameStart(*core.Game, *stats.GameStats) error {
	s.started++
	return nil
}

func (s *scriptedStrategy) OnTurn(t strategy.Turn, _ *stats.GameStats, out *strategy.Submitter) error {
	s.turns = append(s.turns, t)
	if s.onTurn != nil {
		return s.onTurn(out)
	}
	return nil
}

type fixture struct {
	svc     *Service
	out     *bytes.Buffer
	logs    *bytes.Buffer
	backend *mockBackend
	sink    *mockSink
	strat   *scriptedStrategy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		out:     &bytes.Buffer{},
		logs:    &bytes.Buffer{},
		backend: &mockBackend{},
		sink:    &mockSink{},
		strat:   &scriptedStrategy{},
	}
	f.svc = NewService(Dependencies{
		Strategy: f.strat,
		Stats:    stats.New(stats.Options{}),
		Out:      engineio.NewLineWriter(f.out),
		Logger:   slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Now:      func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) },
	}, game.NewContext())
	f.svc.SetBackend(f.backend)
	f.svc.AddTurnSink(f.sink)
	return f
}

func classify[T parser.Message](t *testing.T, line string) T {
	t.Helper()
	msg, ok := parser.Classify([]byte(line)).(T)
	require.True(t, ok, "unexpected classification for %s", line)
	return msg
}

func (f *fixture) init(t *testing.T) {
	t.Helper()
	require.NoError(t, f.svc.OnInit(context.Background(), classify[*parser.InitMessage](t, `{"timingAndReplay":{"replaySave":1}}`)))
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(Dependencies{}, game.NewContext())

	assert.Equal(t, DefaultSubPhases, svc.deps.SubPhases)
	assert.IsType(t, strategy.Default{}, svc.deps.Strategy)
	assert.NotNil(t, svc.Stats())
	assert.IsType(t, storage.Nop{}, svc.backend)
}

func TestOnInit_ResetsAndStarts(t *testing.T) {
	f := newFixture(t)
	f.svc.Stats().ArmyTally.TotalCount = 9
	f.svc.Stats().BreachList = append(f.svc.Stats().BreachList, core.Position{X: 1, Y: 1})

	f.init(t)

	assert.Zero(t, f.svc.Stats().ArmyTally.TotalCount)
	assert.Empty(t, f.svc.Stats().BreachList)
	assert.Equal(t, 1, f.strat.started)
	require.Len(t, f.backend.started, 1)
	assert.NotEmpty(t, f.backend.started[0].ID)
	assert.Equal(t, f.backend.started[0].ID, f.svc.Context().GameID())
	assert.Empty(t, f.out.String(), "initialization writes nothing to the engine")
}

func TestOnInit_SecondInitClosesPreviousGame(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	first := f.svc.Context().GameID()

	f.init(t)

	require.Len(t, f.backend.ended, 1)
	assert.Equal(t, first, f.backend.ended[0].GameID)
	require.Len(t, f.backend.started, 2)
	assert.NotEqual(t, first, f.svc.Context().GameID())
}

func TestOnBuild_DefaultStrategyWritesTwoLines(t *testing.T) {
	f := newFixture(t)
	f.svc.deps.Strategy = strategy.Default{}
	f.init(t)

	require.NoError(t, f.svc.OnBuild(context.Background(), classify[*parser.BuildMessage](t, `{"turnInfo":[0,0,-1]}`)))

	assert.Equal(t, "\n\n", f.out.String())
	assert.Equal(t, 1, f.svc.Context().TurnsPlayed())
}

func TestOnBuild_PassesTurnToStrategy(t *testing.T) {
	f := newFixture(t)
	f.strat.onTurn = func(out *strategy.Submitter) error {
		return out.SendPlacements([]core.Placement{{UnitType: core.UnitPing, At: core.Position{X: 13, Y: 0}}})
	}
	f.init(t)

	line := `{"turnInfo":[0,3,-1],"p1Stats":[30,5]}`
	require.NoError(t, f.svc.OnBuild(context.Background(), classify[*parser.BuildMessage](t, line)))

	require.Len(t, f.strat.turns, 1)
	turn := f.strat.turns[0]
	assert.Equal(t, 3, turn.Info.Turn)
	assert.JSONEq(t, line, string(turn.State))
	assert.Equal(t, f.svc.Context().GameID(), turn.Game.ID)
	assert.Equal(t, "[[\"PI\",13,0]]\n\n", f.out.String())
}

func TestOnBuild_StrategyFailureStillWritesTwoLines(t *testing.T) {
	tests := []struct {
		name   string
		onTurn func(*strategy.Submitter) error
	}{
		{"error", func(*strategy.Submitter) error { return errors.New("no idea") }},
		{"panic", func(*strategy.Submitter) error { panic("bad index") }},
		{"error after one line", func(out *strategy.Submitter) error {
			_ = out.Send("[]")
			return errors.New("gave up")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.strat.onTurn = tt.onTurn
			f.init(t)

			err := f.svc.OnBuild(context.Background(), classify[*parser.BuildMessage](t, `{"turnInfo":[0,1,-1]}`))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "turn 1")
			assert.Equal(t, 2, strings.Count(f.out.String(), "\n"))
		})
	}
}

func TestPadTurn(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.PadTurn(classify[*parser.BuildMessage](t, `{"turnInfo":[0,0,-1]}`)))

	assert.Equal(t, "\n\n", f.out.String())
	assert.Empty(t, f.strat.turns)
	assert.Contains(t, f.logs.String(), "Build phase before initialization")
}

func TestOnAction_EMPSpawnScenario(t *testing.T) {
	f := newFixture(t)
	f.init(t)

	msg := classify[*parser.ActionMessage](t, `{"turnInfo":[1,0,4],"events":{"spawn":[[[10,15],4,7,2]]}}`)
	require.NoError(t, f.svc.OnAction(context.Background(), msg))

	assert.Equal(t, core.ArmyTally{TotalCount: 1, TotalCost: 3, PingCount: 0, EMPCount: 1, ScramblerCount: 0}, f.svc.Stats().ArmyTally)
	assert.Equal(t, []core.Position{{X: 10, Y: 15}}, f.svc.Stats().EnemySpawnCoords)

	require.Len(t, f.backend.turns, 1)
	rec := f.backend.turns[0]
	assert.Equal(t, f.svc.Context().GameID(), rec.GameID)
	assert.Equal(t, 4, rec.Turn.Frame)
	assert.Len(t, rec.Spawns, 1)
	assert.Equal(t, 3, rec.Tally.TotalCost)
	require.Len(t, f.sink.records, 1)
	assert.Equal(t, rec.Tally, f.sink.records[0].Tally)
}

func TestOnAction_FailingSinkDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	failing := &failingSink{}
	second := &mockSink{}
	f.svc.AddTurnSink(failing)
	f.svc.AddTurnSink(second)
	f.svc.AddTurnSink(nil)
	f.init(t)

	msg := classify[*parser.ActionMessage](t, `{"turnInfo":[1,0,0]}`)
	require.NoError(t, f.svc.OnAction(context.Background(), msg))

	assert.Len(t, f.sink.records, 1)
	assert.Equal(t, 1, failing.calls)
	assert.Len(t, second.records, 1)
	assert.Contains(t, f.logs.String(), "Turn sink failed")
}

func TestOnAction_AllCategories(t *testing.T) {
	f := newFixture(t)
	f.init(t)

	msg := classify[*parser.ActionMessage](t, `{"turnInfo":[1,2,0],"events":{
		"death":[[[3,7],0,"1",1,false],[[3,7],0,"2",1,true],[[3,7],0,"3",2,false],[[12,20],3,"4",2,false]],
		"spawn":[[[5,16],3,"5",2],[[5,16],5,"6",2],[[5,10],3,"7",1],[[6,20],1,"8",2]],
		"breach":[[[0,13],1,3,"9",2],[[0,13],1,3,"10",2],[[27,14],1,3,"11",1]],
		"attack":[[[1,1],[2,2],10,3,"12","13",1],[[1,1]]]
	}}`)
	require.NoError(t, f.svc.OnAction(context.Background(), msg))

	st := f.svc.Stats()
	assert.Equal(t, 2, st.DeathTally[core.Position{X: 3, Y: 7}])
	assert.Equal(t, 1, st.KillTally[core.Position{X: 12, Y: 20}])
	assert.Len(t, st.KillTally, 1)
	assert.Equal(t, core.ArmyTally{TotalCount: 2, TotalCost: 2, PingCount: 1, ScramblerCount: 1}, st.ArmyTally)
	assert.Equal(t, []core.Position{{X: 5, Y: 16}}, st.EnemySpawnCoords)
	assert.Equal(t, []core.Position{{X: 0, Y: 13}}, st.BreachList)

	rec := f.backend.turns[0]
	assert.Len(t, rec.Deaths, 4)
	assert.Len(t, rec.Spawns, 4)
	assert.Len(t, rec.Breaches, 3)
	assert.Equal(t, 2, rec.Attacks)
}

func TestOnAction_BadEventSkipped(t *testing.T) {
	f := newFixture(t)
	f.init(t)

	msg := classify[*parser.ActionMessage](t, `{"turnInfo":[1,1,0],"events":{"spawn":[
		[[10,15],"EMP",7,2],
		[[11,15],3,8,2]
	]}}`)
	require.NoError(t, f.svc.OnAction(context.Background(), msg))

	assert.Equal(t, 1, f.svc.Stats().ArmyTally.TotalCount)
	assert.Equal(t, 1, f.svc.Stats().ArmyTally.PingCount)
	assert.Contains(t, f.logs.String(), "Skipping event")
	assert.Contains(t, f.logs.String(), "category=spawn")
	assert.Contains(t, f.logs.String(), "undecodable events")
}

func TestOnAction_RecorderFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.backend.failAll = true
	f.init(t)

	msg := classify[*parser.ActionMessage](t, `{"turnInfo":[1,1,0],"events":{"spawn":[[[10,15],3,7,2]]}}`)
	require.NoError(t, f.svc.OnAction(context.Background(), msg))

	assert.Equal(t, 1, f.svc.Stats().ArmyTally.TotalCount)
	assert.Contains(t, f.logs.String(), "Recorder failed to record turn")
}

func TestOnAction_DedupAcrossTurns(t *testing.T) {
	f := newFixture(t)
	f.init(t)

	for turn := 0; turn < 3; turn++ {
		msg := classify[*parser.ActionMessage](t, `{"turnInfo":[1,0,0],"events":{"breach":[[[4,5],1]],"spawn":[[[4,20],3,"x",2]]}}`)
		require.NoError(t, f.svc.OnAction(context.Background(), msg))
	}

	assert.Len(t, f.svc.Stats().BreachList, 1)
	assert.Len(t, f.svc.Stats().EnemySpawnCoords, 1)
	assert.Equal(t, 3, f.svc.Stats().ArmyTally.TotalCount)
}

func TestOnEnd_RecordsSummary(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	require.NoError(t, f.svc.OnBuild(context.Background(), classify[*parser.BuildMessage](t, `{"turnInfo":[0,0,-1]}`)))
	require.NoError(t, f.svc.OnAction(context.Background(), classify[*parser.ActionMessage](t,
		`{"turnInfo":[1,0,0],"events":{"death":[[[3,7],0,"1",1,false]]}}`)))

	require.NoError(t, f.svc.OnEnd(context.Background(), classify[*parser.EndMessage](t, `{"turnInfo":[2,1,-1]}`)))

	require.Len(t, f.backend.ended, 1)
	sum := f.backend.ended[0]
	assert.Equal(t, f.svc.Context().GameID(), sum.GameID)
	assert.Equal(t, 1, sum.Turns)
	assert.Equal(t, map[string]int{"3,7": 1}, sum.DeathTally)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), sum.EndTime)
}

type exportingBackend struct {
	mockBackend
	path string
}

func (b *exportingBackend) ExportedFilePath() string { return b.path }

type recordingUploader struct {
	paths []string
	metas []core.UploadMetadata
	ctxs  []context.Context
	fail  bool
}

func (u *recordingUploader) Upload(ctx context.Context, path string, meta core.UploadMetadata) error {
	u.ctxs = append(u.ctxs, ctx)
	u.paths = append(u.paths, path)
	u.metas = append(u.metas, meta)
	if u.fail {
		return errors.New("server down")
	}
	return nil
}

func TestOnEnd_UploadsExport(t *testing.T) {
	f := newFixture(t)
	backend := &exportingBackend{path: "/replays/game_1.json.gz"}
	up := &recordingUploader{}
	f.svc.SetBackend(backend)
	f.svc.SetUploader(up)
	f.init(t)
	require.NoError(t, f.svc.OnBuild(context.Background(), classify[*parser.BuildMessage](t, `{"turnInfo":[0,0,-1]}`)))

	require.NoError(t, f.svc.OnEnd(context.Background(), classify[*parser.EndMessage](t, `{"turnInfo":[2,0,-1]}`)))

	require.Equal(t, []string{"/replays/game_1.json.gz"}, up.paths)
	assert.Equal(t, f.svc.Context().GameID(), up.metas[0].GameID)
	assert.Equal(t, 1, up.metas[0].Turns)
	assert.Contains(t, f.logs.String(), "Uploaded game")
}

type ctxKey struct{}

func TestOnEnd_UploadUsesCallerContext(t *testing.T) {
	f := newFixture(t)
	up := &recordingUploader{}
	f.svc.SetBackend(&exportingBackend{path: "/replays/game_1.json"})
	f.svc.SetUploader(up)
	f.init(t)

	ctx := context.WithValue(context.Background(), ctxKey{}, "session")
	require.NoError(t, f.svc.OnEnd(ctx, classify[*parser.EndMessage](t, `{"turnInfo":[2,0,-1]}`)))

	require.Len(t, up.ctxs, 1)
	assert.Equal(t, "session", up.ctxs[0].Value(ctxKey{}))
}

func TestOnEnd_UploadSkipped(t *testing.T) {
	t.Run("recorder without export", func(t *testing.T) {
		f := newFixture(t)
		up := &recordingUploader{}
		f.svc.SetUploader(up)
		f.init(t)
		require.NoError(t, f.svc.OnEnd(context.Background(), classify[*parser.EndMessage](t, `{"turnInfo":[2,0,-1]}`)))
		assert.Empty(t, up.paths)
	})

	t.Run("recorder failed", func(t *testing.T) {
		f := newFixture(t)
		backend := &exportingBackend{path: "/replays/game_1.json"}
		backend.failAll = true
		up := &recordingUploader{}
		f.svc.SetBackend(backend)
		f.svc.SetUploader(up)
		f.init(t)
		require.NoError(t, f.svc.OnEnd(context.Background(), classify[*parser.EndMessage](t, `{"turnInfo":[2,0,-1]}`)))
		assert.Empty(t, up.paths)
	})

	t.Run("upload failure is only logged", func(t *testing.T) {
		f := newFixture(t)
		up := &recordingUploader{fail: true}
		f.svc.SetBackend(&exportingBackend{path: "/replays/game_1.json"})
		f.svc.SetUploader(up)
		f.init(t)
		require.NoError(t, f.svc.OnEnd(context.Background(), classify[*parser.EndMessage](t, `{"turnInfo":[2,0,-1]}`)))
		assert.Len(t, up.paths, 1)
		assert.Contains(t, f.logs.String(), "Failed to upload game")
	})
}

func TestOnEnd_WithoutGame(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.OnEnd(context.Background(), classify[*parser.EndMessage](t, `{"turnInfo":[2]}`)))
	assert.Empty(t, f.backend.ended)
}

func TestRegister_RoutesThroughDispatcher(t *testing.T) {
	f := newFixture(t)
	f.svc.deps.Strategy = strategy.Default{}

	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	f.svc.Register(d)

	for _, k := range []parser.Kind{parser.KindInit, parser.KindBuild, parser.KindAction, parser.KindEnd} {
		assert.True(t, d.HasHandler(k), k.String())
	}
	assert.False(t, d.HasHandler(parser.KindMalformed))

	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, parser.Classify([]byte(`{"replaySave":0}`))))
	require.NoError(t, d.Dispatch(ctx, parser.Classify([]byte(`{"turnInfo":[0,0,-1]}`))))
	require.NoError(t, d.Dispatch(ctx, parser.Classify([]byte(`{"turnInfo":[1,0,0],"events":{"spawn":[[[1,14],4,1,2]]}}`))))
	require.NoError(t, d.Dispatch(ctx, parser.Classify([]byte(`{"turnInfo":[2,0,-1]}`))))

	assert.Equal(t, "\n\n", f.out.String())
	assert.Equal(t, 1, f.svc.Stats().ArmyTally.EMPCount)
	assert.Len(t, f.backend.ended, 1)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
