package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/skunkworks/algocore/internal/config"
	"github.com/skunkworks/algocore/internal/loop"
)

const capturedGame = `{"replaySave":0,"p1Units":[]}
{"turnInfo":[0,0,-1]}
{"turnInfo":[1,0,0],"events":{"spawn":[[[10,15],4,"7",2],[[11,15],3,8,2]],"death":[],"breach":[],"attack":[]}}
{"turnInfo":[1,0,1],"events":{"breach":[[[13,0],1,3,"8",2]]}}
{"turnInfo":[0,1,-1]}
{"turnInfo":[2,1,-1]}
`

func setupReplay(t *testing.T, cfg string) (dir, in string) {
	t.Helper()
	t.Cleanup(viper.Reset)

	dir = t.TempDir()
	if cfg != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(cfg), 0o644))
	}
	in = filepath.Join(dir, "game.log")
	require.NoError(t, os.WriteFile(in, []byte(capturedGame), 0o644))

	prev := flagConfigDir
	flagConfigDir = dir
	t.Cleanup(func() { flagConfigDir = prev })
	return dir, in
}

func TestReplay_WritesCommands(t *testing.T) {
	dir, in := setupReplay(t, "")
	out := filepath.Join(dir, "commands.txt")

	var stderr bytes.Buffer
	require.NoError(t, replayFile(context.Background(), in, out, &stderr))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "\n\n\n\n", string(data), "two empty commands per build phase")

	logs := stderr.String()
	assert.Contains(t, logs, "algocore "+Version+" starting at")
	assert.Contains(t, logs, "using defaults")
	assert.Contains(t, logs, "Loop finished")
	assert.Contains(t, logs, "state=terminated")
}

func TestReplay_DiscardsWithoutOut(t *testing.T) {
	_, in := setupReplay(t, "")

	var stderr bytes.Buffer
	require.NoError(t, replayFile(context.Background(), in, "", &stderr))
	assert.Contains(t, stderr.String(), "Loop finished")
}

func TestReplay_TruncatedLog(t *testing.T) {
	dir, _ := setupReplay(t, "")
	in := filepath.Join(dir, "truncated.log")
	require.NoError(t, os.WriteFile(in, []byte(`{"replaySave":0}`+"\n"+`{"turnInfo":[0,0,-1]}`+"\n"), 0o644))

	var stderr bytes.Buffer
	err := replayFile(context.Background(), in, "", &stderr)
	assert.ErrorIs(t, err, loop.ErrTransportClosed)
}

func TestReplay_MissingFile(t *testing.T) {
	setupReplay(t, "")

	err := replayFile(context.Background(), filepath.Join(t.TempDir(), "nope.log"), "", &bytes.Buffer{})
	assert.ErrorContains(t, err, "open replay file")
}

func TestReplay_RecordsToMemoryBackend(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "replays")
	cfg, err := json.Marshal(map[string]any{
		"logLevel": "debug",
		"storage": map[string]any{
			"type": "memory",
			"memory": map[string]any{
				"outputDir":      outDir,
				"compressOutput": false,
			},
		},
	})
	require.NoError(t, err)
	_, in := setupReplay(t, string(cfg))

	var stderr bytes.Buffer
	require.NoError(t, replayFile(context.Background(), in, "", &stderr))
	assert.Contains(t, stderr.String(), "Storage backend initialized")

	files, err := filepath.Glob(filepath.Join(outDir, "game_*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)

	var export struct {
		Turns   []json.RawMessage `json:"turns"`
		Summary struct {
			Turns     int `json:"turns"`
			ArmyTally struct {
				TotalCount int `json:"total_count"`
				TotalCost  int `json:"total_cost"`
			} `json:"armyTally"`
			BreachList []json.RawMessage `json:"breachList"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Len(t, export.Turns, 2, "one record per action frame")
	assert.Equal(t, 2, export.Summary.ArmyTally.TotalCount)
	assert.Equal(t, 4, export.Summary.ArmyTally.TotalCost)
	assert.Len(t, export.Summary.BreachList, 1)
}

func TestReplay_UnknownStorageFallsBack(t *testing.T) {
	_, in := setupReplay(t, `{"storage":{"type":"cassette"}}`)

	var stderr bytes.Buffer
	require.NoError(t, replayFile(context.Background(), in, "", &stderr))
	assert.Contains(t, stderr.String(), "recording disabled")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)
	assert.True(t, strings.HasPrefix(out.String(), "algocore "+Version))
}

func TestNewZerolog_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := newZerolog(&buf, "WARNING")
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	log = newZerolog(&buf, "bogus")
	log.Info().Msg("info")
	assert.Contains(t, buf.String(), "info")
}

func TestReplay_MetricsFile(t *testing.T) {
	prev := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	metricsPath := filepath.Join(t.TempDir(), "otel", "metrics.json")
	cfg, err := json.Marshal(map[string]any{
		"otel": map[string]any{"enabled": true, "file": metricsPath, "exportInterval": "1h"},
	})
	require.NoError(t, err)
	_, in := setupReplay(t, string(cfg))

	require.NoError(t, replayFile(context.Background(), in, "", &bytes.Buffer{}))

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dispatcher.messages.processed")
	assert.Contains(t, string(data), "dispatcher.message.duration")
}

func TestReplay_StatusFile(t *testing.T) {
	statusPath := filepath.Join(t.TempDir(), "status.json")
	cfg, err := json.Marshal(map[string]any{
		"status": map[string]any{"enabled": true, "path": statusPath, "interval": "1h"},
	})
	require.NoError(t, err)
	_, in := setupReplay(t, string(cfg))

	require.NoError(t, replayFile(context.Background(), in, "", &bytes.Buffer{}))

	data, err := os.ReadFile(statusPath)
	require.NoError(t, err)
	var status struct {
		ActionFrames int `json:"actionFrames"`
		Breaches     int `json:"breaches"`
	}
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, 2, status.ActionFrames)
	assert.Equal(t, 1, status.Breaches)
}
