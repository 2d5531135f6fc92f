// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/skunkworks/algocore/pkg/core"
)

// GameExport is the root JSON structure of an exported game.
type GameExport struct {
	Game    core.Game         `json:"game"`
	Turns   []core.TurnRecord `json:"turns"`
	Summary *core.GameSummary `json:"summary"`
}

// exportJSON writes the game to OutputDir. Callers hold b.mu.
func (b *Backend) exportJSON(s *core.GameSummary) error {
	export := GameExport{
		Game:    *b.game,
		Turns:   b.turns,
		Summary: s,
	}
	if export.Turns == nil {
		export.Turns = make([]core.TurnRecord, 0)
	}

	name := strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(b.game.ID)

	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("game_%s.json.gz", name)
	} else {
		filename = fmt.Sprintf("game_%s.json", name)
	}

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func writeJSON(path string, data GameExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data GameExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return gzWriter.Close()
}
