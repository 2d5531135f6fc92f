package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/skunkworks/algocore/pkg/engineio"
)

var flagReplayOut string

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Feed a captured protocol log through the loop",
	Long: `Replay reads a file holding one engine message per line and runs it
through the same loop as a live game. Outbound commands are written to
--out, or discarded when no output file is given.

Examples:
  algocore replay game.log
  algocore replay game.log --out commands.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&flagReplayOut, "out", "", "File receiving the outbound commands")
}

func runReplay(cmd *cobra.Command, args []string) error {
	return replayFile(cmd.Context(), args[0], flagReplayOut, cmd.ErrOrStderr())
}

func replayFile(ctx context.Context, inPath, outPath string, stderr io.Writer) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer in.Close()

	var out engineio.Writer = engineio.Discard{}
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = engineio.NewLineWriter(f)
	}

	s, err := newSession(ctx, sessionOptions{
		ConfigDir: flagConfigDir,
		LogLevel:  flagLogLevel,
		In:        in,
		Out:       out,
		Stderr:    stderr,
	})
	if err != nil {
		return err
	}
	defer s.close()

	return s.run(ctx)
}
