package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skunkworks/algocore/pkg/engineio"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Play one game over stdin/stdout",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSession(ctx, sessionOptions{
		ConfigDir: flagConfigDir,
		LogLevel:  flagLogLevel,
		In:        os.Stdin,
		Out:       engineio.NewLineWriter(os.Stdout),
		Stderr:    os.Stderr,
	})
	if err != nil {
		return err
	}
	defer s.close()

	err = s.run(ctx)
	if errors.Is(err, context.Canceled) {
		s.logger.Info("Interrupted, shutting down")
		return nil
	}
	return err
}
