package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/skunkworks/algocore/internal/api"
	"github.com/skunkworks/algocore/internal/config"
	"github.com/skunkworks/algocore/internal/dispatcher"
	"github.com/skunkworks/algocore/internal/game"
	"github.com/skunkworks/algocore/internal/handlers"
	"github.com/skunkworks/algocore/internal/influx"
	"github.com/skunkworks/algocore/internal/logging"
	"github.com/skunkworks/algocore/internal/loop"
	"github.com/skunkworks/algocore/internal/monitor"
	appotel "github.com/skunkworks/algocore/internal/otel"
	"github.com/skunkworks/algocore/internal/stats"
	"github.com/skunkworks/algocore/internal/storage"
	"github.com/skunkworks/algocore/internal/strategy"
	"github.com/skunkworks/algocore/pkg/engineio"
)

const shutdownTimeout = 5 * time.Second

type sessionOptions struct {
	ConfigDir string
	LogLevel  string
	In        io.Reader
	Out       engineio.Writer
	Stderr    io.Writer
}

// session is one process lifetime: the ambient stack, the recorders and
// the loop they serve.
type session struct {
	start   time.Time
	logs    *logging.SlogManager
	logger  *slog.Logger
	logFile *os.File

	telemetry   *appotel.Provider
	metricsFile *os.File

	backend storage.Backend
	influx  *influx.Manager
	monitor *monitor.Service
	svc     *handlers.Service
	ctrl    *loop.Controller
}

func newSession(ctx context.Context, opts sessionOptions) (*session, error) {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	s := &session{start: time.Now()}

	cfgErr := config.Load(opts.ConfigDir)
	if cfgErr != nil && !errors.Is(cfgErr, config.ErrConfigNotFound) {
		return nil, cfgErr
	}

	logCfg := config.GetLogConfig()
	if opts.LogLevel != "" {
		logCfg.Level = opts.LogLevel
	}

	gctx := game.NewContext()
	logOpts := logging.Options{
		Level:   logCfg.Level,
		Console: opts.Stderr,
		Game:    gctx,
	}
	if logCfg.ToFile {
		f, err := logging.OpenLogFile(logCfg.LogsDir, appName, s.start)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "Failed to open log file: %v\n", err)
		} else {
			s.logFile = f
			logOpts.File = f
		}
	}
	if logCfg.GraylogEnabled {
		logOpts.GraylogAddress = logCfg.GraylogAddress
	}

	s.logs = logging.NewSlogManager()
	gelfErr := s.logs.Setup(logOpts)
	s.logger = s.logs.Logger()

	logging.Banner(opts.Stderr, appName, Version, s.start)
	if gelfErr != nil {
		s.logger.Warn("Graylog output disabled", "error", gelfErr, "address", logCfg.GraylogAddress)
	}
	if cfgErr != nil {
		s.logger.Warn("Failed to load config, using defaults", "dir", opts.ConfigDir, "file", config.FileName)
	} else {
		s.logger.Info("Loaded config", "dir", opts.ConfigDir)
	}

	zl := newZerolog(opts.Stderr, logCfg.Level)

	s.setupTelemetry(ctx)

	proto := config.GetProtocolConfig()
	s.svc = handlers.NewService(handlers.Dependencies{
		Strategy: strategy.Default{},
		Stats: stats.New(stats.Options{
			LegacyScramblerAccounting: config.LegacyScramblerAccounting(),
		}),
		Out:       opts.Out,
		SubPhases: proto.SubPhases,
		Logger:    s.logger,
	}, gctx)

	s.setupBackend(zl.With().Str("component", "storage").Logger())
	s.setupInflux(ctx, zl.With().Str("component", "influx").Logger())
	s.setupMonitor(gctx)
	s.setupUpload(ctx)

	d, err := dispatcher.New(logging.NewDispatcherLogger(zl.With().Str("component", "dispatcher").Logger()))
	if err != nil {
		s.close()
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	s.svc.Register(d)

	s.ctrl = loop.New(engineio.NewLineReader(opts.In, proto.MaxLineBytes), d, s.svc, s.logger)
	return s, nil
}

// setupBackend installs the configured recorder. Recording is optional, so
// any failure falls back to no recording.
func (s *session) setupBackend(dbLog zerolog.Logger) {
	cfg := config.GetStorageConfig()

	backend, err := storage.NewBackend(cfg, s.logger, dbLog)
	if err != nil {
		s.logger.Error("Failed to create storage backend, recording disabled", "error", err)
		return
	}
	if err := backend.Init(); err != nil {
		s.logger.Error("Failed to initialize storage backend, recording disabled", "type", cfg.Type, "error", err)
		return
	}

	s.backend = backend
	s.svc.SetBackend(backend)
	s.logger.Info("Storage backend initialized", "type", cfg.Type)
}

func (s *session) setupInflux(ctx context.Context, log zerolog.Logger) {
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return
	}

	m := influx.NewManager(log, cfg)
	if err := m.Connect(ctx); err != nil {
		s.logger.Error("Failed to set up InfluxDB, turn metrics disabled", "error", err)
		return
	}

	s.influx = m
	s.svc.AddTurnSink(m)
}

// setupUpload sends exported games to the replay server. Only recorders
// that export a file can be uploaded.
func (s *session) setupUpload(ctx context.Context) {
	cfg := config.GetUploadConfig()
	if !cfg.Enabled {
		return
	}
	if _, ok := s.backend.(storage.Exporter); !ok {
		s.logger.Warn("Upload enabled but the recorder does not export files", "storageType", config.GetStorageConfig().Type)
		return
	}

	client := api.New(cfg.URL, cfg.APIKey, cfg.Tag)
	if err := client.Healthcheck(ctx); err != nil {
		s.logger.Warn("Replay server not reachable, will still try to upload", "url", cfg.URL, "error", err)
	}
	s.svc.SetUploader(client)
}

func (s *session) setupMonitor(gctx *game.Context) {
	cfg := config.GetStatusConfig()
	if !cfg.Enabled {
		return
	}

	m := monitor.NewService(monitor.Dependencies{
		Context:  gctx,
		Backend:  s.backend,
		Logger:   s.logger,
		Path:     cfg.Path,
		Interval: cfg.Interval,
	})
	if err := m.Start(); err != nil {
		s.logger.Error("Failed to start status monitor", "error", err)
		return
	}

	s.monitor = m
	s.svc.AddTurnSink(m)
}

func (s *session) run(ctx context.Context) error {
	err := s.ctrl.Run(ctx)

	summary := s.svc.Summary()
	s.logger.Info("Loop finished",
		"state", s.ctrl.State().String(),
		"messages", s.ctrl.Messages(),
		"malformed", s.ctrl.Malformed(),
		"turns", summary.Turns,
		"breaches", len(summary.Breaches),
		"enemyTotal", summary.Tally.TotalCount,
		"enemyCost", summary.Tally.TotalCost,
		"elapsed", time.Since(s.start).String(),
	)
	return err
}

// setupTelemetry installs the metrics pipeline. Any failure leaves the
// no-op provider in place.
func (s *session) setupTelemetry(ctx context.Context) {
	cfg := config.GetOTelConfig()
	var opts appotel.Options
	if cfg.Enabled && cfg.File != "" {
		f, err := openMetricsFile(cfg.File)
		if err != nil {
			s.logger.Warn("Failed to open metrics file", "path", cfg.File, "error", err)
		} else {
			s.metricsFile = f
			opts.Writer = f
		}
	}

	p, err := appotel.New(ctx, cfg, opts)
	if err != nil {
		s.logger.Warn("Metrics disabled", "error", err)
		cfg.Enabled = false
		p, _ = appotel.New(ctx, cfg, appotel.Options{})
		s.closeMetricsFile()
	}
	s.telemetry = p
	s.logger.Debug("Metrics provider installed", "otelEnabled", p.Enabled(), "endpoint", cfg.Endpoint)
}

func openMetricsFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create metrics dir: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func (s *session) closeMetricsFile() {
	if s.metricsFile != nil {
		_ = s.metricsFile.Close()
		s.metricsFile = nil
	}
}

func (s *session) close() {
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Warn("Failed to close storage backend", "error", err)
		}
	}
	if s.influx != nil {
		if err := s.influx.Close(); err != nil {
			s.logger.Warn("Failed to close InfluxDB", "error", err)
		}
	}
	if s.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn("Failed to flush metrics", "error", err)
		}
		cancel()
	}
	s.closeMetricsFile()
	if err := s.logs.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close log outputs: %v\n", err)
	}
	if s.logFile != nil {
		_ = s.logFile.Close()
	}
}

// newZerolog returns the logger for the database, influx and dispatcher
// diagnostics. Unknown levels fall back to info.
func newZerolog(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(level, "warning") {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
