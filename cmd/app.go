package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"fatgo/config"
	"fatgo/events"
	"fatgo/host"
	"fatgo/logger"
	"fatgo/notify"
	"fatgo/presenter"
	"fatgo/runner"
	"fatgo/runner/storage"
)

// app holds the wired components shared by every command
type app struct {
	cfg          *config.Config
	log          *zap.Logger
	store        *storage.Storage
	broker       *events.EventBroker
	viewer       *presenter.Viewer
	orchestrator *runner.Orchestrator
	commands     *host.Commands
	workspace    runner.WorkspaceResolver
}

// newApp loads configuration and wires the pipeline. Notifications go to out.
func newApp(out io.Writer, withHistory bool) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose && cfg.Log.Level == "info" {
		cfg.Log.Level = "debug"
	}
	logger.Init(&cfg.Log)
	log := logger.L()

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		broker:   events.NewBroker(log.Named("events")),
		commands: host.NewCommands(),
	}

	root := workspace
	if root == "" {
		root = cfg.Workspace
	}
	if root == "" {
		root = cwd
	}
	a.workspace = func() runner.WorkspaceContext {
		return runner.ResolveWorkspace(cwd, root)
	}

	if withHistory && !cfg.Database.Disabled {
		dbPath := cfg.Database.Path
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		a.store, err = storage.NewStorage(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
	}

	shell := runner.NewShellRunner(cfg.Stream, log.Named("process"))

	viewerOpener, err := presenter.NewOpener(cfg.Viewer.OpenCommand, cwd, shell)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.viewer = presenter.NewViewer(cfg.Viewer.Dir, viewerOpener, log.Named("viewer"))

	opts := runner.Options{
		Runner:          shell,
		Stages:          cfg.Stages(),
		Progress:        runner.MultiSink{notify.NewTerminal(out, verbose), a.broker},
		Presenter:       a.viewer,
		Storage:         a.store,
		VerifyArtifacts: cfg.VerifyArtifacts,
		Logger:          log.Named("pipeline"),
	}
	reportOpener, err := presenter.NewOpener(cfg.Report.OpenCommand, cwd, shell)
	if err != nil {
		a.Close()
		return nil, err
	}
	if reportOpener != nil {
		opts.Opener = reportOpener
	}
	a.orchestrator = runner.New(opts)

	host.Bind(a.commands.Register(host.AnalyzeCommand), a.orchestrator, a.workspace)
	return a, nil
}

// Close releases the run history database and flushes logs
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("failed to close storage", zap.Error(err))
		}
	}
	logger.Sync()
}
