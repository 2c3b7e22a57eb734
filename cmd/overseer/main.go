// Package main provides the overseer CLI entry point: entity commands,
// the task runner, and the interactive REPL.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"overseer/internal/agent"
	"overseer/internal/config"
	"overseer/internal/events"
	"overseer/internal/logging"
	"overseer/internal/memory"
	"overseer/internal/model"
	"overseer/internal/orchestrator"
	"overseer/internal/session"
	"overseer/internal/store"
	"overseer/internal/types"
	"overseer/internal/validation"
)

// Exit codes.
const (
	exitOK         = 0
	exitUser       = 1
	exitValidation = 2
	exitStorage    = 3
	exitAgent      = 4
	exitPartial    = 5 // escalated or paused; not an error, not complete
)

var (
	configPath string
	workspace  string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "overseer",
	Short: "overseer - supervised code-agent orchestrator",
	Long: `overseer drives an implementer agent through budgeted, validated
task iterations. Work is organized as projects with epics, stories,
tasks, subtasks, and milestones; every response passes a validation
pipeline before the loop proceeds.

Run without arguments to start the interactive REPL.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive()
	},
}

// app bundles everything a command needs after boot.
type app struct {
	cfg      config.Config
	store    *store.Store
	agent    types.AgentPort
	model    types.ModelPort
	sessions *session.Manager
	bus      *events.Bus
}

// openApp loads config, initializes file logging, opens the store, and
// constructs the ports from their registries.
func openApp() (*app, error) {
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace: %w", err)
		}
		workspace = wd
	}

	path := configPath
	if path == "" {
		path = filepath.Join(workspace, ".overseer", "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if err := logging.Initialize(workspace, logging.Settings{DebugMode: verbose}); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	st, err := store.Open(filepath.Join(workspace, ".overseer", "overseer.db"))
	if err != nil {
		return nil, err
	}

	ag, err := agent.New(cfg.Agent)
	if err != nil {
		st.Close()
		return nil, err
	}
	mdl, err := model.New(cfg.Model)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:      *cfg,
		store:    st,
		agent:    ag,
		model:    mdl,
		sessions: session.NewManager(st, mdl),
		bus:      events.NewBus(events.DefaultQueueDepth),
	}, nil
}

func (a *app) close() {
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
}

// orchestratorFor builds a per-project orchestrator loop.
func (a *app) orchestratorFor() *orchestrator.Orchestrator {
	windows := memory.NewWindowManager(a.cfg.Model.ContextWindow, a.cfg.Context.Thresholds)
	pipeline := validation.NewPipeline(a.cfg.Validation, a.store, a.model)
	return orchestrator.New(a.cfg, a.store, a.agent, a.sessions, pipeline, windows, a.bus, nil)
}

// exitStatus carries a non-zero exit code out of a RunE so deferred
// cleanup still runs before the process exits.
type exitStatus struct {
	code int
}

func (e exitStatus) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// exitCodeFor maps tagged errors onto the documented exit codes.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var (
		userErr    *types.UserError
		valErr     *types.ValidationError
		storageErr *types.StorageFault
		agentErr   *types.AgentFault
	)
	switch {
	case errors.As(err, &userErr):
		return exitUser
	case errors.As(err, &valErr):
		return exitValidation
	case errors.As(err, &storageErr):
		return exitStorage
	case errors.As(err, &agentErr):
		return exitAgent
	}
	return exitUser
}

// exitCodeForResult maps a terminal task status onto an exit code.
func exitCodeForResult(res *types.TaskResult) int {
	switch res.Status {
	case types.TaskCompleted:
		return exitOK
	case types.TaskEscalated, types.TaskPaused, types.TaskWaitingUser, types.TaskBlocked:
		return exitPartial
	case types.TaskFailed, types.TaskCancelled:
		return exitUser
	}
	return exitOK
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (defaults to <workspace>/.overseer/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace directory (defaults to cwd)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(interactiveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runProjectCmd)
	addEntityCommands(rootCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(breakpointsCmd)

	if err := rootCmd.Execute(); err != nil {
		var es exitStatus
		if errors.As(err, &es) {
			os.Exit(es.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}
