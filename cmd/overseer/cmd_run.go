package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"overseer/internal/orchestrator"
	"overseer/internal/types"
)

var flagIterations int

var runCmd = &cobra.Command{
	Use:   "run <task-id>",
	Short: "Execute one task through the supervised iteration loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := signalContext()
		defer cancel()

		orch := a.orchestratorFor()
		go func() {
			<-ctx.Done()
			orch.RequestCancel()
		}()

		res, err := orch.ExecuteTask(ctx, taskID, flagIterations)
		if err != nil {
			return err
		}
		printResult(taskID, res)
		if code := exitCodeForResult(res); code != exitOK {
			return exitStatus{code: code}
		}
		return nil
	},
}

var runProjectCmd = &cobra.Command{
	Use:   "run-project <project-id>...",
	Short: "Run every pending task of the given projects in parallel workers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var projectIDs []int64
		for _, arg := range args {
			id, err := parseID(arg)
			if err != nil {
				return err
			}
			projectIDs = append(projectIDs, id)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := signalContext()
		defer cancel()

		runner := orchestrator.NewRunner(a.store, func(projectID int64) *orchestrator.Orchestrator {
			return a.orchestratorFor()
		})
		if err := runner.RunProjects(ctx, projectIDs); err != nil {
			return err
		}

		code := exitOK
		for taskID, res := range runner.Results() {
			printResult(taskID, res)
			if c := exitCodeForResult(res); c > code {
				code = c
			}
		}
		if code != exitOK {
			return exitStatus{code: code}
		}
		return nil
	},
}

func printResult(taskID int64, res *types.TaskResult) {
	fmt.Printf("Task #%d: %s (iterations %d, quality %d, confidence %d)\n",
		taskID, res.Status, res.Iterations, res.Quality, res.Confidence)
	switch res.Status {
	case types.TaskPaused, types.TaskEscalated:
		if res.BreakpointID != 0 {
			fmt.Printf("  breakpoint #%d; resolve it with 'overseer breakpoint resolve %d <resolution>'\n",
				res.BreakpointID, res.BreakpointID)
		}
	case types.TaskWaitingUser:
		fmt.Printf("  %s\n", res.Clarification)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func init() {
	runCmd.Flags().IntVar(&flagIterations, "iterations", 0, "max iterations (0 uses the configured default)")
}
