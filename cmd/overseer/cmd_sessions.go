package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"overseer/internal/types"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions <project-id>",
	Short: "List sessions for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		sessions, err := a.store.ListSessionsForMilestone(projectID, nil)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Printf("%s  %-10s tokens=%-8d turns=%d\n", s.ID, s.Status, s.TotalTokens, s.TotalTurns)
			if s.Summary != "" {
				fmt.Printf("  %s\n", firstSummaryLine(s.Summary))
			}
		}
		return nil
	},
}

var breakpointsCmd = &cobra.Command{
	Use:   "breakpoint",
	Short: "Inspect and resolve breakpoints",
}

var breakpointShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show the unresolved breakpoint for a task",
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

		bp, err := a.store.UnresolvedBreakpoint(taskID)
		if err != nil {
			return err
		}
		if bp == nil {
			fmt.Printf("Task #%d has no unresolved breakpoint\n", taskID)
			return nil
		}
		fmt.Printf("Breakpoint #%d on task #%d: %s (triggered %s)\n",
			bp.ID, bp.TaskID, bp.Reason, bp.TriggeredAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var breakpointResolveCmd = &cobra.Command{
	Use:   "resolve <breakpoint-id> <proceed|retry|clarify|escalate|abort>",
	Short: "Resolve a breakpoint so the task can advance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		resolution, err := parseResolution(args[1])
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.ResolveBreakpoint(id, resolution); err != nil {
			return err
		}
		fmt.Printf("Breakpoint #%d resolved: %s\n", id, resolution)
		return nil
	},
}

func parseResolution(s string) (types.Resolution, error) {
	switch strings.ToUpper(s) {
	case "PROCEED":
		return types.ResolveProceed, nil
	case "RETRY":
		return types.ResolveRetry, nil
	case "CLARIFY":
		return types.ResolveClarify, nil
	case "ESCALATE":
		return types.ResolveEscalate, nil
	case "ABORT":
		return types.ResolveAbort, nil
	}
	return "", types.NewUserError("invalid resolution %q; use proceed, retry, clarify, escalate, or abort", s)
}

func firstSummaryLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 100 {
		s = s[:100] + "..."
	}
	return s
}

func init() {
	breakpointsCmd.AddCommand(breakpointShowCmd, breakpointResolveCmd)
}
