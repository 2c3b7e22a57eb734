package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"overseer/internal/types"
)

// Entity command families: one create/list/show/update/delete group per
// work-item kind, plus projects.

var (
	flagProject     int64
	flagDescription string
	flagPriority    int
	flagStatus      string
	flagParent      int64
	flagEpics       []int64
	flagDeps        []int64
	flagWorkdir     string
	flagHard        bool
	flagAll         bool
)

func addEntityCommands(root *cobra.Command) {
	root.AddCommand(projectCmd())
	for _, kind := range []types.WorkItemKind{
		types.KindEpic, types.KindStory, types.KindTask,
		types.KindSubtask, types.KindMilestone,
	} {
		root.AddCommand(workItemCmd(kind))
	}
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			proj, err := a.store.CreateProject(args[0], flagWorkdir)
			if err != nil {
				return err
			}
			fmt.Printf("Created project #%d %q\n", proj.ID, proj.Name)
			return nil
		},
	}
	create.Flags().StringVar(&flagWorkdir, "workdir", "", "project working directory")

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			projects, err := a.store.ListProjects(flagAll)
			if err != nil {
				return err
			}
			for _, p := range projects {
				fmt.Printf("#%-4d %-30s %s\n", p.ID, p.Name, p.Status)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&flagAll, "all", false, "include soft-deleted projects")

	remove := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete an empty project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.store.SoftDeleteProject(id); err != nil {
				return err
			}
			fmt.Printf("Deleted project #%d\n", id)
			return nil
		},
	}

	cmd.AddCommand(create, list, remove)
	return cmd
}

func workItemCmd(kind types.WorkItemKind) *cobra.Command {
	name := string(kind)
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Manage %ss", name),
	}

	create := &cobra.Command{
		Use:   "create <title>",
		Short: fmt.Sprintf("Create a %s", name),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			item := &types.WorkItem{
				ProjectID:    flagProject,
				Kind:         kind,
				Title:        strings.Join(args, " "),
				Description:  flagDescription,
				Priority:     flagPriority,
				EpicIDs:      flagEpics,
				Dependencies: flagDeps,
			}
			if flagParent > 0 {
				item.ParentID = &flagParent
			}
			created, err := a.store.CreateWorkItem(item)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s #%d %q\n", name, created.ID, created.Title)
			return nil
		},
	}
	create.Flags().Int64Var(&flagProject, "project", 0, "project id (required)")
	create.Flags().StringVar(&flagDescription, "description", "", "description")
	create.Flags().IntVar(&flagPriority, "priority", 0, "priority 1-10 (default 5)")
	create.Flags().Int64Var(&flagParent, "parent", 0, "parent item id")
	if kind == types.KindMilestone {
		create.Flags().Int64SliceVar(&flagEpics, "epics", nil, "required epic ids")
	}
	create.Flags().Int64SliceVar(&flagDeps, "deps", nil, "dependency item ids")
	_ = create.MarkFlagRequired("project")

	list := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List %ss in a project", name),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			items, err := a.store.ListWorkItems(flagProject, kind, flagAll)
			if err != nil {
				return err
			}
			for _, it := range items {
				fmt.Printf("#%-4d p%-2d %-10s %s\n", it.ID, it.Priority, it.Status, it.Title)
			}
			return nil
		},
	}
	list.Flags().Int64Var(&flagProject, "project", 0, "project id (required)")
	list.Flags().BoolVar(&flagAll, "all", false, "include soft-deleted items")
	_ = list.MarkFlagRequired("project")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: fmt.Sprintf("Show one %s", name),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			item, err := a.store.GetWorkItem(id)
			if err != nil {
				return err
			}
			if item == nil || item.Kind != kind {
				return types.NewUserError("no %s with id %d", name, id)
			}
			fmt.Printf("#%d [%s] %s\n", item.ID, item.Kind, item.Title)
			fmt.Printf("  priority %d, status %s\n", item.Priority, item.Status)
			if item.Description != "" {
				fmt.Printf("  %s\n", item.Description)
			}
			if len(item.Dependencies) > 0 {
				fmt.Printf("  depends on %v\n", item.Dependencies)
			}
			if len(item.EpicIDs) > 0 {
				fmt.Printf("  requires epics %v\n", item.EpicIDs)
			}
			return nil
		},
	}

	update := &cobra.Command{
		Use:   "update <id>",
		Short: fmt.Sprintf("Update a %s", name),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			updates := map[string]any{}
			if cmd.Flags().Changed("description") {
				updates["description"] = flagDescription
			}
			if cmd.Flags().Changed("priority") {
				updates["priority"] = flagPriority
			}
			if cmd.Flags().Changed("status") {
				updates["status"] = strings.ToUpper(flagStatus)
			}
			if len(updates) == 0 {
				return types.NewUserError("nothing to update; pass --description, --priority, or --status")
			}
			if err := a.store.UpdateWorkItem(id, updates); err != nil {
				return err
			}
			fmt.Printf("Updated %s #%d\n", name, id)
			return nil
		},
	}
	update.Flags().StringVar(&flagDescription, "description", "", "new description")
	update.Flags().IntVar(&flagPriority, "priority", 0, "new priority")
	update.Flags().StringVar(&flagStatus, "status", "", "new status")

	remove := &cobra.Command{
		Use:   "delete <id>",
		Short: fmt.Sprintf("Delete a %s", name),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.store.DeleteWorkItem(id, !flagHard); err != nil {
				return err
			}
			fmt.Printf("Deleted %s #%d\n", name, id)
			return nil
		},
	}
	remove.Flags().BoolVar(&flagHard, "hard", false, "remove the row instead of soft-deleting")

	cmd.AddCommand(create, list, show, update, remove)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewUserError("invalid id %q", s)
	}
	return id, nil
}
