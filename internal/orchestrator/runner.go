package orchestrator

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"overseer/internal/logging"
	"overseer/internal/types"
)

// Runner drives several projects in parallel, one cooperative
// orchestrator loop per project. Within a project tasks run strictly in
// sequence.
type Runner struct {
	state   types.StatePort
	build   func(projectID int64) *Orchestrator
	mu      sync.Mutex
	results map[int64]*types.TaskResult // keyed by task id
}

// NewRunner creates a runner. build constructs a per-project
// orchestrator so each loop owns its own cancel flag.
func NewRunner(state types.StatePort, build func(projectID int64) *Orchestrator) *Runner {
	return &Runner{state: state, build: build, results: map[int64]*types.TaskResult{}}
}

// RunProjects executes every PENDING task of the given projects, each
// project in its own worker. The first hard error cancels the rest;
// per-task terminal statuses are collected, not treated as errors.
func (r *Runner) RunProjects(ctx context.Context, projectIDs []int64) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, projectID := range projectIDs {
		g.Go(func() error {
			return r.runProject(ctx, projectID)
		})
	}
	return g.Wait()
}

func (r *Runner) runProject(ctx context.Context, projectID int64) error {
	orch := r.build(projectID)

	tasks, err := r.state.ListWorkItems(projectID, types.KindTask, false)
	if err != nil {
		return err
	}
	// Highest priority first; ties by id for a stable order.
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		return tasks[i].ID < tasks[j].ID
	})

	for _, task := range tasks {
		if task.Status != types.StatusPending {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := orch.ExecuteTask(ctx, task.ID, 0)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.results[task.ID] = res
		r.mu.Unlock()
		logging.Orchestrator("Project %d task %d finished %s", projectID, task.ID, res.Status)

		if res.Status == types.TaskCompleted {
			if err := r.state.UpdateWorkItem(task.ID, map[string]any{"status": string(types.StatusCompleted)}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Results returns a copy of the per-task outcomes collected so far.
func (r *Runner) Results() map[int64]*types.TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]*types.TaskResult, len(r.results))
	for k, v := range r.results {
		out[k] = v
	}
	return out
}
