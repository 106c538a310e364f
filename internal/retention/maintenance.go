package retention

import (
	"context"
	"fmt"
)

// TaskSummary is the outcome of one maintenance sub-task.
type TaskSummary struct {
	Name    string            `json:"name"`
	Success bool              `json:"success"`
	Results []PolicyRunResult `json:"results"`
	// Summary is a human-readable one-liner for operators.
	Summary string `json:"summary"`
}

// MaintenanceResult aggregates the daily maintenance sub-tasks. Both
// sub-results stay individually visible so operators can tell a fully
// clean run from a partially degraded one.
type MaintenanceResult struct {
	// Success is the AND of the sub-task results.
	Success   bool        `json:"success"`
	Retention TaskSummary `json:"retention"`
	Cleanup   TaskSummary `json:"cleanup"`
}

// RunDailyMaintenance invokes RunAll and CleanupTemporaryData with
// failure isolation: a failure (even a panic) in one never prevents the
// other from executing.
func (e *Engine) RunDailyMaintenance(ctx context.Context) MaintenanceResult {
	retention := e.runTask(ctx, "retention", e.RunAll)
	cleanup := e.runTask(ctx, "temp_cleanup", e.CleanupTemporaryData)

	return MaintenanceResult{
		Success:   retention.Success && cleanup.Success,
		Retention: retention,
		Cleanup:   cleanup,
	}
}

func (e *Engine) runTask(ctx context.Context, name string, run func(context.Context) (bool, []PolicyRunResult)) (summary TaskSummary) {
	summary = TaskSummary{Name: name}
	defer func() {
		if r := recover(); r != nil {
			summary.Success = false
			summary.Summary = fmt.Sprintf("%s: panicked: %v", name, r)
			e.config.Logger.Error("maintenance task panicked", "task", name, "panic", r)
		}
	}()

	ok, results := run(ctx)
	processed, recordErrs := totals(results)

	summary.Success = ok
	summary.Results = results
	summary.Summary = fmt.Sprintf("%s: %d policies, %d records processed, %d record errors",
		name, len(results), processed, recordErrs)
	if !ok {
		summary.Summary += " (fatal errors present)"
	}
	return summary
}
