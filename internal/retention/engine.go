package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/campfirehq/rosterly/internal/audit"
)

// JobMetrics reports engine runs to the centralized background-job metrics.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// EngineConfig configures a retention Engine.
type EngineConfig struct {
	// Audit receives one best-effort event per engine run. Optional.
	Audit audit.Store
	// Logger for run activity. Defaults to slog.Default.
	Logger *slog.Logger
	// Metrics for centralized job tracking. Optional.
	Metrics JobMetrics
	// Now is injectable for tests. Defaults to time.Now in UTC.
	Now func() time.Time
}

// Engine runs registered retention policies. Policies execute in
// registration order so results are reproducible between runs; a failure
// on one record or one policy never halts the rest of the batch.
type Engine struct {
	config   EngineConfig
	policies []Policy
	names    map[string]bool
}

// NewEngine creates a retention engine.
func NewEngine(config EngineConfig) *Engine {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		config: config,
		names:  make(map[string]bool),
	}
}

// Register adds a policy. Registration happens once at startup; names
// must be unique.
func (e *Engine) Register(p Policy) error {
	if err := p.validate(); err != nil {
		return err
	}
	if e.names[p.Name] {
		return fmt.Errorf("policy %s already registered", p.Name)
	}
	e.names[p.Name] = true
	e.policies = append(e.policies, p)
	return nil
}

// RunAll executes every registered non-ephemeral policy in registration
// order. The returned success flag is true only if every policy completed
// without a fatal (non-per-record) error.
func (e *Engine) RunAll(ctx context.Context) (bool, []PolicyRunResult) {
	return e.runSet(ctx, false, "retention_run", audit.ActionRetentionRun)
}

// CleanupTemporaryData executes the policies for ephemeral/derived
// categories. Invoked separately from RunAll on a tighter cadence; safe
// to re-run against already-purged data.
func (e *Engine) CleanupTemporaryData(ctx context.Context) (bool, []PolicyRunResult) {
	return e.runSet(ctx, true, "temp_cleanup", audit.ActionTempCleanupRun)
}

func (e *Engine) runSet(ctx context.Context, ephemeral bool, jobType string, action audit.Action) (bool, []PolicyRunResult) {
	start := e.config.Now()
	success := true
	var results []PolicyRunResult

	for _, p := range e.policies {
		if p.Ephemeral != ephemeral {
			continue
		}
		result := e.runPolicy(ctx, p)
		if result.FatalError != "" {
			success = false
		}
		results = append(results, result)
	}

	processed, recordErrs := totals(results)
	e.config.Logger.Info("retention batch finished",
		"job_type", jobType,
		"policies", len(results),
		"processed", processed,
		"record_errors", recordErrs,
		"success", success,
	)
	if e.config.Metrics != nil {
		status := "success"
		if !success {
			status = "failure"
		}
		e.config.Metrics.IncJobsTotal(jobType, status)
		e.config.Metrics.ObserveJobDuration(jobType, e.config.Now().Sub(start).Seconds())
	}

	audit.Record(ctx, e.config.Audit, audit.Entry{
		Action:       action,
		ResourceType: "retention_policy",
		Metadata: map[string]string{
			"policies":      strconv.Itoa(len(results)),
			"processed":     strconv.Itoa(processed),
			"record_errors": strconv.Itoa(recordErrs),
			"success":       strconv.FormatBool(success),
		},
	})

	return success, results
}

// runPolicy applies one policy, catching per-record failures so the rest
// of the candidates still run.
func (e *Engine) runPolicy(ctx context.Context, p Policy) PolicyRunResult {
	result := PolicyRunResult{PolicyName: p.Name}

	candidates, err := p.Select(ctx, e.config.Now())
	if err != nil {
		result.FatalError = err.Error()
		e.config.Logger.Error("policy candidate selection failed",
			"policy", p.Name, "category", p.Category, "error", err)
		if e.config.Metrics != nil {
			e.config.Metrics.IncJobErrors("retention_run", "select_failed")
		}
		return result
	}

	for _, id := range candidates {
		if ctx.Err() != nil {
			result.FatalError = ctx.Err().Error()
			return result
		}
		err := p.Apply(ctx, id)
		switch {
		case err == nil:
			result.ProcessedCount++
		case errors.Is(err, ErrRecordGone):
			// A concurrent run got there first; this is success, not error.
			result.ProcessedCount++
		default:
			result.Errors = append(result.Errors, RecordError{RecordID: id, ErrorMessage: err.Error()})
			e.config.Logger.Warn("retention action failed for record",
				"policy", p.Name, "record_id", id, "error", err)
		}
	}
	return result
}

func totals(results []PolicyRunResult) (processed, recordErrs int) {
	for _, r := range results {
		processed += r.ProcessedCount
		recordErrs += len(r.Errors)
	}
	return processed, recordErrs
}

