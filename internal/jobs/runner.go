package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/campfirehq/rosterly/internal/tracing"
)

// Job is one scheduled unit of background work. An error marks the run
// failed in metrics; it never stops the schedule.
type Job struct {
	// Name labels metrics and logs. Should match a JobType constant.
	Name string
	// Interval between runs.
	Interval time.Duration
	// Run does the work. The context is canceled when the runner stops.
	Run func(ctx context.Context) error
}

// Runner executes registered jobs on their intervals until stopped.
// Jobs may overlap in wall-clock time with each other and with live
// request handlers; the work they invoke is responsible for tolerating
// that.
type Runner struct {
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	jobs    []Job
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewRunner creates a runner. Metrics may be nil.
func NewRunner(logger *slog.Logger, metrics *Metrics) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, metrics: metrics}
}

// Add registers a job. Must be called before Start.
func (r *Runner) Add(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

// Start launches one goroutine per job. Calling Start twice is a no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	var wg sync.WaitGroup
	for _, job := range r.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			r.loop(ctx, job)
		}(job)
	}
	go func() {
		wg.Wait()
		close(r.done)
	}()
}

// Stop cancels all jobs and waits for in-flight runs to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Runner) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, job)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	ctx, endSpan := tracing.StartJobSpan(ctx, job.Name)

	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)
	endSpan(err)

	status := StatusSuccess
	if err != nil {
		status = StatusFailure
		r.logger.ErrorContext(ctx, "background job failed",
			"job", job.Name,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
	} else {
		r.logger.InfoContext(ctx, "background job completed",
			"job", job.Name,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	if r.metrics != nil {
		r.metrics.IncJobsTotal(job.Name, status)
		r.metrics.ObserveJobDuration(job.Name, elapsed.Seconds())
		if err != nil {
			r.metrics.IncJobErrors(job.Name, "run_failed")
		}
	}
}
