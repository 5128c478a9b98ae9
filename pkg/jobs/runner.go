// Package jobs runs pipeline analyses in the background with at most one
// job per stem at a time.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/james-see/drumstem2midi/pkg/pipeline"
)

// Errors returned by Submit
var (
	ErrAlreadyRunning = errors.New("a job for this stem is already pending or running")
	ErrQueueFull      = errors.New("job queue is full")
	ErrRunnerStopped  = errors.New("job runner has been stopped")
)

// Status is the lifecycle state of a job
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

// String returns a string representation of the job status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job is a snapshot of one submitted analysis
type Job struct {
	ID       string
	Stem     string
	Options  pipeline.RunOptions
	Status   Status
	Manifest *pipeline.Manifest
	Error    string
	Created  time.Time
	Started  time.Time
	Finished time.Time
}

// Pipeline is the analysis a job executes
type Pipeline interface {
	Run(ctx context.Context, stemPath string, ro pipeline.RunOptions) (*pipeline.Manifest, error)
}

// Options configures a Runner
type Options struct {
	Workers   int
	QueueSize int
	StatusTTL time.Duration
	Logger    *slog.Logger
}

// Runner executes jobs on a fixed pool of workers
type Runner struct {
	pipe     Pipeline
	logger   *slog.Logger
	statuses *gocache.Cache
	queue    chan *Job

	mu      sync.Mutex
	active  map[string]string // stem key -> job id
	stopped bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner starts the worker pool
func NewRunner(p Pipeline, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = 30 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		pipe:     p,
		logger:   logger.With("module", "jobs"),
		statuses: gocache.New(opts.StatusTTL, 2*opts.StatusTTL),
		queue:    make(chan *Job, opts.QueueSize),
		active:   map[string]string{},
		ctx:      ctx,
		cancel:   cancel,
	}
	for range opts.Workers {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func stemKey(stem string) string {
	if abs, err := filepath.Abs(stem); err == nil {
		return abs
	}
	return filepath.Clean(stem)
}

// Submit queues an analysis of stem and returns its job id immediately
func (r *Runner) Submit(stem string, ro pipeline.RunOptions) (string, error) {
	key := stemKey(stem)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return "", ErrRunnerStopped
	}
	if id, ok := r.active[key]; ok {
		return id, ErrAlreadyRunning
	}

	job := &Job{
		ID:      uuid.NewString(),
		Stem:    stem,
		Options: ro,
		Status:  StatusPending,
		Created: time.Now(),
	}
	select {
	case r.queue <- job:
	default:
		return "", ErrQueueFull
	}
	r.active[key] = job.ID
	r.save(job)
	r.logger.Info("job queued", "job_id", job.ID, "stem", stem)
	return job.ID, nil
}

// Status returns the latest snapshot of a job. Jobs expire after the
// configured TTL.
func (r *Runner) Status(id string) (Job, bool) {
	v, ok := r.statuses.Get(id)
	if !ok {
		return Job{}, false
	}
	return v.(Job), true
}

// Stop rejects new jobs, runs the queued ones and waits for all workers
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
}

func (r *Runner) save(job *Job) {
	r.statuses.Set(job.ID, *job, gocache.DefaultExpiration)
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for job := range r.queue {
		r.execute(job)
	}
}

func (r *Runner) execute(job *Job) {
	logger := r.logger.With("job_id", job.ID, "stem", job.Stem)

	job.Status = StatusRunning
	job.Started = time.Now()
	r.save(job)

	defer func() {
		if rec := recover(); rec != nil {
			job.Status = StatusFailed
			job.Error = fmt.Sprintf("job panicked: %v", rec)
			logger.Error("job panicked", "panic", rec)
		}
		job.Finished = time.Now()
		r.save(job)

		r.mu.Lock()
		delete(r.active, stemKey(job.Stem))
		r.mu.Unlock()
	}()

	manifest, err := r.pipe.Run(r.ctx, job.Stem, job.Options)
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		logger.Error("job failed", "error", err)
		return
	}
	job.Status = StatusCompleted
	job.Manifest = manifest
	logger.Info("job completed",
		"hits", manifest.NumHits,
		"duration", time.Since(job.Started).Round(time.Millisecond))
}
