// Package detections runs queued detection jobs one at a time.
package detections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"wardtrace/internal/core"
	"wardtrace/internal/upload"
	"wardtrace/pkg/domain"
)

// Status describes the lifecycle stage of a detection job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var (
	// ErrQueueFull is returned by Enqueue when the job queue has no room.
	ErrQueueFull = errors.New("detection queue full")
	// ErrStopped is returned by Enqueue after Stop and recorded on jobs
	// that were still queued when the worker stopped.
	ErrStopped = errors.New("detection worker stopped")
)

// DefaultRetention is the number of finished jobs kept for status lookups.
const DefaultRetention = 256

// Job tracks one detection request.
type Job struct {
	ID          string           `json:"id"`
	Source      upload.Source    `json:"source"`
	Locations   upload.Locations `json:"locations"`
	Status      Status           `json:"status"`
	Error       string           `json:"error,omitempty"`
	RunID       string           `json:"run_id,omitempty"`
	Stats       *domain.Stats    `json:"stats,omitempty"`
	RequestedBy string           `json:"requested_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Input is an enqueue request.
type Input struct {
	Source      upload.Source
	RequestedBy string
}

// Runner executes a detection over resolved table locations.
type Runner interface {
	DetectFromLocations(ctx context.Context, loc upload.Locations) (core.Published, error)
}

// Resolver finds the tables for a source.
type Resolver interface {
	Current(ctx context.Context) (upload.Locations, error)
	Samples() (upload.Locations, error)
}

// Scheduler queues detections and exposes their status.
type Scheduler interface {
	Enqueue(ctx context.Context, input Input) (Job, error)
	Get(id string) (Job, bool)
}

// Worker executes detection jobs on a single goroutine so runs never
// overlap.
type Worker struct {
	runner   Runner
	resolver Resolver
	logger   core.Logger
	now      func() time.Time

	queue  chan string
	mu     sync.RWMutex
	jobs   map[string]*Job
	done   []string // finished job ids, oldest first
	retain int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customises a Worker.
type Option func(*Worker)

// WithLogger sets the logger for job transitions.
func WithLogger(l core.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock overrides the job timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithQueueSize overrides the default queue capacity of 32.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// WithRetention bounds how many finished jobs stay queryable; the oldest
// are evicted first.
func WithRetention(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.retain = n
		}
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NewWorker constructs a worker. Call Start to begin processing.
func NewWorker(runner Runner, resolver Resolver, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		runner:   runner,
		resolver: resolver,
		logger:   nopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
		queue:    make(chan string, 32),
		jobs:     make(map[string]*Job),
		retain:   DefaultRetention,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing queued jobs.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop cancels the worker, including any running detection, and waits for
// the loop to exit or ctx to expire.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.abandonQueued()
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue resolves the input tables and queues a job. Resolution errors
// such as upload.ErrNoUpload are returned before anything is queued.
func (w *Worker) Enqueue(ctx context.Context, input Input) (Job, error) {
	if w.runner == nil || w.resolver == nil {
		return Job{}, fmt.Errorf("detection worker not configured")
	}
	if w.ctx.Err() != nil {
		return Job{}, ErrStopped
	}
	source := input.Source
	if source == "" {
		source = upload.SourceUpload
	}
	var (
		loc upload.Locations
		err error
	)
	switch source {
	case upload.SourceUpload:
		loc, err = w.resolver.Current(ctx)
	case upload.SourceSamples:
		loc, err = w.resolver.Samples()
	default:
		return Job{}, fmt.Errorf("unknown source %q", source)
	}
	if err != nil {
		return Job{}, err
	}

	now := w.now()
	job := &Job{
		ID:          uuid.NewString(),
		Source:      source,
		Locations:   loc,
		Status:      StatusQueued,
		RequestedBy: input.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	w.mu.Lock()
	w.jobs[job.ID] = job
	queued := job.copy()
	w.mu.Unlock()

	select {
	case w.queue <- job.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, job.ID)
		w.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	w.logger.Info("detection queued", "job_id", job.ID, "source", source)
	return queued, nil
}

// Get returns a copy of the job.
func (w *Worker) Get(id string) (Job, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	job, ok := w.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.copy(), true
}

func (w *Worker) process(id string) {
	w.mu.Lock()
	job, ok := w.jobs[id]
	if !ok {
		w.mu.Unlock()
		return
	}
	job.Status = StatusRunning
	job.UpdatedAt = w.now()
	loc := job.Locations
	w.mu.Unlock()

	published, err := w.runner.DetectFromLocations(w.ctx, loc)
	if err != nil {
		w.finish(id, func(j *Job) {
			j.Status = StatusFailed
			j.Error = err.Error()
		})
		w.logger.Warn("detection failed", "job_id", id, "error", err)
		return
	}
	stats := published.Result.Stats
	stats.Infections = append([]string(nil), stats.Infections...)
	w.finish(id, func(j *Job) {
		j.Status = StatusSucceeded
		j.RunID = published.RunID
		j.Stats = &stats
	})
	w.logger.Info("detection succeeded", "job_id", id, "run_id", published.RunID)
}

func (w *Worker) finish(id string, apply func(*Job)) {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	job, ok := w.jobs[id]
	if !ok {
		return
	}
	apply(job)
	job.UpdatedAt = now
	job.CompletedAt = &now
	w.done = append(w.done, id)
	for len(w.done) > w.retain {
		delete(w.jobs, w.done[0])
		w.done = w.done[1:]
	}
}

// abandonQueued fails every job still waiting in the queue.
func (w *Worker) abandonQueued() {
	for {
		select {
		case id := <-w.queue:
			w.finish(id, func(j *Job) {
				j.Status = StatusFailed
				j.Error = ErrStopped.Error()
			})
		default:
			return
		}
	}
}

func (j *Job) copy() Job {
	dup := *j
	if j.Stats != nil {
		stats := *j.Stats
		stats.Infections = append([]string(nil), j.Stats.Infections...)
		dup.Stats = &stats
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		dup.CompletedAt = &t
	}
	return dup
}
