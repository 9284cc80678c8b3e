// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leseb/docqa/pkg/core/errs"
	"github.com/leseb/docqa/pkg/observability/logging"
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// JobState is the lifecycle of a background ingestion.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Finished reports whether s is terminal.
func (s JobState) Finished() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// Job is a snapshot of a background ingestion.
type Job struct {
	ID         string    `json:"id"`
	Tenant     string    `json:"tenant"`
	State      JobState  `json:"state"`
	Stage      Stage     `json:"stage,omitempty"`
	Done       int       `json:"done"`
	Total      int       `json:"total"`
	Report     *Report   `json:"report,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

type job struct {
	Job
	cancel context.CancelFunc
	done   chan struct{}
}

// DefaultJobRetention is how many finished jobs are kept for inspection.
const DefaultJobRetention = 100

// Jobs runs ingestions in the background, at most one active job per tenant.
type Jobs struct {
	pipeline  *Pipeline
	log       *logging.Logger
	retention int

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	jobs   map[string]*job
	active map[string]string // tenant -> job id
	order  []string          // creation order
}

// NewJobs creates a job runner on top of p.
func NewJobs(p *Pipeline, logger *logging.Logger) *Jobs {
	base, stop := context.WithCancel(context.Background())
	return &Jobs{
		pipeline:  p,
		log:       logging.OrDiscard(logger).Component("jobs"),
		retention: DefaultJobRetention,
		base:      base,
		stop:      stop,
		jobs:      make(map[string]*job),
		active:    make(map[string]string),
	}
}

// Start queues an ingestion for tn. If the tenant already has an active job,
// that job is returned instead and started is false.
func (j *Jobs) Start(ctx context.Context, tn string) (snapshot Job, started bool, err error) {
	if err := j.pipeline.manager.CheckTenant(ctx, "relearn", tn); err != nil {
		return Job{}, false, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.base.Err(); err != nil {
		return Job{}, false, errs.Busy("relearn", tn, errors.New("job runner is shutting down"))
	}
	if id, ok := j.active[tn]; ok {
		return j.jobs[id].Job, false, nil
	}

	jctx, cancel := context.WithCancel(j.base)
	jb := &job{
		Job: Job{
			ID:        "job_" + uuid.NewString(),
			Tenant:    tn,
			State:     JobQueued,
			CreatedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	j.jobs[jb.ID] = jb
	j.active[tn] = jb.ID
	j.order = append(j.order, jb.ID)
	j.evictLocked()

	j.wg.Add(1)
	go j.run(jctx, jb)
	j.log.Info("relearn job queued", "tenant", tn, "job_id", jb.ID)
	return jb.Job, true, nil
}

func (j *Jobs) run(ctx context.Context, jb *job) {
	defer j.wg.Done()
	defer close(jb.done)
	defer jb.cancel()

	j.update(jb, func(s *Job) {
		s.State = JobRunning
		s.StartedAt = time.Now().UTC()
	})
	rep, err := j.pipeline.IngestWithProgress(ctx, jb.Tenant, func(e Event) {
		j.update(jb, func(s *Job) {
			s.Stage, s.Done, s.Total = e.Stage, e.Done, e.Total
		})
	})

	j.mu.Lock()
	defer j.mu.Unlock()
	jb.Report = rep
	jb.FinishedAt = time.Now().UTC()
	switch {
	case err == nil:
		jb.State = JobSucceeded
	case errors.Is(err, context.Canceled):
		jb.State = JobCancelled
		jb.Error = err.Error()
	default:
		jb.State = JobFailed
		jb.Error = err.Error()
		if k := errs.KindOf(err); k != nil {
			jb.ErrorKind = k.Error()
		}
	}
	if j.active[jb.Tenant] == jb.ID {
		delete(j.active, jb.Tenant)
	}
	j.log.Info("relearn job finished", "tenant", jb.Tenant, "job_id", jb.ID, "state", jb.State)
}

func (j *Jobs) update(jb *job, fn func(*Job)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&jb.Job)
}

// evictLocked drops the oldest finished jobs beyond the retention limit.
func (j *Jobs) evictLocked() {
	excess := len(j.order) - j.retention
	if excess <= 0 {
		return
	}
	kept := j.order[:0]
	for _, id := range j.order {
		if excess > 0 && j.jobs[id].State.Finished() {
			delete(j.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	j.order = kept
}

// Get returns a snapshot of the job.
func (j *Jobs) Get(id string) (Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	jb, ok := j.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return jb.Job, nil
}

// Cancel stops a queued or running job. Cancelling a finished job is a no-op.
func (j *Jobs) Cancel(id string) (Job, error) {
	j.mu.Lock()
	jb, ok := j.jobs[id]
	j.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	jb.cancel()
	return j.Get(id)
}

// Wait blocks until the job finishes or ctx ends, and returns its final
// snapshot.
func (j *Jobs) Wait(ctx context.Context, id string) (Job, error) {
	j.mu.Lock()
	jb, ok := j.jobs[id]
	j.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	select {
	case <-jb.done:
		return j.Get(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// List returns all retained jobs, newest first.
func (j *Jobs) List() []Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Job, 0, len(j.order))
	for _, id := range slices.Backward(j.order) {
		out = append(out, j.jobs[id].Job)
	}
	return out
}

// Close cancels every active job and waits for them to stop.
func (j *Jobs) Close() {
	j.mu.Lock()
	j.stop()
	j.mu.Unlock()
	j.wg.Wait()
}
