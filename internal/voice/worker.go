package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull    = errors.New("speak queue is full")
	ErrWorkerClosed = errors.New("speak worker is closed")
)

type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobCanceled JobStatus = "canceled"
)

// Job is one background speak request. Its result is readable once Done
// is closed.
type Job struct {
	ID      string
	Created time.Time

	text    string
	profile Profile
	done    chan struct{}

	mu       sync.Mutex
	status   JobStatus
	delivery Delivery
	finished time.Time
}

func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Result returns the delivery and true once the job has finished.
func (j *Job) Result() (Delivery, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != JobDone && j.status != JobCanceled {
		return Delivery{}, false
	}
	return j.delivery, true
}

func (j *Job) setStatus(s JobStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *Job) finish(s JobStatus, d Delivery, at time.Time) {
	j.mu.Lock()
	j.status = s
	j.delivery = d
	j.finished = at
	j.mu.Unlock()
	close(j.done)
}

func (j *Job) finishedBefore(t time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.finished.IsZero() && j.finished.Before(t)
}

// WorkerConfig sizes the pool.
type WorkerConfig struct {
	Workers   int
	QueueSize int
	// JobTimeout bounds a single render. Zero means no limit.
	JobTimeout time.Duration
}

// Worker renders speak jobs on a bounded pool of goroutines.
type Worker struct {
	adapter *Adapter
	cfg     WorkerConfig
	logger  zerolog.Logger
	observe func(JobStatus)
	now     func() time.Time

	cancel context.CancelFunc
	ctx    context.Context
	g      *errgroup.Group
	queue  chan *Job

	mu     sync.Mutex
	jobs   map[string]*Job
	closed bool
}

func NewWorker(adapter *Adapter, cfg WorkerConfig, logger zerolog.Logger, observe func(JobStatus)) *Worker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	base, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(base)
	w := &Worker{
		adapter: adapter,
		cfg:     cfg,
		logger:  logger.With().Str("component", "speak-worker").Logger(),
		observe: observe,
		now:     time.Now,
		cancel:  cancel,
		ctx:     ctx,
		g:       g,
		queue:   make(chan *Job, cfg.QueueSize),
		jobs:    make(map[string]*Job),
	}
	for i := 0; i < cfg.Workers; i++ {
		g.Go(w.loop)
	}
	return w
}

func (w *Worker) loop() error {
	for job := range w.queue {
		if w.ctx.Err() != nil {
			w.complete(job, JobCanceled, BrowserTTS())
			continue
		}
		w.run(job)
	}
	return nil
}

func (w *Worker) run(job *Job) {
	job.setStatus(JobRunning)
	w.notify(JobRunning)
	ctx := w.ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}
	d := w.adapter.Synthesize(ctx, job.text, job.profile)
	if w.ctx.Err() != nil && !d.HasAudio() {
		w.complete(job, JobCanceled, d)
		return
	}
	w.complete(job, JobDone, d)
}

func (w *Worker) complete(job *Job, s JobStatus, d Delivery) {
	w.notify(s)
	job.finish(s, d, w.now())
	w.logger.Debug().Str("job", job.ID).Str("status", string(s)).Bool("audio", d.HasAudio()).Msg("speak job finished")
}

func (w *Worker) notify(s JobStatus) {
	if w.observe != nil {
		w.observe(s)
	}
}

// Submit queues text for rendering. It never blocks: a full queue returns
// ErrQueueFull.
func (w *Worker) Submit(text string, p Profile) (*Job, error) {
	job := &Job{
		ID:      uuid.NewString(),
		Created: w.now(),
		text:    text,
		profile: p,
		done:    make(chan struct{}),
		status:  JobQueued,
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWorkerClosed
	}
	// Only Submit sends, under w.mu, so a free slot stays free until the
	// send below and the job is counted as queued before a worker sees it.
	if len(w.queue) == cap(w.queue) {
		return nil, ErrQueueFull
	}
	w.jobs[job.ID] = job
	w.notify(JobQueued)
	w.queue <- job
	return job, nil
}

func (w *Worker) Lookup(id string) (*Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	j, ok := w.jobs[id]
	return j, ok
}

// Prune forgets finished jobs older than age and returns how many.
func (w *Worker) Prune(age time.Duration) int {
	cutoff := w.now().Add(-age)
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for id, j := range w.jobs {
		if j.finishedBefore(cutoff) {
			delete(w.jobs, id)
			n++
		}
	}
	return n
}

// Pending counts jobs that have not finished yet.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, j := range w.jobs {
		if s := j.Status(); s == JobQueued || s == JobRunning {
			n++
		}
	}
	return n
}

// Close stops accepting jobs, cancels in-flight renders and waits for the
// pool to drain. Queued jobs finish as canceled.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	w.cancel()
	return w.g.Wait()
}
