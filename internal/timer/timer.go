// Package timer provides the in-process job engine behind the reminder
// scheduler: one-shot callbacks keyed by string id, ordered in a min-heap and
// fired by a single background loop at (approximately) their absolute time.
//
// Jobs are transient. The engine is a cache over the reminder ledger and is
// rebuilt from it on startup; it is never the durability source of truth.
package timer

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultMisfireGrace is how far past its nominal time a job may still fire
// normally when the loop was blocked (system load, clock jumps). Beyond the
// grace window backlogged firings coalesce into a single execution.
const DefaultMisfireGrace = 60 * time.Second

type job struct {
	id      string
	runAt   time.Time
	fn      func()
	index   int  // heap index
	removed bool // lazily discarded on pop
}

type jobHeap []*job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].runAt.Before(h[j].runAt) }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *jobHeap) Push(x any)        { j := x.(*job); j.index = len(*h); *h = append(*h, j) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// Config holds the engine's tunables.
type Config struct {
	Logger       *slog.Logger
	MisfireGrace time.Duration // defaults to DefaultMisfireGrace
}

// Engine schedules one-shot callbacks on a single background loop.
// Callbacks run as independent goroutines: a slow callback delays only its
// own completion, never other jobs' trigger times.
type Engine struct {
	logger *slog.Logger
	grace  time.Duration

	mu    sync.Mutex
	jobs  jobHeap
	index map[string]*job
	wake  chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine with the given config.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.MisfireGrace
	if grace <= 0 {
		grace = DefaultMisfireGrace
	}
	return &Engine{
		logger: logger,
		grace:  grace,
		index:  make(map[string]*job),
		wake:   make(chan struct{}, 1),
	}
}

// Start begins the timer loop in a background goroutine.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.loop(ctx)
	e.logger.Info("timer engine started", "misfire_grace", e.grace)
}

// Stop cancels the loop and waits for it to exit. In-flight callbacks are
// not interrupted.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info("timer engine stopped")
}

// AddJob schedules fn to run at runAt under the given id. Re-adding an id
// atomically replaces the prior registration, so an edited reminder keeps a
// single live job.
func (e *Engine) AddJob(runAt time.Time, jobID string, fn func()) {
	e.mu.Lock()
	if prior, ok := e.index[jobID]; ok {
		prior.removed = true
		delete(e.index, jobID)
	}
	j := &job{id: jobID, runAt: runAt, fn: fn}
	heap.Push(&e.jobs, j)
	e.index[jobID] = j
	e.mu.Unlock()
	e.signal()
}

// RemoveJob cancels a pending job. No-op if the id is unknown or the job
// already fired.
func (e *Engine) RemoveJob(jobID string) {
	e.mu.Lock()
	if j, ok := e.index[jobID]; ok {
		j.removed = true
		delete(e.index, jobID)
	}
	e.mu.Unlock()
	e.signal()
}

// HasJob reports whether a live job is registered under the id.
func (e *Engine) HasJob(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.index[jobID]
	return ok
}

// JobCount returns the number of live registered jobs.
func (e *Engine) JobCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.index)
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		// Discard cancelled entries sitting at the top.
		for e.jobs.Len() > 0 && e.jobs[0].removed {
			heap.Pop(&e.jobs)
		}
		empty := e.jobs.Len() == 0
		var wait time.Duration
		if !empty {
			wait = time.Until(e.jobs[0].runAt)
		}
		e.mu.Unlock()

		if empty {
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
			}
			continue
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-e.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}
		e.fireDue(time.Now())

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// fireDue pops every job whose time has arrived and runs its callback in its
// own goroutine. A job overdue beyond the grace window still executes exactly
// once: backlogged firings coalesce.
func (e *Engine) fireDue(now time.Time) {
	var due []*job
	e.mu.Lock()
	for e.jobs.Len() > 0 {
		top := e.jobs[0]
		if top.removed {
			heap.Pop(&e.jobs)
			continue
		}
		if top.runAt.After(now) {
			break
		}
		heap.Pop(&e.jobs)
		delete(e.index, top.id)
		due = append(due, top)
	}
	e.mu.Unlock()

	for _, j := range due {
		overdue := now.Sub(j.runAt)
		if overdue > e.grace {
			e.logger.Warn("job misfired beyond grace window, coalescing into one run",
				"job_id", j.id,
				"overdue", overdue,
			)
		}
		go j.fn()
	}
}
