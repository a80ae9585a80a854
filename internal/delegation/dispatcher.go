package delegation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/designd/internal/backlog"
	"github.com/fyrsmithlabs/designd/internal/config"
)

// Dispatcher walks a backlog and delegates its tasks to the executor.
// Tasks with disjoint required files run concurrently on a bounded worker
// pool; tasks sharing a file run serially in backlog order.
type Dispatcher struct {
	executor Executor
	cfg      config.DelegationConfig
	logger   *zap.Logger
}

func NewDispatcher(executor Executor, cfg config.DelegationConfig, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		executor: executor,
		cfg:      cfg,
		logger:   logger.Named("delegation"),
	}
}

// Run delegates every pending task in the backlog and returns a summary of
// terminal states. Task structs are updated in place; onUpdate, when non-nil,
// is invoked after each state change so the caller can persist it. A failed
// attempt is retried up to MaxAttempts with the failure note attached to the
// task between attempts; exhausting the cap rejects the task without
// blocking unrelated tasks. Cancellation is observed at attempt boundaries:
// no new attempt starts once ctx is done, but an attempt already in flight
// finishes.
func (d *Dispatcher) Run(ctx context.Context, b *backlog.Backlog, onUpdate func(*backlog.Task)) (*Summary, error) {
	n := len(b.Tasks)
	preds := d.predecessors(b)

	done := make([]chan struct{}, n)
	for i := range done {
		done[i] = make(chan struct{})
	}

	sem := make(chan struct{}, d.cfg.Workers)
	summary := &Summary{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, t := range b.Tasks {
		if t.Status != backlog.StatusPending {
			close(done[i])
			continue
		}
		wg.Add(1)
		go func(i int, t *backlog.Task) {
			defer wg.Done()
			defer close(done[i])
			for _, j := range preds[i] {
				select {
				case <-done[j]:
				case <-ctx.Done():
					return
				}
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			d.delegate(ctx, t, summary, &mu, onUpdate)
		}(i, t)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// predecessors computes, per task, the earlier tasks it must wait for: the
// most recent earlier task touching each of its required files, plus any
// DependsOn entries recorded by decomposition.
func (d *Dispatcher) predecessors(b *backlog.Backlog) [][]int {
	byID := make(map[string]int, len(b.Tasks))
	for i, t := range b.Tasks {
		byID[t.ID] = i
	}
	lastByFile := make(map[string]int)
	preds := make([][]int, len(b.Tasks))
	for i, t := range b.Tasks {
		seen := make(map[int]bool)
		for _, f := range t.RequiredFiles {
			if j, ok := lastByFile[f]; ok && !seen[j] {
				preds[i] = append(preds[i], j)
				seen[j] = true
			}
			lastByFile[f] = i
		}
		for _, dep := range t.DependsOn {
			if j, ok := byID[dep]; ok && j < i && !seen[j] {
				preds[i] = append(preds[i], j)
				seen[j] = true
			}
		}
	}
	return preds
}

func (d *Dispatcher) delegate(ctx context.Context, t *backlog.Task, summary *Summary, mu *sync.Mutex, onUpdate func(*backlog.Task)) {
	update := func(fn func()) {
		mu.Lock()
		fn()
		mu.Unlock()
		if onUpdate != nil {
			onUpdate(t)
		}
	}

	update(func() { t.Status = backlog.StatusDelegated })

	// The attempt budget is per task lifetime, not per dispatch: a task
	// re-dispatched after parking or an abort resumes from its recorded
	// count and only gets what is left of the cap.
	for attempt := t.Attempts + 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			// Aborted between attempts; leave the task re-delegatable.
			update(func() { t.Status = backlog.StatusPending })
			return
		}

		started := time.Now()
		// The attempt keeps running on cancellation; only new attempts stop.
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.AttemptTimeout)
		res, err := d.executor.Delegate(actx, t)
		cancel()

		req := Request{
			TaskID:   t.ID,
			Attempt:  attempt,
			Started:  started.UTC(),
			Duration: time.Since(started),
		}

		switch {
		case err != nil:
			req.Outcome = OutcomeFailure
			req.Error = err.Error()
			attemptsTotal.WithLabelValues(string(OutcomeFailure)).Inc()
			d.logger.Warn("delegation attempt failed",
				zap.String("task", t.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			update(func() {
				t.Attempts++
				t.FailureNotes = append(t.FailureNotes, fmt.Sprintf("attempt %d: %v", attempt, err))
				summary.Requests = append(summary.Requests, req)
			})

		case res.Outcome == OutcomeSuccess:
			req.Outcome = OutcomeSuccess
			attemptsTotal.WithLabelValues(string(OutcomeSuccess)).Inc()
			tasksTotal.WithLabelValues(string(backlog.StatusDone)).Inc()
			update(func() {
				t.Attempts++
				t.Status = backlog.StatusDone
				summary.Done++
				summary.Requests = append(summary.Requests, req)
			})
			return

		case res.Outcome == OutcomeNeedsInput:
			req.Outcome = OutcomeNeedsInput
			attemptsTotal.WithLabelValues(string(OutcomeNeedsInput)).Inc()
			tasksTotal.WithLabelValues(string(backlog.StatusParked)).Inc()
			d.logger.Info("task parked pending input",
				zap.String("task", t.ID),
				zap.String("note", res.Note))
			update(func() {
				t.Attempts++
				t.Status = backlog.StatusParked
				if res.Note != "" {
					t.FailureNotes = append(t.FailureNotes, res.Note)
				}
				summary.Parked++
				summary.Requests = append(summary.Requests, req)
			})
			return

		default:
			req.Outcome = OutcomeFailure
			attemptsTotal.WithLabelValues(string(OutcomeFailure)).Inc()
			update(func() {
				t.Attempts++
				note := res.Note
				if note == "" {
					note = "executor reported failure"
				}
				t.FailureNotes = append(t.FailureNotes, fmt.Sprintf("attempt %d: %s", attempt, note))
				summary.Requests = append(summary.Requests, req)
			})
		}
	}

	delErr := &DelegationError{TaskID: t.ID, Attempts: t.Attempts}
	tasksTotal.WithLabelValues(string(backlog.StatusRejected)).Inc()
	d.logger.Warn("task rejected", zap.String("task", t.ID), zap.Error(delErr))
	update(func() {
		t.Status = backlog.StatusRejected
		summary.Rejected++
	})
}
