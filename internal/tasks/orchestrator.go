package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jddlt/sora2api/internal/api"
	"github.com/jddlt/sora2api/internal/logging"
	"github.com/jddlt/sora2api/internal/models"
)

var (
	// ErrUnknownTask is returned when a task id was never tracked or has
	// already been dropped.
	ErrUnknownTask = errors.New("tasks: unknown task")
	// ErrAwaitTimeout is returned when a task does not reach a terminal
	// status within the caller's deadline.
	ErrAwaitTimeout = errors.New("tasks: task did not complete in time")
	// ErrClosed is returned when tracking is attempted after Close.
	ErrClosed = errors.New("tasks: orchestrator closed")
)

// Lister fetches the current state of an account's recent generation tasks
// in one batched call. *api.Client satisfies it.
type Lister interface {
	ListPendingTasks(ctx context.Context, account string) ([]api.TaskUpdate, error)
}

// Options configures an Orchestrator.
type Options struct {
	Lister Lister
	// PollInterval is the base polling cadence. Defaults to 2s.
	PollInterval time.Duration
	// PollMaxInterval caps the backed-off cadence. Defaults to 10s.
	PollMaxInterval time.Duration
}

type tracked struct {
	task models.GenerationTask
	done chan struct{}
}

// Orchestrator tracks submitted generation tasks to completion. It runs one
// poller goroutine per account with live tasks, fetching the whole account's
// state in a single batched call per cycle, and hands out promise-style
// completion channels. Status transitions are monotonic: late or reordered
// poll responses can never move a task backwards.
type Orchestrator struct {
	lister      Lister
	interval    time.Duration
	maxInterval time.Duration

	mu      sync.Mutex
	tasks   map[string]*tracked
	pollers map[string]struct{}
	closed  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewOrchestrator constructs an orchestrator over the provided lister.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Lister == nil {
		panic("tasks: lister must not be nil")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.PollMaxInterval < opts.PollInterval {
		opts.PollMaxInterval = 10 * time.Second
	}

	return &Orchestrator{
		lister:      opts.Lister,
		interval:    opts.PollInterval,
		maxInterval: opts.PollMaxInterval,
		tasks:       make(map[string]*tracked),
		pollers:     make(map[string]struct{}),
		stop:        make(chan struct{}),
	}
}

// Track registers a freshly submitted task and starts polling its account if
// no poller is running for it yet.
func (o *Orchestrator) Track(ctx context.Context, account, taskID string, kind models.TaskKind) error {
	if taskID == "" || account == "" {
		return errors.New("tasks: account and task id must be provided")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if _, ok := o.tasks[taskID]; ok {
		return nil
	}

	now := time.Now()
	o.tasks[taskID] = &tracked{
		task: models.GenerationTask{
			ID:        taskID,
			Account:   account,
			Kind:      kind,
			Status:    models.TaskStatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		},
		done: make(chan struct{}),
	}

	if _, running := o.pollers[account]; !running {
		o.pollers[account] = struct{}{}
		o.wg.Add(1)
		go o.poll(logging.FromContext(ctx), account)
	}
	return nil
}

// Task returns a snapshot of a tracked task.
func (o *Orchestrator) Task(taskID string) (models.GenerationTask, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	tr, ok := o.tasks[taskID]
	if !ok {
		return models.GenerationTask{}, ErrUnknownTask
	}
	return tr.task, nil
}

// AwaitCompletion blocks until the task reaches a terminal status, the
// timeout elapses, or the context is cancelled. A zero timeout reports the
// current state immediately, with ErrAwaitTimeout unless already terminal.
// The returned snapshot is always the latest known state.
func (o *Orchestrator) AwaitCompletion(ctx context.Context, taskID string, timeout time.Duration) (models.GenerationTask, error) {
	o.mu.Lock()
	tr, ok := o.tasks[taskID]
	var snapshot models.GenerationTask
	if ok {
		snapshot = tr.task
	}
	o.mu.Unlock()

	if !ok {
		return models.GenerationTask{}, ErrUnknownTask
	}
	if snapshot.Status.IsTerminal() {
		return snapshot, nil
	}
	if timeout <= 0 {
		return snapshot, ErrAwaitTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tr.done:
		task, err := o.Task(taskID)
		if err != nil {
			return snapshot, err
		}
		return task, nil
	case <-timer.C:
		task, _ := o.Task(taskID)
		return task, ErrAwaitTimeout
	case <-ctx.Done():
		task, _ := o.Task(taskID)
		return task, ctx.Err()
	}
}

// Drop forgets a task. Terminal tasks stay queryable until dropped.
func (o *Orchestrator) Drop(taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.tasks, taskID)
}

// Close stops every poller and waits for them to exit. Tracked state remains
// readable but no longer updates.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.stop)
	o.mu.Unlock()

	o.wg.Wait()
}

func (o *Orchestrator) poll(log *slog.Logger, account string) {
	defer o.wg.Done()

	log = log.With(slog.String("account", account))
	delay := o.interval

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), o.maxInterval)
		updates, err := o.lister.ListPendingTasks(logging.WithAccount(ctx, account), account)
		cancel()

		if err != nil {
			log.Warn("poll cycle failed", slog.String("error", err.Error()))
			delay = o.nextDelay(delay)
		} else if o.apply(account, updates) {
			delay = o.interval
		} else {
			delay = o.nextDelay(delay)
		}

		if o.retireIfIdle(account) {
			return
		}
		timer.Reset(delay)
	}
}

func (o *Orchestrator) nextDelay(delay time.Duration) time.Duration {
	delay *= 2
	if delay > o.maxInterval {
		delay = o.maxInterval
	}
	return delay
}

// apply folds a batched poll response into the tracked tasks and reports
// whether any task advanced. Updates for untracked ids are discarded, and a
// stale update never regresses a task's status or progress.
func (o *Orchestrator) apply(account string, updates []api.TaskUpdate) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	advanced := false
	now := time.Now()

	for _, update := range updates {
		tr, ok := o.tasks[update.ID]
		if !ok || tr.task.Account != account {
			continue
		}

		next := update.NormalizedStatus()
		if tr.task.Status.Advances(next) && next != tr.task.Status {
			tr.task.Status = next
			advanced = true
		}
		if update.Progress > tr.task.Progress {
			tr.task.Progress = update.Progress
			advanced = true
		}
		if update.ResultURL != "" {
			tr.task.ResultURL = update.ResultURL
		}
		if update.ErrorCode != "" {
			tr.task.ErrorCode = update.ErrorCode
		}
		tr.task.UpdatedAt = now

		if tr.task.Status.IsTerminal() {
			select {
			case <-tr.done:
			default:
				close(tr.done)
			}
		}
	}
	return advanced
}

// retireIfIdle stops the account's poller when no live tasks remain for it.
func (o *Orchestrator) retireIfIdle(account string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, tr := range o.tasks {
		if tr.task.Account == account && !tr.task.Status.IsTerminal() {
			return false
		}
	}
	delete(o.pollers, account)
	return true
}
