// Package collector keeps one stream task per subscription and reconciles the
// running set against a desired set.
package collector

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketcore/internal/model"
	"marketcore/pkg/exception"
)

const DefaultShutdownTimeout = 30 * time.Second

// Action is what Reconfigure did for one subscription.
type Action uint8

const (
	_action_beg Action = iota
	ActionStarted
	ActionKept
	ActionStopped
	ActionRejected
	_action_end
)

func (a Action) IsAvailable() bool {
	return a > _action_beg && a < _action_end
}

func (a Action) String() string {
	switch a {
	case ActionStarted:
		return "started"
	case ActionKept:
		return "kept"
	case ActionStopped:
		return "stopped"
	case ActionRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result reports the outcome for one subscription.
type Result struct {
	Subscription model.Subscription
	Action       Action
	Err          error
}

// Runner streams one subscription until ctx is done. A non-nil error marks the task failed.
type Runner interface {
	Run(ctx context.Context, sub model.Subscription) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, sub model.Subscription) error

func (f RunnerFunc) Run(ctx context.Context, sub model.Subscription) error {
	return f(ctx, sub)
}

// Validator is optionally implemented by runners that can reject subscriptions up front.
type Validator interface {
	Validate(sub model.Subscription) error
}

// TaskStatus describes one known task.
type TaskStatus struct {
	Subscription model.Subscription
	Running      bool
	Err          error
}

type task struct {
	sub    model.Subscription
	cancel context.CancelFunc

	mu     sync.Mutex
	exited bool
	err    error
}

func (t *task) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exited = true
	t.err = err
}

func (t *task) status() (running bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.exited, t.err
}

// Collector owns the stream tasks.
type Collector struct {
	runner Runner

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	tasks  map[model.Subscription]*task
	wg     sync.WaitGroup

	onRemoved func(sub model.Subscription)
}

// New creates a Collector whose tasks live until ctx is done or Shutdown is called.
func New(ctx context.Context, runner Runner) *Collector {
	ctx, cancel := context.WithCancel(ctx)
	return &Collector{
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[model.Subscription]*task),
	}
}

// OnRemoved registers fn to run once a task removed by Reconfigure has exited and
// no newer task owns its subscription. fn runs with the collector lock held and
// must not call back into the Collector.
func (c *Collector) OnRemoved(fn func(sub model.Subscription)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRemoved = fn
}

func compareSubscription(a, b model.Subscription) int {
	return strings.Compare(a.String(), b.String())
}

// Reconfigure diffs desired against the current tasks. Tasks no longer desired are
// cancelled, running tasks that are still desired are left alone, and only new or
// previously failed subscriptions are started.
func (c *Collector) Reconfigure(desired []model.Subscription) []Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	want := make(map[model.Subscription]struct{}, len(desired))
	ordered := make([]model.Subscription, 0, len(desired))
	for _, sub := range desired {
		if _, dup := want[sub]; dup {
			continue
		}
		want[sub] = struct{}{}
		ordered = append(ordered, sub)
	}

	results := make([]Result, 0, len(ordered)+len(c.tasks))

	removed := make([]model.Subscription, 0)
	for sub := range c.tasks {
		if _, ok := want[sub]; !ok {
			removed = append(removed, sub)
		}
	}
	slices.SortFunc(removed, compareSubscription)
	for _, sub := range removed {
		c.tasks[sub].cancel()
		delete(c.tasks, sub)
		logs.Infof("stop task %s", sub)
		results = append(results, Result{Subscription: sub, Action: ActionStopped})
	}

	for _, sub := range ordered {
		if c.closed {
			results = append(results, Result{Subscription: sub, Action: ActionRejected, Err: exception.ErrCollectorClosed})
			continue
		}
		if t, ok := c.tasks[sub]; ok {
			if running, _ := t.status(); running {
				results = append(results, Result{Subscription: sub, Action: ActionKept})
				continue
			}
			delete(c.tasks, sub)
		}
		if v, ok := c.runner.(Validator); ok {
			if err := v.Validate(sub); err != nil {
				logs.Warnf("reject subscription %s, err: %+v", sub, err)
				results = append(results, Result{Subscription: sub, Action: ActionRejected, Err: err})
				continue
			}
		}
		c.start(sub)
		results = append(results, Result{Subscription: sub, Action: ActionStarted})
	}
	return results
}

// start must be called with c.mu held.
func (c *Collector) start(sub model.Subscription) {
	ctx, cancel := context.WithCancel(c.ctx)
	t := &task{sub: sub, cancel: cancel}
	c.tasks[sub] = t
	c.wg.Add(1)
	logs.Infof("start task %s", sub)

	go func() {
		defer c.wg.Done()
		defer cancel()
		defer c.afterExit(sub)

		err := c.runner.Run(ctx, sub)
		if ctx.Err() != nil {
			t.finish(nil)
			return
		}
		if err == nil {
			err = errors.Wrap(exception.ErrInternal, "task exited").With("subscription", sub.String())
		}
		logs.Errorf("task %s failed, err: %+v", sub, err)
		t.finish(err)
	}()
}

func (c *Collector) afterExit(sub model.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, owned := c.tasks[sub]; owned || c.onRemoved == nil {
		return
	}
	c.onRemoved(sub)
}

// Active returns the running subscriptions in lexical order.
func (c *Collector) Active() []model.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := make([]model.Subscription, 0, len(c.tasks))
	for sub, t := range c.tasks {
		if running, _ := t.status(); running {
			active = append(active, sub)
		}
	}
	slices.SortFunc(active, compareSubscription)
	return active
}

// Status lists every known task, including failed ones awaiting a restart.
func (c *Collector) Status() []TaskStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := make([]TaskStatus, 0, len(c.tasks))
	for sub, t := range c.tasks {
		running, err := t.status()
		status = append(status, TaskStatus{Subscription: sub, Running: running, Err: err})
	}
	slices.SortFunc(status, func(a, b TaskStatus) int {
		return compareSubscription(a.Subscription, b.Subscription)
	})
	return status
}

// Shutdown cancels every task and waits up to timeout for them to exit.
func (c *Collector) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	c.mu.Lock()
	c.closed = true
	c.cancel()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		logs.Info("collector stopped")
		return nil
	case <-timer.C:
		return errors.Wrap(exception.ErrShutdownTimeout, "wait tasks").With("timeout", timeout.String())
	}
}
