package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	sequencemanager "github.com/Swind/go-sequence-manager"
	"github.com/Swind/go-sequence-manager/core"
)

// workload is a queue per band plus a delayed timer queue.
type workload struct {
	thread    *sequencemanager.Thread
	queues    []*core.TaskQueue
	timers    *core.TaskQueue
	completed atomic.Int64
}

func newWorkload(thread *sequencemanager.Thread) (*workload, error) {
	w := &workload{thread: thread}
	for _, spec := range []core.TaskQueueSpec{
		core.NewTaskQueueSpec("input").WithPriority(core.TaskPriorityHigh).WithObserverNotification(true),
		core.NewTaskQueueSpec("render").WithPriority(core.TaskPriorityNormal).WithObserverNotification(true),
		core.NewTaskQueueSpec("prefetch").WithPriority(core.TaskPriorityLow).WithObserverNotification(true),
		core.NewTaskQueueSpec("gc").WithPriority(core.TaskPriorityBestEffort).WithObserverNotification(true),
	} {
		q, err := thread.CreateTaskQueue(spec)
		if err != nil {
			return nil, err
		}
		w.queues = append(w.queues, q)
	}
	timers, err := thread.CreateTaskQueue(core.NewTaskQueueSpec("timers").WithQuiescenceMonitoring(true).WithObserverNotification(true))
	if err != nil {
		return nil, err
	}
	w.timers = timers
	return w, nil
}

// block fences every queue so posted tasks stay pending.
func (w *workload) block(ctx context.Context) error {
	done := make(chan struct{})
	w.thread.TaskRunner().PostTask(func(ctx context.Context) {
		defer close(done)
		for _, q := range w.queues {
			q.InsertFence(core.FenceBeginningOfTime)
		}
		w.timers.InsertFence(core.FenceBeginningOfTime)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *workload) post(n int) {
	for _, q := range w.queues {
		runner := q.DefaultTaskRunner()
		for i := range n {
			runner.PostTaskWithTraits(func(ctx context.Context) {
				time.Sleep(100 * time.Microsecond)
				w.completed.Add(1)
			}, core.TraitsNamed(fmt.Sprintf("%s-%d", q.Name(), i)))
		}
	}
	timers := w.timers.DefaultTaskRunner()
	for i := range n {
		timers.PostDelayedTaskWithTraits(func(ctx context.Context) {
			w.completed.Add(1)
		}, time.Duration(i)*time.Millisecond, core.TraitsNamed(fmt.Sprintf("timer-%d", i)))
	}
}
