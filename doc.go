// Package sequencemanager provides a Chromium-style sequence manager for Go.
//
// A SequenceManager owns a set of prioritized TaskQueues and runs their tasks
// one at a time on a single bound goroutine. Posting works from any goroutine;
// queue control (priorities, fences, enable voters) happens on the bound
// goroutine, usually from inside a task.
//
// # Quick Start
//
// Initialize the global thread at application startup:
//
//	if err := sequencemanager.InitGlobalThread(core.DefaultSettings()); err != nil {
//		log.Fatal(err)
//	}
//	defer sequencemanager.ShutdownGlobalThread()
//
// Create a queue and post to it:
//
//	runner := sequencemanager.CreateTaskRunner(core.NewTaskQueueSpec("io"))
//	runner.PostTask(func(ctx context.Context) {
//		// Runs on the global thread, after every task posted before it.
//	})
//
// # Key Concepts
//
// TaskQueue: a FIFO of tasks with a priority band. Immediate tasks get an
// enqueue order when posted, delayed tasks when their delay expires; within a
// band the task with the smallest order runs first.
//
// Priority: Control always wins, Highest..Low are served by band with
// anti-starvation, BestEffort only runs when nothing else can.
//
// Fences: a fence stops a queue at a point in its enqueue order without
// disabling it. Enable voters disable a queue entirely.
//
// Nesting: a task may run a nested loop (SequenceManager.RunNestedLoopUntilIdle).
// Non-nestable tasks picked inside it are deferred until the outer loop
// regains control.
//
// Thread: runs a SequenceManager on a dedicated goroutine.
//
// # Example
//
//	thread := sequencemanager.NewThread("ui", core.DefaultSettings())
//	if err := thread.Start(); err != nil {
//		return err
//	}
//	defer thread.Stop()
//
//	high, _ := thread.CreateTaskQueue(
//		core.NewTaskQueueSpec("input").WithPriority(core.TaskPriorityHigh))
//	high.DefaultTaskRunner().PostTask(func(ctx context.Context) {
//		println("input handled")
//	})
//	thread.TaskRunner().PostDelayedTask(func(ctx context.Context) {
//		println("default queue, one second later")
//	}, time.Second)
package sequencemanager
