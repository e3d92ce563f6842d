package sequencemanager_test

import (
	"context"
	"fmt"

	sequencemanager "github.com/Swind/go-sequence-manager"
	"github.com/Swind/go-sequence-manager/core"
)

// ExampleCreateTaskRunner demonstrates posting to the global thread.
func ExampleCreateTaskRunner() {
	if err := sequencemanager.InitGlobalThread(core.Settings{Logger: core.NewNoOpLogger()}); err != nil {
		panic(err)
	}
	defer sequencemanager.ShutdownGlobalThread()

	runner := sequencemanager.CreateTaskRunner(sequencemanager.NewTaskQueueSpec("example"))

	done := make(chan struct{})
	runner.PostTask(func(ctx context.Context) {
		fmt.Println("Task 1")
	})
	runner.PostTask(func(ctx context.Context) {
		fmt.Println("Task 2")
	})
	runner.PostTask(func(ctx context.Context) {
		fmt.Println("Task 3")
		close(done)
	})
	<-done

	// Output:
	// Task 1
	// Task 2
	// Task 3
}

// ExampleThread_CreateTaskQueue demonstrates priority bands on one thread.
func ExampleThread_CreateTaskQueue() {
	thread := sequencemanager.NewThread("ui", core.Settings{Logger: core.NewNoOpLogger()})
	if err := thread.Start(); err != nil {
		panic(err)
	}
	defer thread.Stop()

	background, _ := thread.CreateTaskQueue(
		sequencemanager.NewTaskQueueSpec("background").WithPriority(sequencemanager.TaskPriorityBestEffort))
	input, _ := thread.CreateTaskQueue(
		sequencemanager.NewTaskQueueSpec("input").WithPriority(sequencemanager.TaskPriorityHigh))

	thread.TaskRunner().PostTask(func(ctx context.Context) {
		background.DefaultTaskRunner().PostTask(func(ctx context.Context) {
			fmt.Println("background work")
		})
		input.DefaultTaskRunner().PostTask(func(ctx context.Context) {
			fmt.Println("input handled")
		})
	})
	if err := thread.WaitIdle(context.Background()); err != nil {
		panic(err)
	}

	// Output:
	// input handled
	// background work
}

// ExampleThread_nestedLoop demonstrates non-nestable tasks waiting for the outer loop.
func ExampleThread_nestedLoop() {
	thread := sequencemanager.NewThread("nested", core.Settings{Logger: core.NewNoOpLogger()})
	if err := thread.Start(); err != nil {
		panic(err)
	}
	defer thread.Stop()

	runner := thread.TaskRunner()
	runner.PostTask(func(ctx context.Context) {
		runner.PostNonNestableTask(func(ctx context.Context) {
			fmt.Println("non-nestable")
		})
		runner.PostTask(func(ctx context.Context) {
			fmt.Println("nestable")
		})
		thread.Manager().RunNestedLoopUntilIdle()
		fmt.Println("nested loop done")
	})
	if err := thread.WaitIdle(context.Background()); err != nil {
		panic(err)
	}

	// Output:
	// nestable
	// nested loop done
	// non-nestable
}
