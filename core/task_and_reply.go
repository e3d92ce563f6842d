package core

import (
	"context"
	"time"
)

// TaskWithResult is a task producing a value for its reply.
type TaskWithResult[T any] func(ctx context.Context) (T, error)

// ReplyWithResult receives the value produced by a TaskWithResult.
type ReplyWithResult[T any] func(ctx context.Context, result T, err error)

// replyRelay is a posted task that hands a reply to another runner once its
// body returned. A panicking body unwinds past post, so the reply is never
// queued.
type replyRelay struct {
	body        Task
	reply       Task
	replyTraits TaskTraits
	replyRunner TaskRunner
}

func newReplyRelay(body Task, reply Task, replyTraits TaskTraits, replyRunner TaskRunner) *replyRelay {
	if replyTraits.Name == "" {
		replyTraits.Name = resolveTaskName(reply, "")
	}
	return &replyRelay{body: body, reply: reply, replyTraits: replyTraits, replyRunner: replyRunner}
}

func (r *replyRelay) run(ctx context.Context) {
	r.body(ctx)
	r.replyRunner.PostTaskWithTraits(r.reply, r.replyTraits)
}

// postWithReply posts task to target. The reply follows on replyRunner; a
// nil replyRunner posts the task alone.
func postWithReply(target TaskRunner, task Task, taskTraits TaskTraits, reply Task, replyTraits TaskTraits, replyRunner TaskRunner) {
	if replyRunner == nil {
		target.PostTaskWithTraits(task, taskTraits)
		return
	}
	// The relay wrapper would otherwise name every task "run".
	if taskTraits.Name == "" {
		taskTraits.Name = resolveTaskName(task, "")
	}
	target.PostTaskWithTraits(newReplyRelay(task, reply, replyTraits, replyRunner).run, taskTraits)
}

// resultSlot carries a TaskWithResult's output to its reply. Both halves run
// on bound threads in happens-before order, so no lock is needed.
type resultSlot[T any] struct {
	value T
	err   error
}

func (s *resultSlot[T]) produce(task TaskWithResult[T]) Task {
	return func(ctx context.Context) {
		s.value, s.err = task(ctx)
	}
}

func (s *resultSlot[T]) deliver(reply ReplyWithResult[T]) Task {
	return func(ctx context.Context) {
		reply(ctx, s.value, s.err)
	}
}

// PostTaskAndReplyWithResult runs task on targetRunner and hands its result
// to reply on replyRunner.
//
// Example:
//
//	PostTaskAndReplyWithResult(
//	    ioQueue.DefaultTaskRunner(),
//	    func(ctx context.Context) (int, error) {
//	        return len("Hello"), nil
//	    },
//	    func(ctx context.Context, length int, err error) {
//	        fmt.Printf("Length: %d\n", length)
//	    },
//	    uiQueue.DefaultTaskRunner(),
//	)
func PostTaskAndReplyWithResult[T any](
	targetRunner TaskRunner,
	task TaskWithResult[T],
	reply ReplyWithResult[T],
	replyRunner TaskRunner,
) {
	PostTaskAndReplyWithResultAndTraits(targetRunner, task, DefaultTaskTraits(), reply, DefaultTaskTraits(), replyRunner)
}

// PostTaskAndReplyWithResultAndTraits is PostTaskAndReplyWithResult with
// separate traits for the task and the reply, e.g. a non-nestable reply.
func PostTaskAndReplyWithResultAndTraits[T any](
	targetRunner TaskRunner,
	task TaskWithResult[T],
	taskTraits TaskTraits,
	reply ReplyWithResult[T],
	replyTraits TaskTraits,
	replyRunner TaskRunner,
) {
	if taskTraits.Name == "" {
		taskTraits.Name = resolveTaskName(task, "")
	}
	if replyTraits.Name == "" {
		replyTraits.Name = resolveTaskName(reply, "")
	}
	slot := &resultSlot[T]{}
	postWithReply(targetRunner, slot.produce(task), taskTraits, slot.deliver(reply), replyTraits, replyRunner)
}

// PostDelayedTaskAndReplyWithResult delays only the task. The reply is
// posted as soon as the task returned.
func PostDelayedTaskAndReplyWithResult[T any](
	targetRunner TaskRunner,
	task TaskWithResult[T],
	delay time.Duration,
	reply ReplyWithResult[T],
	replyRunner TaskRunner,
) {
	PostDelayedTaskAndReplyWithResultAndTraits(targetRunner, task, delay, DefaultTaskTraits(), reply, DefaultTaskTraits(), replyRunner)
}

func PostDelayedTaskAndReplyWithResultAndTraits[T any](
	targetRunner TaskRunner,
	task TaskWithResult[T],
	delay time.Duration,
	taskTraits TaskTraits,
	reply ReplyWithResult[T],
	replyTraits TaskTraits,
	replyRunner TaskRunner,
) {
	if taskTraits.Name == "" {
		taskTraits.Name = resolveTaskName(task, "")
	}
	slot := &resultSlot[T]{}
	body := slot.produce(task)
	if replyRunner != nil {
		body = newReplyRelay(body, slot.deliver(reply), replyTraits, replyRunner).run
	}
	targetRunner.PostDelayedTaskWithTraits(body, delay, taskTraits)
}
