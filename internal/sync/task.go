package sync

import "context"

// Task - хэндл асинхронной операции движка
//
// A task is resolved exactly once. Callers may wait on it, poll Done, or
// drop it; the operation runs to completion either way.
type Task[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newTask[T any]() *Task[T] {
	return &Task[T]{done: make(chan struct{})}
}

func resolved[T any](value T, err error) *Task[T] {
	t := newTask[T]()
	t.resolve(value, err)
	return t
}

func (t *Task[T]) resolve(value T, err error) {
	t.value = value
	t.err = err
	close(t.done)
}

// Done is closed once the task is resolved.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task is resolved or ctx is done.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result blocks until the task is resolved and returns its outcome.
func (t *Task[T]) Result() (T, error) {
	<-t.done
	return t.value, t.err
}
