// Package future implements a plain, poll-based single-producer/single-
// consumer completion cell — not an awaitable, no async runtime. The
// producer (the storage worker) calls Finish exactly once; the consumer
// (the logger state machine) polls Done/Result on every tick. Grounded on
// the usage pattern in original_source/storage.c and logger.c, where a
// future is passed by pointer and the state machine spins on it.
package future

import (
	"sync"

	"github.com/catompiler/pqrecorder/internal/errs"
)

// Future[T] carries a result code and a payload from producer to consumer.
type Future[T any] struct {
	mu     sync.Mutex
	done   bool
	result T
	code   errs.Code
}

// New returns a fresh, pending future.
func New[T any]() *Future[T] {
	return &Future[T]{}
}

// Start resets the future to pending, so the same future can be reused
// across repeated commands; storage.Worker calls it on each command's
// future before queueing the command.
func (f *Future[T]) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = false
	var zero T
	f.result = zero
	f.code = errs.NoError
}

// Finish completes the future with a result code and payload. Idempotent
// under the worker contract: called exactly once per Start.
func (f *Future[T]) Finish(code errs.Code, result T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = result
	f.code = code
	f.done = true
}

// Done reports whether the future has been finished.
func (f *Future[T]) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Result returns the payload and completion status. ok is false while the
// future is still pending.
func (f *Future[T]) Result() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.done
}

// Code returns the result code written by Finish; valid only once Done.
func (f *Future[T]) Code() errs.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}
