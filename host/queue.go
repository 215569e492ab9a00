package host

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// operation queued on a stream.
type operation struct {
	name string

	// run executes the operation in the stream's worker goroutine.
	run func() error

	// skip, if not nil, is called instead of run when the stream already failed: used by operations
	// others may be waiting on, like event recordings.
	skip func(streamErr error)
}

// queue executes the operations of one stream, in order, in its own worker goroutine.
//
// Once an operation fails, the queue is poisoned: the following operations are skipped, and the first error is
// reported by wait and status.
type queue struct {
	name     string
	capacity int
	metrics  *metrics

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []operation
	inFlight int // Queued and not finished, including the one running.
	err      error
	closed   bool

	workerDone chan struct{}
}

func newQueue(name string, capacity int, m *metrics) *queue {
	q := &queue{
		name:       name,
		capacity:   capacity,
		metrics:    m,
		workerDone: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.worker()
	return q
}

// enqueue adds op to the end of the queue. It doesn't wait for its execution.
func (q *queue) enqueue(op operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.Errorf("%s on %s: stream deallocated", op.name, q.name)
	}
	if q.capacity > 0 && len(q.pending) >= q.capacity {
		return errors.Errorf("%s on %s: queue full with %d pending operations", op.name, q.name, len(q.pending))
	}
	q.pending = append(q.pending, op)
	q.inFlight++
	q.metrics.operations.WithLabelValues(op.name).Inc()
	q.cond.Broadcast()
	return nil
}

func (q *queue) worker() {
	defer close(q.workerDone)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			// Closed and drained.
			q.mu.Unlock()
			return
		}
		op := q.pending[0]
		q.pending[0] = operation{}
		q.pending = q.pending[1:]
		streamErr := q.err
		q.mu.Unlock()

		var err error
		if streamErr != nil {
			klog.V(2).Infof("%s: skipping %s, stream already failed", q.name, op.name)
			if op.skip != nil {
				op.skip(streamErr)
			}
		} else {
			klog.V(2).Infof("%s: running %s", q.name, op.name)
			err = runOperation(op)
		}

		q.mu.Lock()
		if err != nil {
			q.metrics.operationFailures.WithLabelValues(op.name).Inc()
			if q.err == nil {
				q.err = errors.WithMessagef(err, "%s failed on %s", op.name, q.name)
			}
		}
		q.inFlight--
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// runOperation runs op, converting a panic into an error.
func runOperation(op operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return op.run()
}

// wait blocks until all operations queued so far, and any queued meanwhile, are done.
// It returns the first error of the queue.
func (q *queue) wait() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.inFlight > 0 {
		q.cond.Wait()
	}
	return q.err
}

// status returns the first error of the queue, without blocking.
func (q *queue) status() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// close rejects new operations and blocks until the pending ones are done and the worker exits.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.workerDone
}
