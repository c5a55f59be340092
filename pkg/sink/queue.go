package sink

import (
	"sync"

	"github.com/superlogger/superlogger/pkg/metrics"
)

const (
	opLog    = "log"
	opQuery  = "query"
	opStream = "stream"
)

// operation is a call buffered until the store is ready. cancel releases
// whoever waits on it when the sink closes first.
type operation struct {
	method string
	run    func()
	cancel func()
}

// enqueue buffers an operation. Must hold s.mu and s.ready must be false.
func (s *Sink) enqueue(method string, run, cancel func()) {
	s.pending = append(s.pending, operation{method: method, run: run, cancel: cancel})
	metrics.PendingOperations.WithLabelValues(s.opts.CollectionName).Set(float64(len(s.pending)))
}

// taskQueue is an unbounded FIFO executed by a single drain goroutine, so
// store calls never run inside another store call's completion path.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	notify chan struct{}
	closed bool
	depth  func(int)
}

func newTaskQueue(depth func(int)) *taskQueue {
	return &taskQueue{notify: make(chan struct{}, 1), depth: depth}
}

func (q *taskQueue) push(task func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.depth(len(q.tasks))
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *taskQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *taskQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain runs tasks in push order until the queue is closed and empty.
func (q *taskQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.notify
			continue
		}
		batch := q.tasks
		q.tasks = nil
		q.depth(0)
		q.mu.Unlock()

		for _, task := range batch {
			task()
		}
	}
}
