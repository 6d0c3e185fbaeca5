package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/lib/protocol"
	"github.com/ValentinKolb/dGrid/lib/telemetry"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("scheduler")

// ErrNilSubscription is returned as the error of tasks added without a subscription
var ErrNilSubscription = errors.New("scheduler: nil subscription")

// ErrorEvent describes a failed handler invocation. The OnError callback may
// replace Err and set Handled to swallow the failure.
type ErrorEvent struct {
	Message *protocol.Message
	Err     error
	Handled bool
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithName sets the name used in metric labels and log output
func WithName(name string) Option {
	return func(s *Scheduler) { s.name = name }
}

// WithErrorHandler installs the OnError callback at construction
func WithErrorHandler(fn func(*ErrorEvent)) Option {
	return func(s *Scheduler) { s.OnError(fn) }
}

type task struct {
	sub *Subscription
	msg *protocol.Message
}

// partition is the queue of one partition id. running is true while a
// worker goroutine owns the queue.
type partition struct {
	id      int32
	mu      sync.Mutex
	queue   []task
	running bool
}

// Scheduler executes handlers with per partition ordering
type Scheduler struct {
	name       string
	partitions *xsync.MapOf[int32, *partition]

	// lifecycle makes Add and Dispose mutually exclusive so no worker is
	// started after Dispose began waiting
	lifecycle sync.RWMutex
	disposed  bool
	workers   sync.WaitGroup

	running    atomic.Int64
	exceptions atomic.Int64
	unhandled  atomic.Int64
	onError    atomic.Pointer[func(*ErrorEvent)]

	tasksTotal      *vm.Counter
	skippedTotal    *vm.Counter
	exceptionsTotal *vm.Counter
	handlerTimer    gometrics.Timer
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		name:       "events",
		partitions: xsync.NewMapOf[int32, *partition](),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tasksTotal = telemetry.Counter(fmt.Sprintf(`dgrid_scheduler_tasks_total{scheduler=%q}`, s.name))
	s.skippedTotal = telemetry.Counter(fmt.Sprintf(`dgrid_scheduler_skipped_total{scheduler=%q}`, s.name))
	s.exceptionsTotal = telemetry.Counter(fmt.Sprintf(`dgrid_scheduler_handler_errors_total{scheduler=%q}`, s.name))
	s.handlerTimer = telemetry.Timer("scheduler.handler")
	return s
}

// --------------------------------------------------------------------------
// Public API
// --------------------------------------------------------------------------

// OnError sets the callback for failed handler invocations. The callback runs
// on the worker of the failed task's partition.
func (s *Scheduler) OnError(fn func(*ErrorEvent)) {
	if fn == nil {
		s.onError.Store(nil)
		return
	}
	s.onError.Store(&fn)
}

// Add queues msg for sub on the partition of msg. It returns false once the
// scheduler was disposed.
func (s *Scheduler) Add(sub *Subscription, msg *protocol.Message) bool {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if s.disposed {
		return false
	}

	id := msg.PartitionID()
	p, _ := s.partitions.LoadOrCompute(id, func() *partition {
		return &partition{id: id}
	})

	p.mu.Lock()
	p.queue = append(p.queue, task{sub: sub, msg: msg})
	start := !p.running
	if start {
		p.running = true
		s.running.Add(1)
		s.workers.Add(1)
	}
	p.mu.Unlock()

	if start {
		go s.drain(p)
	}
	return true
}

// ExceptionCount returns the number of failed handler invocations
func (s *Scheduler) ExceptionCount() int64 { return s.exceptions.Load() }

// UnhandledCount returns the number of failures no OnError callback handled
func (s *Scheduler) UnhandledCount() int64 { return s.unhandled.Load() }

// PartitionTasksCount returns the number of partitions with a running worker
func (s *Scheduler) PartitionTasksCount() int { return int(s.running.Load()) }

// Dispose rejects further tasks and waits until all queued tasks ran.
// If ctx ends first ctx.Err() is returned, the workers keep draining.
func (s *Scheduler) Dispose(ctx context.Context) error {
	s.lifecycle.Lock()
	if !s.disposed {
		s.disposed = true
		Logger.Debugf("disposing scheduler %s with %d running partitions", s.name, s.PartitionTasksCount())
	}
	s.lifecycle.Unlock()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disposes the scheduler without a deadline
func (s *Scheduler) Close() error {
	return s.Dispose(context.Background())
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// drain runs the tasks of p until the queue is empty
func (s *Scheduler) drain(p *partition) {
	defer s.workers.Done()
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.running = false
			s.running.Add(-1)
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue[0] = task{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		s.run(t)
	}
}

func (s *Scheduler) run(t task) {
	if t.sub != nil && !t.sub.Active() {
		s.skippedTotal.Inc()
		return
	}
	s.tasksTotal.Inc()

	start := time.Now()
	err := s.invoke(t)
	s.handlerTimer.UpdateSince(start)
	if err == nil {
		return
	}

	s.exceptions.Add(1)
	s.exceptionsTotal.Inc()
	ev := &ErrorEvent{Message: t.msg, Err: err}
	if fn := s.onError.Load(); fn != nil {
		s.callOnError(*fn, ev)
	}
	if !ev.Handled {
		s.unhandled.Add(1)
		Logger.Warningf("unhandled error in event handler for %s: %v", t.msg, ev.Err)
	}
}

// invoke calls the handler and turns a panic into an error
func (s *Scheduler) invoke(t task) (err error) {
	if t.sub == nil {
		return ErrNilSubscription
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panicked: %v", r)
			Logger.Debugf("handler panic stack: %s", debug.Stack())
		}
	}()
	return t.sub.handler(t.msg)
}

// callOnError runs the error callback, a panicking callback leaves the
// event unhandled
func (s *Scheduler) callOnError(fn func(*ErrorEvent), ev *ErrorEvent) {
	defer func() {
		if r := recover(); r != nil {
			ev.Handled = false
			Logger.Errorf("error callback of scheduler %s panicked: %v", s.name, r)
		}
	}()
	fn(ev)
}
