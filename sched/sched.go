// Package sched resumes Deferred threads on a tick clock. It is the
// "resume later" collaborator of the vm package: threads are queued by the
// tick they should wake on and driven one at a time, so at most one frame
// runs at any moment.
package sched

import (
	"context"
	"time"

	"github.com/chazu/dreamcore/vm"
	"github.com/emirpasic/gods/queues/priorityqueue"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("dream.sched")

// DefaultTickLag is the wall-clock length of one tick in Run.
const DefaultTickLag = 50 * time.Millisecond

// TickStats summarizes one Tick.
type TickStats struct {
	Tick     uint64
	Resumed  int
	Returned int
	Deferred int
	Faulted  int
	Duration time.Duration
}

type entry struct {
	thread *vm.Thread
	wake   uint64
	seq    uint64 // FIFO among threads waking on the same tick
}

func byWake(a, b interface{}) int {
	x, y := a.(*entry), b.(*entry)
	switch {
	case x.wake < y.wake:
		return -1
	case x.wake > y.wake:
		return 1
	case x.seq < y.seq:
		return -1
	case x.seq > y.seq:
		return 1
	}
	return 0
}

// Scheduler owns the wake queue. It is not safe for concurrent use: Spawn
// and Tick must be called from the goroutine running the scheduler.
type Scheduler struct {
	queue   *priorityqueue.Queue
	tick    uint64
	seq     uint64
	lag     time.Duration
	onFault func(*vm.Thread, *vm.Fault)

	// Statistics
	returned int
	faulted  int
	last     TickStats
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickLag sets the tick length used by Run; d <= 0 keeps the default.
func WithTickLag(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lag = d
		}
	}
}

// WithFaultHandler installs a callback for threads that fault while being
// resumed by the scheduler.
func WithFaultHandler(fn func(*vm.Thread, *vm.Fault)) Option {
	return func(s *Scheduler) { s.onFault = fn }
}

// New creates an empty scheduler at tick 0.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		queue: priorityqueue.NewWith(byWake),
		lag:   DefaultTickLag,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn queues a thread to be resumed on the next tick. The thread must
// have a frame pushed (an idle thread) or be Deferred.
func (s *Scheduler) Spawn(thread *vm.Thread) {
	s.SpawnAfter(thread, 1)
}

// SpawnAfter queues a thread to be resumed ticks ticks from now.
func (s *Scheduler) SpawnAfter(thread *vm.Thread, ticks int) {
	if ticks < 1 {
		ticks = 1
	}
	s.seq++
	s.queue.Enqueue(&entry{thread: thread, wake: s.tick + uint64(ticks), seq: s.seq})
}

func (s *Scheduler) CurrentTick() uint64  { return s.tick }
func (s *Scheduler) Pending() int         { return s.queue.Size() }
func (s *Scheduler) Returned() int        { return s.returned }
func (s *Scheduler) Faulted() int         { return s.faulted }
func (s *Scheduler) LastStats() TickStats { return s.last }

// Tick advances the clock by one and resumes every thread due on it, in
// wake order. A thread that suspends again is requeued after the number of
// ticks its top frame asked to sleep (at least one).
func (s *Scheduler) Tick() TickStats {
	start := time.Now()
	s.tick++
	stats := TickStats{Tick: s.tick}

	for {
		head, ok := s.queue.Peek()
		if !ok || head.(*entry).wake > s.tick {
			break
		}
		s.queue.Dequeue()
		e := head.(*entry)
		stats.Resumed++

		st, err := e.thread.Resume()
		switch st {
		case vm.ThreadReturned:
			stats.Returned++
			s.returned++
			log.Debugf("tick %d: thread %d returned %s", s.tick, e.thread.ID(), e.thread.Result())
		case vm.ThreadDeferred:
			stats.Deferred++
			ticks := 1
			if sl, ok := e.thread.Top().(vm.Sleeper); ok && sl.SleepTicks() > 1 {
				ticks = sl.SleepTicks()
			}
			log.Debugf("tick %d: thread %d sleeps %d", s.tick, e.thread.ID(), ticks)
			s.SpawnAfter(e.thread, ticks)
		default:
			stats.Faulted++
			s.faulted++
			f := e.thread.Fault()
			if f == nil {
				// resumed in a state it cannot run from
				log.Warningf("tick %d: thread %d dropped: %s", s.tick, e.thread.ID(), err)
				f = &vm.Fault{Err: err}
			}
			if s.onFault != nil {
				s.onFault(e.thread, f)
			}
		}
	}

	stats.Duration = time.Since(start)
	s.last = stats
	return stats
}

// Run ticks every tick lag until no thread is queued or ctx is done. It
// returns ctx's error when cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.lag)
	defer ticker.Stop()

	for s.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
	return nil
}

// Shutdown abandons every queued thread, releasing the values their frames
// hold, and returns how many were dropped.
func (s *Scheduler) Shutdown() int {
	n := 0
	for {
		v, ok := s.queue.Dequeue()
		if !ok {
			break
		}
		v.(*entry).thread.Abandon()
		n++
	}
	if n > 0 {
		log.Infof("abandoned %d suspended threads", n)
	}
	return n
}
