/*
Package prioritylimiter bounds the number of chunk reads in flight and decides
which waiting read goes next.

Reads are admitted by priority (lower first), then by key. Queries use the
chunk index as priority and the request id as key, so the early chunks of every
query go first and a query already being served is preferred over a newer one
with the same progress.
*/
package prioritylimiter

import (
	"container/heap"
	"context"
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	stateActive    = -1
	stateNew       = -2
	stateCancelled = -3
)

type ticket struct {
	priority int
	key      string
	admitted chan struct{}
	// index in the waiting heap, or one of the states above. Only the loop
	// goroutine touches it.
	index int
}

type queue []*ticket

// Limiter admits at most limit holders at a time.
type Limiter struct {
	waiting queue
	slots   chan struct{}
	arrive  chan *ticket
	cancel  chan *ticket

	waitingCount int32
	activeGauge  prometheus.Gauge
	waitingGauge prometheus.Gauge
}

type Option func(*Limiter)

// WithMetrics reports the active and waiting counts to the gauges.
func WithMetrics(active, waiting prometheus.Gauge) Option {
	return func(l *Limiter) {
		l.activeGauge = active
		l.waitingGauge = waiting
	}
}

// New starts a limiter admitting up to limit holders.
func New(limit int, options ...Option) *Limiter {
	if limit < 1 {
		limit = 1
	}

	l := &Limiter{
		slots:  make(chan struct{}, limit),
		arrive: make(chan *ticket),
		cancel: make(chan *ticket),
	}
	for _, o := range options {
		o(l)
	}

	go l.loop()

	return l
}

// Enter blocks until the caller is admitted or ctx is done. A caller that was
// admitted must Leave.
func (l *Limiter) Enter(ctx context.Context, priority int, key string) error {
	t := &ticket{
		priority: priority,
		key:      key,
		admitted: make(chan struct{}),
		index:    stateNew,
	}

	l.arrive <- t

	// A done context wins over an admission that raced with it.
	if ctx.Err() != nil {
		l.cancel <- t
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		l.cancel <- t
		return ctx.Err()
	case <-t.admitted:
		return nil
	}
}

// Leave releases a slot.
func (l *Limiter) Leave() error {
	select {
	case <-l.slots:
		return nil
	default:
		return errors.New("leaving a limiter nobody entered")
	}
}

// Active is the number of admitted holders.
func (l *Limiter) Active() int {
	return len(l.slots)
}

// Waiting is the number of callers blocked in Enter.
func (l *Limiter) Waiting() int {
	return int(atomic.LoadInt32(&l.waitingCount))
}

func (l *Limiter) loop() {
	for {
		var admit chan struct{}
		if len(l.waiting) > 0 {
			admit = l.slots
		}

		select {
		case t := <-l.arrive:
			if t.index != stateCancelled {
				heap.Push(&l.waiting, t)
			}
		case t := <-l.cancel:
			if t.index >= 0 {
				heap.Remove(&l.waiting, t.index)
			}
			if t.index == stateActive {
				// Admitted while Enter gave up; nobody will Leave.
				l.Leave()
			}
			t.index = stateCancelled
		case admit <- struct{}{}:
			t := heap.Pop(&l.waiting).(*ticket)
			close(t.admitted)
		}

		atomic.StoreInt32(&l.waitingCount, int32(len(l.waiting)))
		if l.activeGauge != nil {
			l.activeGauge.Set(float64(len(l.slots)))
		}
		if l.waitingGauge != nil {
			l.waitingGauge.Set(float64(len(l.waiting)))
		}
	}
}

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].priority == q[j].priority {
		return q[i].key < q[j].key
	}
	return q[i].priority < q[j].priority
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x interface{}) {
	t := x.(*ticket)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *queue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	t.index = stateActive
	old[n-1] = nil
	*q = old[:n-1]
	return t
}
