package billing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/interpret/pkg/resilience"
)

const reportTimeout = 10 * time.Second

// Dispatcher submits usage events off the adapter event loop. Submission
// never blocks; when the buffer is full the event is counted as dropped
// rather than stalling audio handling. Fatal wallet refusals are surfaced
// through the OnFatal callback exactly once per dispatcher.
type Dispatcher struct {
	reporter Reporter
	breaker  *resilience.CircuitBreaker
	onFatal  func(err error)

	ch        chan UsageEvent
	dropped   int64
	closed    atomic.Bool
	once      sync.Once
	fatalOnce sync.Once
	done      chan struct{}
}

func NewDispatcher(reporter Reporter, buffer int, onFatal func(err error)) *Dispatcher {
	if reporter == nil {
		reporter = NopReporter{}
	}
	if buffer <= 0 {
		buffer = 256
	}
	d := &Dispatcher{
		reporter: reporter,
		breaker:  resilience.NewCircuitBreaker(5, 30*time.Second, nil),
		onFatal:  onFatal,
		ch:       make(chan UsageEvent, buffer),
		done:     make(chan struct{}),
	}
	go d.loop()
	return d
}

// Submit queues one usage event.
func (d *Dispatcher) Submit(ev UsageEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		atomic.AddInt64(&d.dropped, 1)
	}
}

// Dropped reports how many events were discarded due to backpressure.
func (d *Dispatcher) Dropped() int64 {
	return atomic.LoadInt64(&d.dropped)
}

// Close stops intake and waits for queued events to drain.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
	})
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for ev := range d.ch {
		if !d.breaker.Allow() {
			atomic.AddInt64(&d.dropped, 1)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		res, err := d.reporter.Report(ctx, ev)
		cancel()
		if err != nil {
			d.breaker.OnError(err)
			continue
		}
		d.breaker.OnSuccess()
		if fatal := FatalError(res); fatal != nil && d.onFatal != nil {
			d.fatalOnce.Do(func() { d.onFatal(fatal) })
		}
	}
}
