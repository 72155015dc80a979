package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// Delivery is one unit of outbound work, usually one activity to one inbox.
type Delivery interface {
	String() string
	Deliver(ctx context.Context) error
}

// OutputPipeline is an asynchronous pool of workers sending deliveries.
// A failed delivery is logged and never holds up the others.
type OutputPipeline struct {
	workers  int
	pipeline chan Delivery
	stop     chan struct{}
	stopOnce sync.Once
	pending  sync.WaitGroup

	lock     sync.Mutex
	stopped  bool
	overflow sync.WaitGroup // Queue goroutines waiting for room
}

func NewPipeline(workers int) *OutputPipeline {
	if workers <= 0 {
		workers = defaultDeliveryWorkers
	}
	return &OutputPipeline{
		workers:  workers,
		pipeline: make(chan Delivery, 256),
		stop:     make(chan struct{}),
	}
}

// Queue hands a delivery to the workers without waiting for it.
// Once the pipeline has stopped the delivery is dropped.
func (p *OutputPipeline) Queue(d Delivery) {
	p.pending.Add(1)
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.stopped {
		p.drop(d)
		return
	}
	telemetry.Trace("queued %s", d)
	select {
	case p.pipeline <- d:
	default:
		// full; a worker queueing more work mustn't block on itself
		p.overflow.Add(1)
		go func() {
			defer p.overflow.Done()
			select {
			case p.pipeline <- d:
			case <-p.stop:
				p.drop(d)
			}
		}()
	}
}

func (p *OutputPipeline) drop(d Delivery) {
	telemetry.Warn("dropped %s, pipeline stopped", d)
	p.pending.Done()
}

// Run starts the workers and waits until the context ends or Stop is called.
func (p *OutputPipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Wait()
	p.Stop()
	p.drain()
	return ctx.Err()
}

// drain drops whatever the workers left behind so Flush can return
func (p *OutputPipeline) drain() {
	p.overflow.Wait()
	for {
		select {
		case d := <-p.pipeline:
			p.drop(d)
		default:
			return
		}
	}
}

func (p *OutputPipeline) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case d := <-p.pipeline:
			p.deliver(ctx, d)
		}
	}
}

func (p *OutputPipeline) deliver(ctx context.Context, d Delivery) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error(fmt.Errorf("panic: %v", r), "delivering %s", d)
		}
	}()
	if err := d.Deliver(ctx); err != nil {
		telemetry.Increment("delivery_failures", 1)
		telemetry.Error(err, "delivering %s", d)
		return
	}
	telemetry.Increment("delivery_successes", 1)
}

// Flush waits until everything queued so far has been delivered or has failed.
// Deliveries queued by other deliveries are waited for too.
func (p *OutputPipeline) Flush() {
	p.pending.Wait()
}

func (p *OutputPipeline) Stop() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.stopped = true
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}
