// Package notify delivers engine events to an external channel.
// Delivery is fire-and-forget: messages queue on a bounded channel and
// a single worker drains it, so a slow or dead sink never blocks the
// pipeline.
package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/internal/feedback"
	"github.com/goldsight/trading-backend/internal/scheduler"
	"github.com/goldsight/trading-backend/pkg/types"
)

const defaultQueueSize = 64

// Sink delivers one formatted message.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// Dispatcher queues messages and drains them through the sink.
type Dispatcher struct {
	sink   Sink
	queue  chan string
	logger *zap.Logger

	dropped atomic.Int64
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	once    sync.Once
}

// NewDispatcher creates a dispatcher. queueSize <= 0 uses the default.
func NewDispatcher(sink Sink, queueSize int, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		sink:   sink,
		queue:  make(chan string, queueSize),
		logger: logger.Named("notify"),
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.worker(ctx)
}

// Stop drains queued messages and shuts the worker down.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
}

// Dropped reports how many messages were discarded on a full queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for text := range d.queue {
		if err := d.sink.Send(ctx, text); err != nil {
			d.logger.Warn("notification delivery failed", zap.Error(err))
		}
	}
}

// enqueue never blocks; on a full queue the message is dropped.
func (d *Dispatcher) enqueue(text string) {
	select {
	case d.queue <- text:
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification queue full, dropping message")
	}
}

// SignalPublished announces a freshly published signal.
func (d *Dispatcher) SignalPublished(sig types.Signal) {
	d.enqueue(formatSignal(sig))
}

// OutcomeRecorded announces a resolved signal.
func (d *Dispatcher) OutcomeRecorded(sig types.Signal, outcome types.Outcome) {
	d.enqueue(formatOutcome(sig, outcome))
}

// StrategyDegraded announces a degradation flag being set.
func (d *Dispatcher) StrategyDegraded(strategyName, reason string) {
	d.enqueue(formatDegradation(strategyName, reason))
}

// StrategyRecovered announces a degradation flag being cleared.
func (d *Dispatcher) StrategyRecovered(strategyName string) {
	d.enqueue(formatRecovery(strategyName))
}

// BreakerChanged announces a circuit breaker transition.
func (d *Dispatcher) BreakerChanged(status feedback.BreakerStatus) {
	d.enqueue(formatBreaker(status))
}

// SystemAlert announces an operational problem, such as a job failure
// streak.
func (d *Dispatcher) SystemAlert(title, detail string) {
	d.enqueue(formatAlert(title, detail))
}

// HealthDigest summarizes job health, typically on a daily cadence.
func (d *Dispatcher) HealthDigest(jobs []scheduler.JobHealth, activeSignals int) {
	d.enqueue(formatDigest(jobs, activeSignals))
}
