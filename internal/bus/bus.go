package bus

import (
	"context"
	"log/slog"
	"sync"

	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

// Handler processes a single inbound event.
type Handler func(ctx context.Context, evt domain.InboundEvent)

// Dispatcher carries inbound events from the session callback to the relay.
// Publish never blocks the caller and every event is handled in its own
// goroutine, so a slow downstream never delays the next message.
type Dispatcher struct {
	inbound chan domain.InboundEvent
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// New creates a Dispatcher with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Dispatcher{
		inbound: make(chan domain.InboundEvent, bufferSize),
		logger:  logger,
	}
}

// Publish enqueues evt. It reports false when the event was dropped because
// the dispatcher is closed or its buffer is full.
func (d *Dispatcher) Publish(evt domain.InboundEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("dispatcher closed, dropping event", "sender", evt.Sender)
		metrics.DispatchDropped.Inc()
		return false
	}

	select {
	case d.inbound <- evt:
		return true
	default:
		d.logger.Error("dispatcher full, dropping event", "sender", evt.Sender, "id", evt.ID)
		metrics.DispatchDropped.Inc()
		return false
	}
}

// Run hands every event to handle until ctx is done or the dispatcher is
// closed, then waits for in-flight handlers. Handlers get a context that is
// not cancelled on shutdown; they are expected to bound themselves.
//
// When ctx is done, Run closes the dispatcher and still hands the events left
// in the buffer to handle, so nothing accepted by Publish is lost silently.
func (d *Dispatcher) Run(ctx context.Context, handle Handler) {
	var wg sync.WaitGroup
	defer wg.Wait()

	hctx := context.WithoutCancel(ctx)
	dispatch := func(evt domain.InboundEvent) {
		metrics.InFlightRelays.Inc()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer metrics.InFlightRelays.Dec()
			handle(hctx, evt)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			d.Close()
			drained := 0
			for evt := range d.inbound {
				dispatch(evt)
				drained++
			}
			if drained > 0 {
				d.logger.Info("dispatched buffered events on shutdown", "count", drained)
			}
			return
		case evt, ok := <-d.inbound:
			if !ok {
				return
			}
			dispatch(evt)
		}
	}
}

// Close stops accepting events. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed {
		d.closed = true
		close(d.inbound)
	}
}
