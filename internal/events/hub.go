package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the pending queue (default 1024).
//   - MaxBatch: flush once this many events are pending (default 100).
//   - MaxWait: flush a partial batch after this long (default 250ms).
//   - SinkTimeout: per-sink deadline for one batch (default 5s).
type Config struct {
	BufferSize  int
	MaxBatch    int
	MaxWait     time.Duration
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 1024
	defaultMaxBatch    = 100
	defaultMaxWait     = 250 * time.Millisecond
	defaultSinkTimeout = 5 * time.Second
	dropLogInterval    = 5 * time.Second
)

// Hub batches events and fans them out to sinks from a single goroutine. It is
// safe for concurrent use and Emit never blocks.
type Hub struct {
	cfg    Config
	sinks  []Sink
	queue  chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	closed   atomic.Bool
	dropped  atomic.Int64
	lastDrop atomic.Int64

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		queue:  make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger.Named("events"),
	}
	go h.run()
	return h
}

// Emit queues evt for delivery. Invalid events and events emitted after Close
// are discarded; a full queue drops the event and logs at most once per
// interval.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid event", zap.Error(err))
		return
	}
	select {
	case h.queue <- evt:
	default:
		h.dropped.Add(1)
		now := time.Now().UnixNano()
		last := h.lastDrop.Load()
		if now-last >= dropLogInterval.Nanoseconds() && h.lastDrop.CompareAndSwap(last, now) {
			h.logger.Warn("lifecycle events dropped due to backpressure", zap.Int64("dropped", h.dropped.Swap(0)))
		}
	}
}

// Close stops intake, delivers what is queued, closes the sinks, and waits for
// the delivery goroutine or ctx, whichever comes first. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event hub close: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	batch := make([]Event, 0, h.cfg.MaxBatch)
	timer := time.NewTimer(h.cfg.MaxWait)
	timer.Stop()

	for {
		select {
		case evt := <-h.queue:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatch {
				timer.Stop()
				batch = h.flush(batch)
			} else if len(batch) == 1 {
				timer.Reset(h.cfg.MaxWait)
			}
		case <-timer.C:
			batch = h.flush(batch)
		case <-h.stop:
			timer.Stop()
			h.drain(batch)
			return
		}
	}
}

func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.queue:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatch {
				batch = h.flush(batch)
			}
		default:
			h.flush(batch)
			for _, sink := range h.sinks {
				if err := sink.Close(h.closeCtx); err != nil {
					h.logger.Warn("event sink close failed", zap.Error(err))
				}
			}
			return
		}
	}
}

// flush delivers batch to every sink and returns the emptied slice.
func (h *Hub) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	snapshot := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, snapshot); err != nil {
			h.logger.Warn("event sink consume failed", zap.Int("events", len(snapshot)), zap.Error(err))
		}
		cancel()
	}
	return batch[:0]
}
