package jacc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oarkflow/jacc/logger"
)

// AllContexts addresses every policy context: subscribers registered under
// it see every change, and a change notified for it reaches every subscriber.
const AllContexts = "*"

// InvalidationSubscriber reacts to a policy change in one context.
type InvalidationSubscriber interface {
	OnPolicyChange(ctx context.Context, contextID string) error
}

type InvalidationSubscriberFunc func(ctx context.Context, contextID string) error

func (f InvalidationSubscriberFunc) OnPolicyChange(ctx context.Context, contextID string) error {
	return f(ctx, contextID)
}

// InvalidationDispatcher delivers policy change notifications to
// subscribers on a background goroutine, so the notifier never blocks.
// Subscribers run in registration order, whatever context they were
// registered for.
type InvalidationDispatcher struct {
	notifyCh      chan string
	stopCh        chan struct{}
	subscribers   []subscription
	resetInterval time.Duration
	logger        logger.Logger
	mu            sync.RWMutex
	started       bool
	stopped       bool
	wg            sync.WaitGroup
}

type subscription struct {
	contextID string
	sub       InvalidationSubscriber
}

type InvalidationDispatcherOption func(*InvalidationDispatcher)

// WithPeriodicReset also notifies AllContexts at the given interval.
func WithPeriodicReset(interval time.Duration) InvalidationDispatcherOption {
	return func(d *InvalidationDispatcher) {
		if interval > 0 {
			d.resetInterval = interval
		}
	}
}

func WithDispatcherLogger(l logger.Logger) InvalidationDispatcherOption {
	return func(d *InvalidationDispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithQueueSize sets how many pending notifications are buffered before new
// ones are dropped.
func WithQueueSize(n int) InvalidationDispatcherOption {
	return func(d *InvalidationDispatcher) {
		if n > 0 {
			d.notifyCh = make(chan string, n)
		}
	}
}

func NewInvalidationDispatcher(opts ...InvalidationDispatcherOption) *InvalidationDispatcher {
	d := &InvalidationDispatcher{
		notifyCh: make(chan string, 1024),
		stopCh:   make(chan struct{}),
		logger:   logger.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the dispatch goroutine. It does nothing when already
// running or once stopped.
func (d *InvalidationDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		var tick <-chan time.Time
		if d.resetInterval > 0 {
			ticker := time.NewTicker(d.resetInterval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case contextID := <-d.notifyCh:
				d.dispatch(ctx, contextID)
			case <-tick:
				d.dispatch(ctx, AllContexts)
			}
		}
	}()
}

// Stop ends the dispatch goroutine. A stopped dispatcher cannot be restarted.
func (d *InvalidationDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.stopped = true
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.stopped = true
	d.mu.Unlock()

	close(d.stopCh)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// NotifyPolicyChange queues a change for contextID. It never blocks; the
// notification is dropped when the queue is full.
func (d *InvalidationDispatcher) NotifyPolicyChange(contextID string) bool {
	select {
	case d.notifyCh <- contextID:
		return true
	default:
		d.logger.Error("policy change notification dropped", "context_id", contextID)
		return false
	}
}

// Subscribe registers sub for contextID, or for every context with AllContexts.
func (d *InvalidationDispatcher) Subscribe(contextID string, sub InvalidationSubscriber) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, subscription{contextID: contextID, sub: sub})
}

func (d *InvalidationDispatcher) dispatch(ctx context.Context, contextID string) {
	var errs []error
	for _, sub := range d.collectSubscribers(contextID) {
		if err := sub.OnPolicyChange(ctx, contextID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		d.logger.Error("policy change subscriber failed", "context_id", contextID, "error", err)
		return
	}
	d.logger.Debug("policy change dispatched", "context_id", contextID)
}

func (d *InvalidationDispatcher) collectSubscribers(contextID string) []InvalidationSubscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]InvalidationSubscriber, 0, len(d.subscribers))
	for _, s := range d.subscribers {
		if contextID == AllContexts || s.contextID == contextID || s.contextID == AllContexts {
			out = append(out, s.sub)
		}
	}
	return out
}
