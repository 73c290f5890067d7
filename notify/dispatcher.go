package notify

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-accounts"
)

var (
	// DefaultPollInterval is how often the dispatcher looks for due rows.
	DefaultPollInterval = 5 * time.Second
	// DefaultBaseBackoff is the delay before the first retry. Each further
	// retry doubles it, capped at DefaultMaxBackoff.
	DefaultBaseBackoff = 30 * time.Second
	// DefaultMaxBackoff bounds the retry delay.
	DefaultMaxBackoff = 1 * time.Hour
	// DefaultMaxAttempts is the delivery attempt budget per row.
	DefaultMaxAttempts = 8
	// DefaultWorkers is the delivery worker pool size.
	DefaultWorkers = 4
	// DefaultBatchSize caps how many rows a single poll claims.
	DefaultBatchSize = 50
)

// Dispatcher drains the notification outbox. Rows are written by the
// account commands in the same transaction as the state change; this loop
// picks up pending rows and delivers them at least once. A crash after
// delivery but before the row is marked delivered causes a resend, never a
// lost message.
type Dispatcher struct {
	store    accounts.Notifications
	sender   Sender
	renderer *Renderer
	logger   accounts.Logger

	pollInterval time.Duration
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxAttempts  int
	workers      int
	batchSize    int

	now func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type DispatcherOption func(*Dispatcher)

func WithLogger(logger accounts.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

func WithBackoff(base, max time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if base > 0 {
			d.baseBackoff = base
		}
		if max > 0 {
			d.maxBackoff = max
		}
	}
}

func WithMaxAttempts(attempts int) DispatcherOption {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.maxAttempts = attempts
		}
	}
}

func WithWorkers(workers int) DispatcherOption {
	return func(d *Dispatcher) {
		if workers > 0 {
			d.workers = workers
		}
	}
}

func WithBatchSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

func withClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDispatcher(store accounts.Notifications, sender Sender, renderer *Renderer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		sender:       sender,
		renderer:     renderer,
		logger:       accounts.DefaultLogger(),
		pollInterval: DefaultPollInterval,
		baseBackoff:  DefaultBaseBackoff,
		maxBackoff:   DefaultMaxBackoff,
		maxAttempts:  DefaultMaxAttempts,
		workers:      DefaultWorkers,
		batchSize:    DefaultBatchSize,
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	return d
}

// Start launches the poll loop and worker pool. It returns immediately;
// call Stop to drain and shut down.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	jobs := make(chan *accounts.Notification)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				d.deliver(ctx, n)
			}
		}()
	}

	go func() {
		defer close(d.done)
		defer wg.Wait()
		defer close(jobs)

		ticker := time.NewTicker(d.pollInterval)
		defer ticker.Stop()

		for {
			d.drain(ctx, jobs)

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels the loop and waits for in-flight deliveries to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

// Drain runs a single poll cycle synchronously. Used by tests and by
// callers that want to flush the outbox without the background loop.
func (d *Dispatcher) Drain(ctx context.Context) {
	due, err := d.store.ClaimDue(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("outbox claim error: %v", err)
		return
	}
	for _, n := range due {
		d.deliver(ctx, n)
	}
}

func (d *Dispatcher) drain(ctx context.Context, jobs chan<- *accounts.Notification) {
	due, err := d.store.ClaimDue(ctx, d.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error("outbox claim error: %v", err)
		}
		return
	}

	for _, n := range due {
		select {
		case <-ctx.Done():
			return
		case jobs <- n:
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n *accounts.Notification) {
	msg, err := d.renderer.Render(n)
	if err != nil {
		// Render errors never heal on retry, give up immediately.
		d.logger.Error("notification %s render error: %v", n.ID, err)
		d.fail(ctx, n, err)
		return
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		d.retry(ctx, n, err)
		return
	}

	if err := d.store.MarkDelivered(ctx, n.ID); err != nil {
		// The message is out. Leaving the row pending means a duplicate
		// send later, which at-least-once delivery allows.
		d.logger.Error("notification %s delivered but not marked: %v", n.ID, err)
		return
	}

	d.logger.Info("notification %s delivered to %s (%s)", n.ID, n.Recipient, n.TemplateID)
}

func (d *Dispatcher) retry(ctx context.Context, n *accounts.Notification, cause error) {
	attempts := n.Attempts + 1

	if attempts >= d.maxAttempts {
		d.logger.Error("notification %s failed after %d attempts: %v", n.ID, attempts, cause)
		d.fail(ctx, n, cause)
		return
	}

	next := d.now().Add(d.backoff(attempts))
	if err := d.store.MarkRetry(ctx, n.ID, attempts, next, cause.Error()); err != nil {
		d.logger.Error("notification %s retry bookkeeping error: %v", n.ID, err)
		return
	}

	d.logger.Warn("notification %s delivery error (attempt %d, next %s): %v",
		n.ID, attempts, next.Format(time.RFC3339), cause)
}

func (d *Dispatcher) fail(ctx context.Context, n *accounts.Notification, cause error) {
	if err := d.store.MarkFailed(ctx, n.ID, n.Attempts+1, cause.Error()); err != nil {
		d.logger.Error("notification %s failure bookkeeping error: %v", n.ID, err)
	}
}

// backoff returns base << (attempts-1) capped at maxBackoff.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.baseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.maxBackoff {
			return d.maxBackoff
		}
	}
	if delay > d.maxBackoff {
		return d.maxBackoff
	}
	return delay
}
