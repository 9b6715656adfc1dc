// Package notify delivers job state-change events to configured webhook
// destinations, asynchronously and with per-destination failure isolation.
package notify

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"jobplane/internal/job"
	"jobplane/pkg/backoff"
	"jobplane/pkg/circuitbreaker"
	"jobplane/pkg/stateevent"
)

// Hardcoded delivery defaults - these rarely need tuning.
const (
	defaultMaxRetries       = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
)

// Config holds notifier configuration.
type Config struct {
	Destinations []string      // webhook URLs; empty disables the notifier
	SigningKey   string        // HMAC key, empty = unsigned events
	QueueSize    int           // pending deliveries (default: 10000)
	Workers      int           // concurrent delivery goroutines (default: 10)
	HTTPTimeout  time.Duration // per-request timeout (default: 10s)
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}

// MetricsRecorder is an optional interface for recording notifier metrics.
type MetricsRecorder interface {
	RecordNotifierDelivered(ctx context.Context, durationSeconds float64)
	RecordNotifierFailed(ctx context.Context)
	RecordNotifierDropped(ctx context.Context)
	RecordNotifierQueueSize(ctx context.Context, size int64)
}

// delivery is one event bound for one destination.
type delivery struct {
	event       *stateevent.Event
	destination string
}

// Notifier fans job status transitions out to every configured destination.
// Deliveries queue in a bounded channel and a worker pool drains it; a full
// queue drops the event rather than blocking the lifecycle path.
type Notifier struct {
	queue    chan delivery
	sender   *stateevent.Sender
	breakers *circuitbreaker.Registry
	config   Config
	logger   *slog.Logger
	metrics  MetricsRecorder

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// New creates a notifier and starts its worker pool.
func New(cfg Config, metrics MetricsRecorder) *Notifier {
	cfg = cfg.withDefaults()

	n := &Notifier{
		queue:  make(chan delivery, cfg.QueueSize),
		sender: stateevent.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			FailureThreshold: defaultBreakerThreshold,
			ReopenAfter:      defaultBreakerCooldown,
		}),
		config:   cfg,
		logger:   slog.With("component", "notifier"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	n.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go n.worker()
	}

	if metrics != nil {
		go n.reportQueueSize()
	}

	n.logger.Info("Notifier started",
		"destinations", len(cfg.Destinations), "workers", cfg.Workers, "queue", cfg.QueueSize)
	return n
}

// JobStatusChanged queues one event per destination for the transition.
// Non-blocking; when the queue is full the event is dropped and counted.
func (n *Notifier) JobStatusChanged(jobID string, previous, current job.Status, message string) {
	if n.closed.Load() || len(n.config.Destinations) == 0 {
		return
	}

	event := stateevent.New(uuid.NewString(), jobID, string(previous), string(current), message)
	for _, destination := range n.config.Destinations {
		select {
		case n.queue <- delivery{event: event, destination: destination}:
		default:
			n.dropped.Add(1)
			if n.metrics != nil {
				n.metrics.RecordNotifierDropped(context.Background())
			}
			n.logger.Warn("Event dropped, queue full",
				"destination", extractHost(destination), "jobId", jobID)
		}
	}
}

// Close shuts the notifier down, draining queued deliveries until the context
// expires.
func (n *Notifier) Close(ctx context.Context) error {
	if n.closed.Swap(true) {
		return nil
	}

	n.logger.Info("Notifier shutting down", "queued", len(n.queue))
	close(n.shutdown)

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("Notifier shutdown complete",
			"delivered", n.delivered.Load(),
			"failed", n.failed.Load(),
			"dropped", n.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		n.logger.Warn("Notifier shutdown timed out", "remaining", len(n.queue))
		return ctx.Err()
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.shutdown:
			n.drainQueue()
			return
		case d := <-n.queue:
			n.deliver(d)
		}
	}
}

func (n *Notifier) drainQueue() {
	for {
		select {
		case d := <-n.queue:
			n.deliver(d)
		default:
			return
		}
	}
}

// deliver attempts one delivery with retry, guarded by the destination's
// breaker. An open breaker drops the event: the lifecycle store remains the
// source of truth, so consumers resync from it when deliveries resume.
func (n *Notifier) deliver(d delivery) {
	host := extractHost(d.destination)
	breaker := n.breakers.Get(host)

	if !breaker.Allow() {
		n.dropped.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifierDropped(context.Background())
		}
		n.logger.Debug("Event dropped, circuit open", "destination", host, "jobId", d.event.JobID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := n.sendWithRetry(ctx, d); err != nil {
		breaker.RecordFailure()
		n.failed.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifierFailed(ctx)
		}
		n.logger.Warn("Delivery failed",
			"destination", host, "jobId", d.event.JobID, "error", err)
		return
	}

	breaker.RecordSuccess()
	n.delivered.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifierDelivered(ctx, time.Since(start).Seconds())
	}
}

func (n *Notifier) sendWithRetry(ctx context.Context, d delivery) error {
	var lastErr error
	for attempt := range defaultMaxRetries + 1 {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.Delay(attempt, nil)):
			}
		}

		lastErr = n.sender.Send(ctx, d.destination, d.event, n.config.SigningKey)
		if lastErr == nil {
			return nil
		}
		if stateevent.IsClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (n *Notifier) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.shutdown:
			return
		case <-ticker.C:
			n.metrics.RecordNotifierQueueSize(context.Background(), int64(len(n.queue)))
		}
	}
}

// Stats is a point-in-time snapshot for diagnostics.
type Stats struct {
	QueueDepth   int
	Delivered    int64
	Failed       int64
	Dropped      int64
	BreakersOpen int
}

// Stats returns current notifier statistics.
func (n *Notifier) Stats() Stats {
	return Stats{
		QueueDepth:   len(n.queue),
		Delivered:    n.delivered.Load(),
		Failed:       n.failed.Load(),
		Dropped:      n.dropped.Load(),
		BreakersOpen: n.breakers.OpenCount(),
	}
}

// extractHost extracts the host from a URL for circuit breaker keying.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
