package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	NumWorkers        int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		NumWorkers:        2,
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Worker delivers queued notifications through a sender.
type Worker struct {
	config WorkerConfig
	queue  *Queue
	sender Sender

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new alert worker.
func NewWorker(config WorkerConfig, queue *Queue, sender Sender) *Worker {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &Worker{
		config: config,
		queue:  queue,
		sender: sender,
		stopCh: make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting alert worker",
		"workers", w.config.NumWorkers,
		"sender", w.sender.Name(),
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop gracefully stops all workers. Alerts still queued are dropped.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	slog.Info("alert worker stopped", "dropped", w.queue.Len())
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case n := <-w.queue.items:
			recordQueueDepth(w.queue.name, w.queue.Len())
			w.deliver(ctx, workerID, n)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, workerID int, n Notification) {
	start := time.Now()
	name := w.sender.Name()

	for attempt := 1; ; attempt++ {
		err := w.sender.Send(ctx, n)
		if err == nil {
			recordAlertSent(name, "success")
			recordSendDuration(name, time.Since(start))
			slog.Debug("alert sent", "worker", workerID, "session_id", n.SessionID, "attempts", attempt)
			return
		}

		slog.Warn("alert send failed",
			"worker", workerID,
			"attempt", attempt,
			"max_attempts", w.config.MaxAttempts,
			"error", err,
		)

		if !isRetryable(err) {
			recordAlertSent(name, "failed")
			return
		}
		if attempt >= w.config.MaxAttempts {
			recordAlertSent(name, "failed")
			slog.Error("alert dropped", "session_id", n.SessionID, "error", fmt.Errorf("max attempts exceeded: %w", err))
			return
		}

		recordAlertSent(name, "retry")
		timer := time.NewTimer(w.calculateBackoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (w *Worker) calculateBackoff(attempt int) time.Duration {
	backoff := float64(w.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= w.config.BackoffMultiplier
	}

	if backoff > float64(w.config.MaxBackoff) {
		backoff = float64(w.config.MaxBackoff)
	}

	return time.Duration(backoff)
}
