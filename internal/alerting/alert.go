// Package alerting delivers validation discrepancies to an external chat channel.
package alerting

import (
	"context"
	"time"

	"github.com/bissquit/triage-garden/internal/domain"
)

// Notification is a rendered alert ready to be sent.
type Notification struct {
	SessionID string
	Severity  domain.DiscrepancySeverity
	Subject   string
	Body      string
	CreatedAt time.Time
}

// Sender delivers notifications.
type Sender interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Queue is a bounded in-memory notification queue.
type Queue struct {
	name  string
	items chan Notification
}

// NewQueue creates a queue holding at most size notifications.
// The name labels the queue depth metric.
func NewQueue(name string, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{name: name, items: make(chan Notification, size)}
}

// Enqueue adds a notification without blocking.
func (q *Queue) Enqueue(n Notification) error {
	select {
	case q.items <- n:
		recordQueueDepth(q.name, len(q.items))
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of queued notifications.
func (q *Queue) Len() int {
	return len(q.items)
}
