package alerting

import (
	"context"
	"time"

	"github.com/bissquit/triage-garden/internal/domain"
	"github.com/bissquit/triage-garden/internal/pkg/ctxlog"
)

// Notifier turns discrepancies into queued notifications.
type Notifier struct {
	minSeverity domain.DiscrepancySeverity
	renderer    *Renderer
	queue       *Queue
}

// NewNotifier creates a notifier that queues discrepancies at or above minSeverity.
func NewNotifier(minSeverity domain.DiscrepancySeverity, renderer *Renderer, queue *Queue) *Notifier {
	if minSeverity.Rank() == 0 {
		minSeverity = domain.DiscrepancySeverityCritical
	}
	return &Notifier{
		minSeverity: minSeverity,
		renderer:    renderer,
		queue:       queue,
	}
}

// OnDiscrepancy queues an alert for the discrepancy. It never blocks; a full queue drops the alert.
func (n *Notifier) OnDiscrepancy(ctx context.Context, sessionID string, d domain.Discrepancy) {
	if d.Severity.Rank() < n.minSeverity.Rank() {
		recordAlert("filtered")
		return
	}

	logger := ctxlog.FromContext(ctx)

	subject, body, err := n.renderer.Render(sessionID, d)
	if err != nil {
		logger.Error("failed to render alert", "discrepancy_id", d.ID, "error", err)
		recordAlert("render_failed")
		return
	}

	err = n.queue.Enqueue(Notification{
		SessionID: sessionID,
		Severity:  d.Severity,
		Subject:   subject,
		Body:      body,
		CreatedAt: time.Now(),
	})
	if err != nil {
		logger.Warn("dropping alert", "discrepancy_id", d.ID, "system_id", d.SystemID, "error", err)
		recordAlert("dropped")
		return
	}
	recordAlert("queued")
}
