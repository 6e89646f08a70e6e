package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	KindEntryRecorded    = "ledger.entry_recorded"
	KindEntryVoided      = "ledger.entry_voided"
	KindClaimFiled       = "claims.claim_filed"
	KindClaimReimbursed  = "claims.claim_reimbursed"
	KindClaimDenied      = "claims.claim_denied"
	KindClaimWithdrawn   = "claims.claim_withdrawn"
	KindPayrollCompleted = "payroll.batch_completed"
	KindPaymentSent      = "payments.payment_sent"
)

// Event describes something that was committed. Events are published after
// the commit and delivery is best effort.
type Event struct {
	Kind       string         `json:"kind"`
	TenantID   string         `json:"tenant_id"`
	SubjectID  string         `json:"subject_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Publisher delivers events to downstream systems.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LoggerPublisher writes events to the structured logger.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish writes the event to the structured logger.
func (p *LoggerPublisher) Publish(_ context.Context, event Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("event", "kind", event.Kind, "tenant_id", event.TenantID, "subject_id", event.SubjectID, "attributes", event.Attributes)
	return nil
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory; tests use it to assert on
// post-commit behaviour.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds lists the kinds recorded so far, in order.
func (r *Recorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}
