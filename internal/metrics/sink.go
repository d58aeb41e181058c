// Package metrics decouples services from the metrics backend. Services
// talk to a Sink; the ops server exposes the Prometheus registry.
package metrics

import "time"

// Sink receives operational signals from the sweep and the notifier.
// Implementations must not block and never return errors.
type Sink interface {
	TickStarted()
	TickCompleted(d time.Duration, users, fired int, err error)
	TickSkipped()
	UserSkipped()

	DeliveryOutcome(outcome string)
	QueueDepth(n int)
}

// Outcome labels for DeliveryOutcome.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
	OutcomeDeduped = "deduped"
)

// Nop discards everything. Useful default and test double.
type Nop struct{}

func (Nop) TickStarted()                                 {}
func (Nop) TickCompleted(time.Duration, int, int, error) {}
func (Nop) TickSkipped()                                 {}
func (Nop) UserSkipped()                                 {}
func (Nop) DeliveryOutcome(string)                       {}
func (Nop) QueueDepth(int)                               {}
