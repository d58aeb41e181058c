package notifier

import "time"

// Config controls the delivery pipeline. Zero values fall back to the
// defaults in Apply.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int // retries after the first attempt
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration // 0 disables dedup
	DedupMaxEntries int
	PersistDedup    bool
}

// HistoryItem is one recently delivered text.
type HistoryItem struct {
	At   time.Time
	Text string
}

// Event types published on the bus.
const (
	EventQueued  = "notifier.queued"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDeduped = "notifier.deduped"
	EventDropped = "notifier.dropped"
)

// DeliveryEvent is the Data payload of notifier bus events. Keep it
// small; subscribers may log or serialize it.
type DeliveryEvent struct {
	Kind     string    `json:"kind"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
