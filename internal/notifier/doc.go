// Package notifier delivers outbound pushes produced by background
// services, primarily reminder messages from the sweep.
//
// Deliveries flow through a bounded queue into a small worker pool. A
// token bucket keeps the send rate under the platform limit and failed
// sends retry with jittered exponential backoff. An optional dedup
// window suppresses identical pushes; it is off by default because
// recurring reminders legitimately repeat the same text. When a
// DedupStore is wired in, the window survives restarts.
//
// The service keeps a short in-memory history of delivered texts for
// the /status command.
package notifier
