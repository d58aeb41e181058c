// Package sweep runs the reminder scheduler.
//
// Once per minute it takes a single instant from its clock, walks every
// known user, projects that instant into the user's timezone (IANA name,
// empty or unknown falls back to UTC) and fires each reminder whose
// pattern matches the local wall clock exactly: daily reminders match on
// "HH:MM", weekly ones on weekday plus "HH:MM". Matching is string
// equality on canonical forms; there are no windows and no catch-up.
//
// Failure handling is strictly isolating: a user whose reminders cannot
// be read is skipped for this tick, a reminder whose delivery is
// rejected is skipped, and only a failed user enumeration ends the tick
// early. The next tick always starts from scratch.
//
// The sweep keeps no firing watermark. If the process is down across a
// minute boundary that minute's reminders are lost, and a second
// evaluation of the same minute would fire again. That trade is
// deliberate: state-free operation over exactly-once delivery.
package sweep
