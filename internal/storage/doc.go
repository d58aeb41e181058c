// Package storage is the per-user document store.
//
// Every record is scoped by the owning user id: tasks, reminders, notes,
// habit logs and parked ideas. The backend is a single SQLite file
// (modernc.org/sqlite, no cgo) with the schema embedded in
// migrations.sql.
//
// The store validates reminder fields on write (canonical "HH:MM" time,
// full weekday name exactly when weekly), so readers may trust stored
// rows; defensive readers still skip malformed ones.
package storage
