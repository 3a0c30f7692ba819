// Package writer batch-inserts recorded feed messages into TimescaleDB.
//
// The writer is append-only: rows are never updated. Each row keeps the
// message payload verbatim together with the local receive time in
// microseconds, which is the replay ordering key.
package writer
