// Package database provides the TimescaleDB connection pool and schema.
//
// The recorder appends captured feed frames to the feed_messages hypertable;
// the replay server reads them back in local timestamp order.
package database
