// Package replay implements consolidated WebSocket replay sessions.
//
// Clients asking for the same time range within a short window share one
// Session:
//   - The Registry hands every new connection the session for its range key
//   - A session accepts connections until its window elapses, then locks
//   - Each connection's subscription messages become history filters
//   - One replay stream per connection is merged by timestamp and each item is
//     sent to the connection that asked for it, waiting for that socket's
//     outbound buffer to drain first
//
// Any failure after lock (missing subscription, replay error, socket error)
// closes every connection in the session with an error code.
package replay
