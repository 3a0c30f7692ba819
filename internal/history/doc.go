// Package history reads recorded feed messages back out of storage.
//
// A Source opens one Stream per replay request. Streams yield messages in
// ascending local timestamp order and return io.EOF when exhausted. A Merger
// combines several streams into a single timestamp-ordered sequence, tagging
// every item with the index of the stream it came from.
//
// Storage conventions follow the recorder:
//   - Timestamps: int64 microseconds since Unix epoch (local receive time)
//   - Payloads: the verbatim text frame received from the exchange
package history
