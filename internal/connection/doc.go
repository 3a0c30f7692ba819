// Package connection keeps the recorder attached to an upstream exchange
// WebSocket.
//
// A Client owns one socket: it signs the handshake, answers pings and
// timestamps every inbound message on arrival. A Feed drives a Client:
// it subscribes to the configured channels, drops command responses,
// tracks orderbook sequence numbers and reconnects with exponential backoff.
package connection
