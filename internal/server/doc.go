// Package server exposes replay sessions over WebSocket.
//
// A client connects to the replay path with exchange, from and to query
// parameters, sends its usual subscribe messages, and receives the recorded
// feed for that range. Clients asking for the same range within the session
// window share one merged replay. The server also serves /health.
package server
