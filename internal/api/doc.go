// Package api is a small client for the Kalshi REST API.
//
// The recorder uses it to discover which markets to subscribe to before it
// opens the WebSocket feed. Only the market listing endpoints are covered.
//
// REST endpoints:
//   - Production: https://api.elections.kalshi.com/trade-api/v2
//   - Demo: https://demo-api.kalshi.co/trade-api/v2
package api
