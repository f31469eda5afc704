// Package ws streams alert activity to browsers over WebSocket.
//
// Subscribers receive two event types:
//
//	{"event": "alert",    "data": { /* alerts.Alert */ }}
//	{"event": "packages", "data": { /* same schema as GET /api/v1/packages */ }}
//
// Alerts arrive as the dispatcher records them (Hub.Publish); package
// snapshots arrive on connect and then every interval. A subscriber may
// narrow its stream with query parameters on the upgrade request:
//
//	/ws/alerts?package=PKG-1,PKG-7   only those packages
//	/ws/alerts?events=alert          no snapshots
//
// Any origin is accepted; restrict origins at the reverse proxy.
package ws
