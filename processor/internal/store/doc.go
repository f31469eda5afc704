// Package store tracks per-package activity (latest record, first and last
// seen, record count) for the HTTP API and the WebSocket hub. It is a read
// model only: alert state lives in package alerts and is never derived from
// here.
package store
