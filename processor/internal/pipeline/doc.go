// Package pipeline is the telemetry processor: a single consumer that takes
// one record at a time, runs the door and sustained alert machines for its
// package, then forwards the raw record to the ingestion store.
package pipeline
