// Package types defines the telemetry record shared by every coldchain
// component: the lenient decoder for the JSON published by package sensors
// and the canonical encoding used when a record is forwarded downstream.
//
// Decoding never rejects a well-formed JSON object. Each field is read
// independently; a missing or wrongly-typed field is simply absent on the
// Record. Only payloads that are not a JSON object fail with ErrMalformed.
package types
