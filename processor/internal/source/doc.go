// Package source adapts transports into a stream of raw telemetry payloads
// for the processor loop. Adapters block when the processor falls behind;
// they never drop a payload on their own.
package source
