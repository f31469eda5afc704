// Package alerts holds the per-package alert state, the threshold evaluator
// and the dispatcher that turns condition transitions into notifications.
//
// The evaluator is pure: given a record and a state snapshot it computes a
// transition without touching anything. The dispatcher applies the transition
// to the live state (counters and latches), then decides whether a
// notification is due, honouring the per-(package, kind) cooldown.
//
// Two independent machines run per package:
//
//   - door: enter on door_open=true, recover on the first closed report
//   - sustained: temperature or shock above threshold for N consecutive
//     records; both causes share one counter and one latch
package alerts
