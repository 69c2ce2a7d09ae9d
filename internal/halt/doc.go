// Package halt provides the fleet-wide stop signal.
//
// The only shared control state in the system is a single set-once flag.
// Both legitimate shutdown triggers — a first discovery while running in
// stop-on-first mode, and external cancellation — race to trip it, and the
// transition is guaranteed to happen exactly once. Agents observe the flag
// cooperatively, once per scheduling tick.
package halt
