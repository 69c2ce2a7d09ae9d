// Package agent implements one polling client of the fleet.
//
// # Overview
//
// Each Agent is bound to a single identity token and owns a realtime
// connection, an adaptive next-allowed-poll-time, and the response handling
// that feeds the shared dedup cache.
//
// # State machine
//
//	Disconnected → Connecting → Connected → Draining → Closed
//
// Connect is non-blocking: the handshake completes via callback. A
// transport drop returns the agent to Disconnected; reconnection is the
// connection layer's job, the agent just observes it.
//
// # Scheduling
//
// Poll fires only when the agent is Connected and the poll is due. Every
// fired poll resets the schedule to now+baseInterval; a throttle advisory
// from the server ("please retry in 45 seconds") overrides that with the
// parsed duration. The schedule is monotonically non-decreasing except for
// those explicit server overrides.
//
// # Events
//
// Instead of deciding anything in network callbacks, the response handler
// posts discrete events (Discovered, Throttled, Ignored) to the fleet's
// event channel; a single observer consumes them sequentially and makes
// the shutdown decision there.
//
// # Thread safety
//
// The per-agent mutex guards state, nextPollAt, and lastAdvisory. The only
// cross-agent state an Agent touches is the dedup cache and the stop flag,
// both of which are internally synchronized.
package agent
