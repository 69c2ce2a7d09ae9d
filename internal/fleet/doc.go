// Package fleet orchestrates the collection of polling agents.
//
// # Overview
//
// The Manager builds one agent per identity and runs their lifecycle over
// a single bounded worker pool, in two phases:
//
//  1. Connect: each agent's non-blocking handshake is submitted with a
//     fixed stagger between submissions, spreading the connection load.
//  2. Poll: after a settling delay, each agent's cooperative poll loop is
//     submitted to the same pool.
//
// # Shutdown coordination
//
// The only state shared across agents is the dedup cache and the set-once
// stop flag. The Manager's observer consumes agent events sequentially; a
// Discovered event in stop-on-first mode trips the flag, as does external
// cancellation, and the flag's transition is exactly-once however many
// triggers race. Every poll loop observes the flag within one tick;
// Shutdown then drains each agent with a bounded timeout and reports the
// ones that missed it.
//
// Per-agent failures never propagate to other agents or terminate the
// fleet. Only a discovery (in stop-on-first mode) or cancellation does.
package fleet
