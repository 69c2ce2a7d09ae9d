// Package dedupe guarantees that a discovered code is accepted at most once
// across the whole fleet, no matter how many agents report it concurrently,
// and durably records each first acceptance before the winner returns.
package dedupe
