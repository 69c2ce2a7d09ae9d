// Package pool provides a bounded worker pool. The same abstraction serves
// identity provisioning, staggered connects, and the per-agent poll loops,
// so the fleet's concurrency limits are governed in one place.
package pool
