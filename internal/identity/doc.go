// Package identity provisions the opaque tokens that name each logical
// client to the remote service.
//
// # Overview
//
// Identities are cheap to mint but the fleet needs many of them, so the
// provisioner works in two steps:
//
//  1. Reuse: the persisted cache (a JSON array, append-only across runs)
//     is consulted first. A cache that already covers the request means
//     zero network calls.
//  2. Mint: any deficit is filled by a bounded pool of workers POSTing to
//     the registration endpoint. Each worker retries at a fixed interval
//     until it succeeds or the fleet-wide stop flag fires.
//
// The full list is rewritten to the cache before Acquire returns. If the
// stop flag interrupts provisioning, Acquire returns the partial list with
// ErrShortfall and the caller aborts startup — the system never runs a
// partial fleet.
//
// Identities are immutable once issued and are never destroyed, only
// persisted. Ownership passes to the agent they are assigned to.
package identity
