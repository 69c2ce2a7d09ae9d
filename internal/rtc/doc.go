// Package rtc implements the client side of the realtime event protocol:
// JSON frames of the shape {"event": ..., "data": ...} over a websocket.
//
// A Conn authenticates by sending its auth payload as the first frame after
// every dial, then dispatches incoming frames to handlers registered with
// On. Connect is non-blocking and the connection re-establishes itself
// after transport drops; Close ends that for good and is bounded by its
// context, so draining a fleet never hangs on a stuck peer.
//
// The protocol vocabulary (event names, payload shapes) belongs to the
// callers; this package only moves frames.
package rtc
