// ABOUTME: Protocol vocabulary and the discrete events an agent reports to the fleet.
// ABOUTME: Response handling is reframed as message passing: Discovered, Throttled, Ignored.

package agent

import "time"

// Wire event names of the realtime protocol.
const (
	eventRequest      = "getCode"
	eventCodeResponse = "codeResponse"
	eventError        = "sora_error"
	eventInviteCount  = "inviteCount"
	eventUserCount    = "userCount"
)

// AuthPayload authenticates a connection as one logical client.
type AuthPayload struct {
	UserID string `json:"user_id"`
}

// codeResponse is the server's answer to a poll request.
type codeResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// EventKind indicates the type of agent event.
type EventKind int

const (
	// EventDiscovered reports a newly accepted code, the first across the fleet.
	EventDiscovered EventKind = iota
	// EventThrottled reports a server advisory that delayed the next poll.
	EventThrottled
	// EventIgnored reports a response that carried no usable signal.
	EventIgnored
)

func (k EventKind) String() string {
	switch k {
	case EventDiscovered:
		return "discovered"
	case EventThrottled:
		return "throttled"
	case EventIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Event is one discrete observation posted by an agent's response handler.
// The fleet observer consumes these sequentially, decoupling network
// callbacks from shutdown decisions.
type Event struct {
	Kind     EventKind
	AgentID  string
	Idx      int
	Code     string        // set for Discovered
	Delay    time.Duration // set for Throttled
	Advisory string        // raw server message, diagnostics only
}
