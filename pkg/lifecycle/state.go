// Package lifecycle issues, verifies, rotates and revokes token pairs.
//
// # Token Lifecycle
//
// A [Manager] owns the server-side state of every token it issues: a
// metadata record, an entry in the owner's token index and, once the token
// is dead, a blacklist entry. Each token moves through a small state
// machine:
//
//	Issued → Active              (first successful verification)
//	Issued, Active → Rotated     (refresh)
//	Issued, Active → Revoked     (logout, quota eviction, revoke-all)
//	Issued, Active → Expired     (lifetime elapsed)
//
// Rotated, Revoked and Expired are terminal. The machine is not stored;
// it is derived from the metadata record (see [Manager.ActiveTokens]) and
// reported to [TransitionHandler]s as operations run.
//
// # Failure Semantics
//
// Verification fails closed. A cache error, a cache timeout, a missing
// metadata record and a blacklisted token id all deny, and every denial
// returns the same [sserr.CodeTokenVerificationFailed] error; the
// specific reason is only logged. Issuance failures return
// [sserr.CodeTokenGenerationFailed].
//
// # OpenTelemetry Integration
//
// Every Manager operation opens a span named "tokens.<Operation>". The
// tracer scope is "github.com/StricklySoft/stricklysoft-tokens/pkg/lifecycle".
package lifecycle

// State is the lifecycle state of one issued token.
type State string

const (
	// StateIssued is a token that has been signed and recorded but not
	// yet presented.
	StateIssued State = "issued"

	// StateActive is a token that has passed verification at least once.
	StateActive State = "active"

	// StateRevoked is a token killed by logout, quota eviction or
	// revoke-all.
	StateRevoked State = "revoked"

	// StateRotated is a refresh token exchanged for a new pair.
	StateRotated State = "rotated"

	// StateExpired is a token whose lifetime has elapsed.
	StateExpired State = "expired"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Valid reports whether the state is one of the recognized states.
func (s State) Valid() bool {
	switch s {
	case StateIssued, StateActive, StateRevoked, StateRotated, StateExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a token in this state can never verify
// again.
func (s State) IsTerminal() bool {
	switch s {
	case StateRevoked, StateRotated, StateExpired:
		return true
	default:
		return false
	}
}

// validTransitions is the transition matrix. Terminal states have no
// outgoing transitions; a record is never reactivated.
var validTransitions = map[State][]State{
	StateIssued: {StateActive, StateRevoked, StateRotated, StateExpired},
	StateActive: {StateRevoked, StateRotated, StateExpired},
}

// ValidTransition reports whether moving from one state to another is
// allowed. Same-state transitions are rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
