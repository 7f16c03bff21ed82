package enums

// AuthEvent names a change emitted by the identity provider.
type AuthEvent string

const (
	AuthEventInitialSession AuthEvent = "INITIAL_SESSION"
	AuthEventSignedIn       AuthEvent = "SIGNED_IN"
	AuthEventSignedOut      AuthEvent = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	AuthEventUserUpdated    AuthEvent = "USER_UPDATED"
)

var validAuthEvents = []AuthEvent{
	AuthEventInitialSession,
	AuthEventSignedIn,
	AuthEventSignedOut,
	AuthEventTokenRefreshed,
	AuthEventUserUpdated,
}

// String implements fmt.Stringer.
func (e AuthEvent) String() string {
	return string(e)
}

// IsValid reports whether the value is a known AuthEvent.
func (e AuthEvent) IsValid() bool {
	for _, candidate := range validAuthEvents {
		if candidate == e {
			return true
		}
	}
	return false
}

// KeepsIdentity reports whether the event refreshes an existing identity
// rather than establishing a new one.
func (e AuthEvent) KeepsIdentity() bool {
	return e == AuthEventTokenRefreshed || e == AuthEventUserUpdated
}
