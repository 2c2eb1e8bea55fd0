package protocol

const (
	// Caller fault; never retried.
	ErrValidation = "E_VALIDATION"

	// Canvas/session routing.
	ErrNotFound = "E_NOT_FOUND"
	ErrInactive = "E_INACTIVE"
	ErrEnded    = "E_ENDED"

	// Membership/identity.
	ErrNotJoined = "E_NOT_JOINED"
	ErrDenied    = "E_DENIED"

	// Throughput. Safe to retry after the carried wait.
	ErrRateLimit = "E_RATE_LIMIT"

	// Backend fault; outcome unknown, caller must assume no commit.
	ErrPersistence = "E_PERSISTENCE"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrValidation:  {},
	ErrNotFound:    {},
	ErrInactive:    {},
	ErrEnded:       {},
	ErrNotJoined:   {},
	ErrDenied:      {},
	ErrRateLimit:   {},
	ErrPersistence: {},
	ErrInternal:    {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
