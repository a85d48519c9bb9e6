package observerproto

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Request layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrNotFound   = "E_NOT_FOUND"
	ErrForbidden  = "E_FORBIDDEN"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrNotFound:        {},
	ErrForbidden:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
