package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Trade command layer.
	ErrNoActiveSession     = "E_NO_ACTIVE_SESSION"
	ErrNotAParticipant     = "E_NOT_A_PARTICIPANT"
	ErrAlreadyInTrade      = "E_ALREADY_IN_TRADE"
	ErrAssetNotOwned       = "E_ASSET_NOT_OWNED"
	ErrAssetLocked         = "E_ASSET_LOCKED"
	ErrAssetNotOffered     = "E_ASSET_NOT_OFFERED"
	ErrInvalidTransition   = "E_INVALID_TRANSITION"
	ErrInvalidCounterparty = "E_INVALID_COUNTERPARTY"
	ErrGatewayFailure      = "E_GATEWAY_FAILURE"
	ErrBadRequest          = "E_BAD_REQUEST"
	ErrInternal            = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:     {},
	ErrProtoVersion:        {},
	ErrNoActiveSession:     {},
	ErrNotAParticipant:     {},
	ErrAlreadyInTrade:      {},
	ErrAssetNotOwned:       {},
	ErrAssetLocked:         {},
	ErrAssetNotOffered:     {},
	ErrInvalidTransition:   {},
	ErrInvalidCounterparty: {},
	ErrGatewayFailure:      {},
	ErrBadRequest:          {},
	ErrInternal:            {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
