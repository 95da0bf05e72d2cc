package trade

import (
	"context"
	"errors"
	"fmt"

	"tradepost.ai/internal/inventory"
	"tradepost.ai/internal/protocol"
)

var (
	ErrNoActiveSession     = errors.New("no active session")
	ErrNotAParticipant     = errors.New("not a participant")
	ErrAlreadyInTrade      = errors.New("already in a trade")
	ErrAssetNotOwned       = errors.New("asset not owned")
	ErrAssetLocked         = errors.New("asset locked elsewhere")
	ErrAssetNotOffered     = errors.New("asset not in offer")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrInvalidCounterparty = errors.New("invalid counterparty")
	ErrGatewayFailure      = errors.New("gateway failure")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNoActiveSession, protocol.ErrNoActiveSession},
	{ErrNotAParticipant, protocol.ErrNotAParticipant},
	{ErrAlreadyInTrade, protocol.ErrAlreadyInTrade},
	{ErrAssetNotOwned, protocol.ErrAssetNotOwned},
	{ErrAssetLocked, protocol.ErrAssetLocked},
	{ErrAssetNotOffered, protocol.ErrAssetNotOffered},
	{ErrInvalidTransition, protocol.ErrInvalidTransition},
	{ErrInvalidCounterparty, protocol.ErrInvalidCounterparty},
	{ErrGatewayFailure, protocol.ErrGatewayFailure},
}

// Code maps an error returned by this package to its wire code.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return protocol.ErrInternal
}

// gatewayErr classifies an inventory error into the trade taxonomy, keeping the
// cause reachable through errors.Is.
func gatewayErr(op, assetID string, err error) error {
	switch {
	case errors.Is(err, inventory.ErrNotOwned), errors.Is(err, inventory.ErrUnknownAsset):
		return fmt.Errorf("%w: %s: %w", ErrAssetNotOwned, assetID, err)
	case errors.Is(err, inventory.ErrAlreadyLocked):
		return fmt.Errorf("%w: %s: %w", ErrAssetLocked, assetID, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s timed out: %w", ErrGatewayFailure, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrGatewayFailure, op, err)
}
