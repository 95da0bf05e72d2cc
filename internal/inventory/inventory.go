// Package inventory defines the asset-ownership surface the trade core depends on.
//
// The trade core never owns assets itself. It asks a Gateway whether an actor owns
// an asset, escrows assets under a session lock token, and finally moves them.
package inventory

import (
	"context"
	"errors"
)

var (
	ErrNotOwned      = errors.New("asset not owned")
	ErrAlreadyLocked = errors.New("asset already locked")
	ErrNotLocked     = errors.New("asset not locked by session")
	ErrUnknownAsset  = errors.New("unknown asset")
)

// Asset is a uniquely identified collectible. LockToken is the id of the trade
// session that currently escrows it, or empty.
type Asset struct {
	ID        string            `json:"id"`
	Owner     string            `json:"owner"`
	Name      string            `json:"name,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	LockToken string            `json:"lock_token,omitempty"`
}

func (a Asset) Locked() bool { return a.LockToken != "" }

// Gateway is the whole surface the trade core consumes.
//
// Lock must be exclusive: two concurrent Lock calls on the same asset for different
// sessions cannot both succeed. Transfer must be atomic per call and may only move
// assets whose lock token equals sessionID, clearing that token as it moves them.
type Gateway interface {
	ListOwned(ctx context.Context, actorID string) ([]Asset, error)
	Lock(ctx context.Context, actorID, assetID, sessionID string) error
	UnlockAll(ctx context.Context, sessionID string) error
	Transfer(ctx context.Context, fromID, toID string, assetIDs []string, sessionID string) error
}

// Leg is one direction of a multi-party exchange.
type Leg struct {
	From     string
	To       string
	AssetIDs []string
}

// Exchanger is implemented by gateways that can apply several legs as one atomic
// operation. The swap prefers it over sequential Transfer calls.
type Exchanger interface {
	Exchange(ctx context.Context, sessionID string, legs []Leg) error
}

// Granter mints a new asset for an actor. Used by operators and tests.
type Granter interface {
	Grant(ctx context.Context, actorID string, a Asset) (Asset, error)
}

// Find returns the asset with the given id from a listing.
func Find(assets []Asset, assetID string) (Asset, bool) {
	for _, a := range assets {
		if a.ID == assetID {
			return a, true
		}
	}
	return Asset{}, false
}
