package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory is the reference in-process Gateway. All state lives behind one mutex,
// so Lock is exclusive and Transfer/Exchange are atomic.
type Memory struct {
	mu     sync.Mutex
	assets map[string]*memAsset
	seq    uint64
}

type memAsset struct {
	Asset
	seq uint64
}

func NewMemory() *Memory {
	return &Memory{assets: map[string]*memAsset{}}
}

func (m *Memory) Grant(_ context.Context, actorID string, a Asset) (Asset, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Asset{}, fmt.Errorf("grant: empty actor")
	}
	if a.ID == "" {
		a.ID = NewAssetID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[a.ID]; ok {
		return Asset{}, fmt.Errorf("grant %s: asset id already exists", a.ID)
	}
	m.seq++
	a.Owner = actorID
	a.LockToken = ""
	a.Meta = copyMeta(a.Meta)
	m.assets[a.ID] = &memAsset{Asset: a, seq: m.seq}
	return a, nil
}

func (m *Memory) ListOwned(ctx context.Context, actorID string) ([]Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var owned []*memAsset
	for _, a := range m.assets {
		if a.Owner == actorID {
			owned = append(owned, a)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].seq < owned[j].seq })
	out := make([]Asset, 0, len(owned))
	for _, a := range owned {
		cp := a.Asset
		cp.Meta = copyMeta(a.Meta)
		out = append(out, cp)
	}
	return out, nil
}

func (m *Memory) Lock(ctx context.Context, actorID, assetID, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.assets[assetID]
	if a == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	if a.Owner != actorID {
		return fmt.Errorf("%w: %s", ErrNotOwned, assetID)
	}
	if a.LockToken != "" && a.LockToken != sessionID {
		return fmt.Errorf("%w: %s", ErrAlreadyLocked, assetID)
	}
	a.LockToken = sessionID
	return nil
}

func (m *Memory) UnlockAll(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assets {
		if a.LockToken == sessionID {
			a.LockToken = ""
		}
	}
	return nil
}

func (m *Memory) Transfer(ctx context.Context, fromID, toID string, assetIDs []string, sessionID string) error {
	return m.Exchange(ctx, sessionID, []Leg{{From: fromID, To: toID, AssetIDs: assetIDs}})
}

// Exchange validates every leg before moving anything.
func (m *Memory) Exchange(ctx context.Context, sessionID string, legs []Leg) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return fmt.Errorf("%w: empty session", ErrNotLocked)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range legs {
		for _, id := range l.AssetIDs {
			a := m.assets[id]
			if a == nil {
				return fmt.Errorf("%w: %s", ErrUnknownAsset, id)
			}
			if a.Owner != l.From {
				return fmt.Errorf("%w: %s", ErrNotOwned, id)
			}
			if a.LockToken != sessionID {
				return fmt.Errorf("%w: %s", ErrNotLocked, id)
			}
		}
	}
	for _, l := range legs {
		for _, id := range l.AssetIDs {
			a := m.assets[id]
			a.Owner = l.To
			a.LockToken = ""
		}
	}
	return nil
}

// NewAssetID returns a fresh, never reused asset instance id.
func NewAssetID() string { return "AS-" + uuid.NewString() }

func copyMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
