package ledger

import (
	"context"
	"sync"

	"github.com/louisbranch/gearlocker/internal/custody"
	"github.com/louisbranch/gearlocker/internal/custody/storage"
)

// fakeStore is an in-memory AssetStore with the same conditional-update
// semantics as the SQL stores, plus failure injection hooks.
type fakeStore struct {
	mu      sync.Mutex
	assets  map[string]storage.Asset
	records []storage.TransitionRecord
	nextID  int64

	getErr         error
	applyErr       error
	staleRemaining int
}

func newFakeStore() *fakeStore {
	return &fakeStore{assets: make(map[string]storage.Asset)}
}

func (f *fakeStore) PutAsset(_ context.Context, asset storage.Asset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[asset.ID] = asset
	return nil
}

func (f *fakeStore) GetAsset(ctx context.Context, assetID string) (storage.Asset, error) {
	if err := ctx.Err(); err != nil {
		return storage.Asset{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return storage.Asset{}, f.getErr
	}
	asset, ok := f.assets[assetID]
	if !ok {
		return storage.Asset{}, storage.ErrNotFound
	}
	return asset, nil
}

func (f *fakeStore) ApplyTransition(ctx context.Context, assetID string, prev storage.State, transition storage.Transition) (storage.TransitionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.TransitionRecord{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return storage.TransitionRecord{}, f.applyErr
	}
	if f.staleRemaining > 0 {
		f.staleRemaining--
		return storage.TransitionRecord{}, storage.ErrStaleState
	}
	asset, ok := f.assets[assetID]
	if !ok {
		return storage.TransitionRecord{}, storage.ErrNotFound
	}
	if asset.State() != prev {
		return storage.TransitionRecord{}, storage.ErrStaleState
	}

	asset.Status = transition.Next.Status
	asset.HolderID = transition.Next.HolderID
	if transition.Next.Status == custody.StatusHeld {
		heldSince := transition.Record.OccurredAt
		asset.HeldSince = &heldSince
	} else {
		asset.HeldSince = nil
		asset.ExpectedReturn = nil
	}
	f.assets[assetID] = asset

	f.nextID++
	record := transition.Record
	record.ID = f.nextID
	f.records = append(f.records, record)
	return record, nil
}

func (f *fakeStore) ListAssets(ctx context.Context, pageSize int, pageToken string) (storage.AssetPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.AssetPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	page := storage.AssetPage{}
	for _, asset := range f.assets {
		page.Assets = append(page.Assets, asset)
	}
	return page, nil
}

func (f *fakeStore) ListTransitions(ctx context.Context, assetID string, pageSize int, pageToken string) (storage.TransitionPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.TransitionPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	page := storage.TransitionPage{}
	for _, record := range f.records {
		if record.AssetID == assetID {
			page.Transitions = append(page.Transitions, record)
		}
	}
	return page, nil
}

func (f *fakeStore) ListRecentTransitions(ctx context.Context, limit int) ([]storage.TransitionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	records := make([]storage.TransitionRecord, len(f.records))
	copy(records, f.records)
	return records, nil
}

func (f *fakeStore) recordsSnapshot() []storage.TransitionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := make([]storage.TransitionRecord, len(f.records))
	copy(records, f.records)
	return records
}

func (f *fakeStore) assetSnapshot(assetID string) (storage.Asset, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	asset, ok := f.assets[assetID]
	return asset, ok
}

var _ storage.AssetStore = (*fakeStore)(nil)
var _ storage.ProvisioningStore = (*fakeStore)(nil)

// recordingNotifier captures change events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []ChangeEvent
	err    error
}

func (n *recordingNotifier) NotifyChange(_ context.Context, event ChangeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) snapshot() []ChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	events := make([]ChangeEvent, len(n.events))
	copy(events, n.events)
	return events
}
