// Package storage defines persistence contracts for custody state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/gearlocker/internal/custody"
)

var (
	// ErrNotFound indicates a requested asset or transition record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained asset already exists.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrStaleState indicates a conditional update lost an optimistic race:
	// the asset row no longer matches the previously read state.
	ErrStaleState = errors.New("asset state is stale")
	// ErrCorruptState indicates a stored asset violates the held/holder
	// invariant. This is a data-corruption condition, not a recoverable error.
	ErrCorruptState = errors.New("asset state is corrupt")
)

// Asset stores the authoritative custody state of one tagged item.
type Asset struct {
	ID             string
	DisplayName    string
	Status         custody.Status
	HolderID       string
	HeldSince      *time.Time
	ExpectedReturn *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// State is the (status, holder) pair a conditional update is guarded by.
type State struct {
	Status   custody.Status
	HolderID string
}

// State returns the asset's guard state.
func (a Asset) State() State {
	return State{Status: a.Status, HolderID: a.HolderID}
}

// TransitionRecord stores one append-only custody transition. Records are
// immutable once written; Asset.Status stays the only source of present truth.
type TransitionRecord struct {
	ID             int64
	AssetID        string
	ActingHolderID string
	Kind           custody.Kind
	Note           string
	OccurredAt     time.Time
}

// AssetPage stores one page of asset records.
type AssetPage struct {
	Assets        []Asset
	NextPageToken string
}

// TransitionPage stores one page of transition records.
type TransitionPage struct {
	Transitions   []TransitionRecord
	NextPageToken string
}

// Transition carries the next asset state and its history record; the store
// must apply both atomically.
type Transition struct {
	Next   State
	Record TransitionRecord
}

// AssetStore persists asset custody state and transition history.
//
// ApplyTransition performs the single atomic unit of a tap: update the asset
// row conditioned on prev still matching what the caller read, and append the
// transition record. When the condition fails it returns ErrStaleState and
// writes nothing; partial application is never permitted.
type AssetStore interface {
	GetAsset(ctx context.Context, assetID string) (Asset, error)
	ApplyTransition(ctx context.Context, assetID string, prev State, transition Transition) (TransitionRecord, error)
	ListAssets(ctx context.Context, pageSize int, pageToken string) (AssetPage, error)
	ListTransitions(ctx context.Context, assetID string, pageSize int, pageToken string) (TransitionPage, error)
	ListRecentTransitions(ctx context.Context, limit int) ([]TransitionRecord, error)
}

// ProvisioningStore creates asset rows. Provisioning is an administrative
// path, separate from tap-driven transitions; the ledger never calls it.
type ProvisioningStore interface {
	PutAsset(ctx context.Context, asset Asset) error
}
