// Package ledger owns the authoritative custody state transitions. It loads
// the current asset state under a per-asset exclusion, consults the custody
// policy, and applies the decided transition as one atomic storage write.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/gearlocker/internal/custody"
	"github.com/louisbranch/gearlocker/internal/custody/storage"
	apperrors "github.com/louisbranch/gearlocker/internal/platform/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxApplyAttempts bounds the optimistic-conflict retry loop. The per-asset
// lock makes stale writes rare; the bound only matters when an external
// writer races past it.
const maxApplyAttempts = 3

// Outcome reports one applied custody transition to the caller.
type Outcome struct {
	Kind        custody.Kind
	Note        string
	DisplayName string
	OccurredAt  time.Time
}

// Ledger records taps against the asset store.
type Ledger struct {
	store    storage.AssetStore
	notifier Notifier
	tracer   trace.Tracer
	locks    *assetLocks
	now      func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithNotifier sets the change-event consumer.
func WithNotifier(notifier Notifier) Option {
	return func(l *Ledger) {
		l.notifier = notifier
	}
}

// WithClock overrides the transition timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a ledger backed by the supplied store. The store handle is
// process-scoped and injected here; its lifecycle (open once, close on
// shutdown) belongs to the caller.
func New(store storage.AssetStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		tracer: otel.Tracer("gearlocker/ledger"),
		locks:  newAssetLocks(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordTap applies one tap event: it infers acquire vs release from the
// asset's current state, applies the transition exactly once, and appends a
// history record in the same atomic unit. Duplicate taps are independent
// events; no deduplication window exists.
func (l *Ledger) RecordTap(ctx context.Context, actingHolderID, assetID string) (Outcome, error) {
	actingHolderID = strings.TrimSpace(actingHolderID)
	assetID = strings.TrimSpace(assetID)
	if actingHolderID == "" || assetID == "" {
		return Outcome{}, apperrors.New(apperrors.CodeTapInvalidInput, "acting holder id and asset id are required")
	}
	if l == nil || l.store == nil {
		return Outcome{}, apperrors.New(apperrors.CodeStorageUnavailable, "ledger storage is not configured")
	}

	ctx, span := l.tracer.Start(ctx, "ledger.record_tap",
		trace.WithAttributes(attribute.String("asset.id", assetID)),
	)
	defer span.End()

	entry := l.locks.acquire(assetID)
	defer entry.mu.Unlock()

	outcome, err := l.recordTapLocked(ctx, entry, actingHolderID, assetID)
	if err != nil {
		span.RecordError(err)
		return Outcome{}, err
	}

	span.SetAttributes(attribute.String("transition.kind", string(outcome.Kind)))
	l.notify(ctx, ChangeEvent{AssetID: assetID, Kind: outcome.Kind, OccurredAt: outcome.OccurredAt})
	return outcome, nil
}

// recordTapLocked runs the read-decide-apply cycle under the asset lock,
// retrying a bounded number of times when the conditional write loses an
// optimistic race.
func (l *Ledger) recordTapLocked(ctx context.Context, entry *assetLock, actingHolderID, assetID string) (Outcome, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		asset, err := l.store.GetAsset(ctx, assetID)
		if err != nil {
			return Outcome{}, mapStorageError(err, assetID)
		}
		if err := checkHeldInvariant(asset); err != nil {
			return Outcome{}, err
		}

		decision, err := custody.Decide(asset.Status, asset.HolderID, actingHolderID)
		if err != nil {
			return Outcome{}, err
		}

		occurredAt := entry.nextOccurredAt(l.now().UTC())
		transition := storage.Transition{
			Next: storage.State{
				Status:   decision.NextStatus,
				HolderID: decision.NextHolderID,
			},
			Record: storage.TransitionRecord{
				AssetID:        assetID,
				ActingHolderID: actingHolderID,
				Kind:           decision.Kind,
				Note:           decision.Note,
				OccurredAt:     occurredAt,
			},
		}

		record, err := l.store.ApplyTransition(ctx, assetID, asset.State(), transition)
		if err != nil {
			if errors.Is(err, storage.ErrStaleState) {
				if attempt >= maxApplyAttempts {
					return Outcome{}, apperrors.WithMetadata(
						apperrors.CodeAssetContention,
						fmt.Sprintf("asset %s is contended, lost %d optimistic updates", assetID, attempt),
						map[string]string{"AssetID": assetID},
					)
				}
				continue
			}
			return Outcome{}, mapStorageError(err, assetID)
		}

		return Outcome{
			Kind:        record.Kind,
			Note:        record.Note,
			DisplayName: asset.DisplayName,
			OccurredAt:  record.OccurredAt,
		}, nil
	}
}

func (l *Ledger) notify(ctx context.Context, event ChangeEvent) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.NotifyChange(ctx, event); err != nil {
		log.Printf("notify change asset_id=%s kind=%s: %v", event.AssetID, event.Kind, err)
	}
}

// checkHeldInvariant rejects stored rows violating (held <=> holder set).
func checkHeldInvariant(asset storage.Asset) error {
	held := asset.Status == custody.StatusHeld
	hasHolder := asset.HolderID != ""
	if held == hasHolder {
		return nil
	}
	return apperrors.WithMetadata(
		apperrors.CodeAssetStateCorrupt,
		fmt.Sprintf("asset %s violates custody invariant: status=%s holder=%q", asset.ID, asset.Status, asset.HolderID),
		map[string]string{"AssetID": asset.ID, "Status": string(asset.Status)},
	)
}

// mapStorageError translates store sentinel errors into the domain taxonomy.
// Context cancellation passes through untouched so callers can distinguish
// their own cancellation from storage trouble.
func mapStorageError(err error, assetID string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.WithMetadata(
			apperrors.CodeAssetNotFound,
			fmt.Sprintf("asset %s not found", assetID),
			map[string]string{"AssetID": assetID},
		)
	case errors.Is(err, storage.ErrCorruptState):
		return apperrors.Wrap(apperrors.CodeAssetStateCorrupt, fmt.Sprintf("asset %s state is corrupt", assetID), err)
	default:
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, "custody storage unavailable", err)
	}
}
