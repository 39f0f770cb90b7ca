package custody

import (
	"fmt"

	apperrors "github.com/louisbranch/gearlocker/internal/platform/errors"
)

// Decision is the outcome of applying the transition policy to one tap.
type Decision struct {
	NextStatus   Status
	NextHolderID string
	Kind         Kind
	Note         string
}

// Decide maps the current asset state and the acting holder to the next
// state. It is total over the closed status set, deterministic, and never
// touches storage.
//
// Any holder may release an asset held by someone else; the original
// holder's identity is preserved in the note for audit purposes. This is
// deliberate, not a validation gap.
func Decide(currentStatus Status, currentHolderID, actingHolderID string) (Decision, error) {
	switch currentStatus {
	case StatusAvailable:
		return Decision{
			NextStatus:   StatusHeld,
			NextHolderID: actingHolderID,
			Kind:         KindAcquire,
			Note:         "acquired",
		}, nil
	case StatusHeld:
		if currentHolderID == actingHolderID {
			return Decision{
				NextStatus: StatusAvailable,
				Kind:       KindRelease,
				Note:       "released by original holder",
			}, nil
		}
		return Decision{
			NextStatus: StatusAvailable,
			Kind:       KindRelease,
			Note:       fmt.Sprintf("released by non-original holder (was: %s)", currentHolderID),
		}, nil
	default:
		return Decision{}, apperrors.WithMetadata(
			apperrors.CodeAssetStatusConflict,
			fmt.Sprintf("asset status %q does not allow tap-driven transitions", currentStatus),
			map[string]string{"Status": string(currentStatus)},
		)
	}
}
