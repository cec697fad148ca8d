package calls

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is the persistence contract for the call queue.
// It is the single source of truth for lifecycle state.
//
// Every method is atomic with respect to a single call id.
type Store interface {
	// Create inserts a new entry. Returns ErrDuplicateKey if the call id exists in any status.
	Create(ctx context.Context, e CallEntry) error
	Get(ctx context.Context, callID string) (CallEntry, error)
	// List returns non-terminal entries ordered oldest first.
	// activeOnly restricts the listing to waiting entries (queued, on_hold).
	List(ctx context.Context, activeOnly bool) ([]CallEntry, error)
	// UpdateStatus moves the entry from `from` to `to` only if it is currently `from`.
	// Returns ErrNotFound when the row is gone and ErrStatusConflict when its status differs.
	UpdateStatus(ctx context.Context, callID string, from, to CallStatus) (CallEntry, error)
	Remove(ctx context.Context, callID string) error
	// ListTerminal returns completed/failed entries last updated before the cutoff.
	ListTerminal(ctx context.Context, before time.Time) ([]CallEntry, error)
}

var (
	ErrDuplicateKey      = errors.New("calls: duplicate call id")
	ErrNotFound          = errors.New("calls: not found")
	ErrInvalidTransition = errors.New("calls: invalid transition")
	ErrStatusConflict    = errors.New("calls: status changed concurrently")
	ErrUnknownAction     = errors.New("calls: unknown action")
	ErrInvalidArgument   = errors.New("calls: invalid argument")

	// ErrUnavailable marks store or transport failures. It is the only class
	// surfaced to callers as a server error.
	ErrUnavailable = errors.New("calls: downstream unavailable")
)

// IsBenign reports whether err is an expected race/duplicate condition that callers
// should log and absorb.
func IsBenign(err error) bool {
	return errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrStatusConflict)
}

func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
