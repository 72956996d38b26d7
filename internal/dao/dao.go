// Package dao holds the persistence boundary of the service, the recipient
// store and the send ledger. The engine only sees the interfaces, backends
// are selected by config.
package dao

import (
	"context"
	"errors"

	"github.com/modfin/utskick"
)

// ErrStoreUnavailable wraps any infrastructure level failure from a backend.
// The engine aborts the whole run on it, per recipient errors never carry it.
var ErrStoreUnavailable = errors.New("store unavailable")

type RecipientStore interface {
	// GetByBunch returns every recipient registered under a bunch id. An
	// unknown bunch yields an empty slice, not an error.
	GetByBunch(ctx context.Context, bunchID string) ([]utskick.Recipient, error)
}

// Ledger is the persistent dedup record of deliveries already made. At most
// one live record exists per (bunch, email), enforced by a uniqueness key and
// optionally bounded by a retention window, an expired record reads as never
// sent.
type Ledger interface {
	Exists(ctx context.Context, bunchID, email string) (bool, error)

	// ExistsBulk returns the subset of emails already recorded for the
	// bunch, in one round trip.
	ExistsBulk(ctx context.Context, bunchID string, emails []string) (map[string]struct{}, error)

	// RecordSent upserts one sent record. Recording the same (bunch, email)
	// twice is not an error and never yields two live records.
	RecordSent(ctx context.Context, rec SentRecord) error
}
