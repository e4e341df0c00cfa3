package profile

import "context"

// Store persists one Profile per user id.
//
// Implementations must be safe for concurrent calls across distinct user
// ids and must serialize writes for the same id internally, so callers never
// coordinate around the store.
type Store interface {
	// Load returns the stored profile for userID, or a fresh default
	// uncalibrated profile when none exists. The returned profile is owned
	// by the caller.
	Load(ctx context.Context, userID string) (*Profile, error)

	// Save upserts the profile under its user id. Idempotent: saving the
	// same profile twice leaves one record.
	Save(ctx context.Context, p *Profile) error
}
