package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aveoearth/marketplace/database"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// ErrProvisioningFailed means the local mirror row could not be created
// or observed after the full retry budget. Distinct from ErrNotFound:
// callers must not treat it as a missing user.
var ErrProvisioningFailed = errors.New("user provisioning failed")

// insertAttempts bounds the retry of the mirror-row insert: a transient
// database error gets one more chance before it is reclassified as a
// provisioning failure.
const insertAttempts = 2

// recheckDelays is the backoff schedule for the post-insert visibility
// check. The provider and the local store are eventually consistent, so
// a lookup right after creation may still miss the row.
var recheckDelays = []time.Duration{
	50 * time.Millisecond,
	150 * time.Millisecond,
	400 * time.Millisecond,
	1 * time.Second,
}

// Resolver provisions local mirror rows for externally authenticated
// identities. It is the single owner of the retry policy: call sites
// must not wrap it in loops of their own.
type Resolver struct {
	DB       *sqlx.DB
	Provider Provider
	Log      logrus.FieldLogger

	// Delays overrides recheckDelays; used by tests.
	Delays []time.Duration
}

// EnsureLocalUser returns the local row for an id the caller has already
// authenticated upstream, creating it opportunistically when absent.
// Idempotent: a concurrent creation is detected via the uniqueness
// constraint and resolved by re-reading.
func (r *Resolver) EnsureLocalUser(ctx context.Context, externalID string) (User, error) {
	u, err := Fetch(ctx, r.DB, externalID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	p, err := r.Provider.GetProfile(ctx, externalID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("fetching profile of user[%s]: %w", externalID, err)
	}

	now := time.Now().UTC()
	u = User{
		ID:            externalID,
		Email:         p.Email,
		Phone:         p.Phone,
		Role:          p.Role,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Active:        true,
		EmailVerified: p.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if u.Role == "" {
		u.Role = "buyer"
	}
	if u.Phone == "" {
		// The schema wants a phone; the provider may not have one yet.
		u.Phone = "+0000000000"
	}

	var insErr error
	for attempt := 0; attempt < insertAttempts; attempt++ {
		insErr = Create(ctx, r.DB, u)
		if insErr == nil || database.UniqueViolation(insErr) {
			// A unique violation means someone else won the insert;
			// the re-check below picks it up.
			insErr = nil
			break
		}
		if attempt < insertAttempts-1 {
			r.Log.WithFields(logrus.Fields{"user_id": externalID, "message": insErr}).
				Warn("retrying provisioning insert")
		}
	}
	if insErr != nil {
		r.Log.WithFields(logrus.Fields{"user_id": externalID, "message": insErr}).
			Error("provisioning insert failed")
		return User{}, ErrProvisioningFailed
	}

	delays := r.Delays
	if delays == nil {
		delays = recheckDelays
	}

	for _, d := range delays {
		u, err := Fetch(ctx, r.DB, externalID)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return User{}, err
		}

		select {
		case <-ctx.Done():
			return User{}, fmt.Errorf("verifying provisioned user[%s]: %w", externalID, ctx.Err())
		case <-time.After(d):
		}
	}

	if u, err := Fetch(ctx, r.DB, externalID); err == nil {
		return u, nil
	}

	r.Log.WithField("user_id", externalID).Error("provisioned user never became visible")
	return User{}, ErrProvisioningFailed
}
