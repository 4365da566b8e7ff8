package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Reuse thresholds for the refresh-pattern heuristic. The numbers come
// from observed ceilings of legitimate multi-device use.
const (
	defaultMaxLiveFamilies  = 10
	defaultMaxFamiliesPerHr = 5
)

// Verdict is the outcome of a reuse check for a presented token.
type Verdict struct {
	Reuse  bool
	Reason string
}

// UserRevoker is the slice of the revocation registry the detector needs
// to run the containment cascade.
type UserRevoker interface {
	RevokeUserBefore(ctx context.Context, userID string, before time.Time) error
}

// Detector decides whether a presented refresh token is a replay and runs
// the containment cascade when it is.
//
// Detection and remediation live together: the signal that a token was
// replayed and the action that contains the theft are the same event, and
// splitting them across callers is how half-applied cascades happen.
type Detector struct {
	store           *Store
	families        *Tracker
	revoker         UserRevoker
	logger          zerolog.Logger
	maxLiveFamilies int
	maxNewPerHour   int
}

// NewDetector creates a reuse [Detector]. revoker may be nil in reduced
// configurations; the cascade then skips the user-wide cutoff.
func NewDetector(store *Store, families *Tracker, revoker UserRevoker, logger zerolog.Logger) *Detector {
	return &Detector{
		store:           store,
		families:        families,
		revoker:         revoker,
		logger:          logger,
		maxLiveFamilies: defaultMaxLiveFamilies,
		maxNewPerHour:   defaultMaxFamiliesPerHr,
	}
}

// Detect classifies a presented token's record. Reuse is declared when the
// record is already used, already revoked, or belongs to a revoked family.
func (d *Detector) Detect(ctx context.Context, rec *Record) (Verdict, error) {
	if rec.Used {
		return Verdict{Reuse: true, Reason: "token already used"}, nil
	}
	if rec.Revoked {
		return Verdict{Reuse: true, Reason: "token already revoked"}, nil
	}

	familyRevoked, err := d.families.IsRevoked(ctx, rec.FamilyID)
	if err != nil {
		return Verdict{}, err
	}
	if familyRevoked {
		return Verdict{Reuse: true, Reason: "token family revoked"}, nil
	}

	return Verdict{}, nil
}

// HandleReuse runs the containment cascade for a confirmed replay: revoke
// the family, revoke every refresh token of the user, cut off the user's
// access tokens, and emit a security log entry.
//
// All steps are attempted even when an earlier one fails; a partial
// cascade still contains more than an aborted one. Errors are joined and
// returned so the caller can surface the failure.
func (d *Detector) HandleReuse(ctx context.Context, rec *Record, verdict Verdict) error {
	now := time.Now()
	var errs []error

	if err := d.families.Revoke(ctx, rec.FamilyID); err != nil {
		errs = append(errs, err)
	}

	revoked, err := d.store.RevokeAllForUser(ctx, rec.UserID)
	if err != nil {
		errs = append(errs, err)
	}

	if d.revoker != nil {
		if err := d.revoker.RevokeUserBefore(ctx, rec.UserID, now); err != nil {
			errs = append(errs, err)
		}
	}

	d.logger.Error().
		Str("event", "refresh_token_reuse").
		Str("user_id", rec.UserID).
		Str("session_id", rec.SessionID).
		Str("family_id", rec.FamilyID).
		Str("token_id", rec.TokenID).
		Str("reason", verdict.Reason).
		Int("refresh_tokens_revoked", revoked).
		Msg("refresh token reuse detected, user token cascade executed")

	return errors.Join(errs...)
}

// ValidateLineage checks that the record's parent belongs to its family.
// A record is the family root when it has no parent.
func (d *Detector) ValidateLineage(ctx context.Context, rec *Record) (bool, error) {
	if rec.ParentID == "" {
		return true, nil
	}
	return d.families.Contains(ctx, rec.FamilyID, rec.ParentID)
}

// CheckPattern applies the refresh-pattern heuristic for a user: too many
// live families, or too many created within the last hour, is suspicious.
//
// The heuristic fails open. It exists to catch anomalies, and a Redis
// outage must not lock every user out of refresh.
func (d *Detector) CheckPattern(ctx context.Context, userID string) (bool, string) {
	families, err := d.families.ForUser(ctx, userID)
	if err != nil {
		d.logger.Debug().
			Str("user_id", userID).
			Err(err).
			Msg("refresh pattern check skipped, family store unavailable")
		return false, ""
	}

	live := 0
	recentCutoff := time.Now().Add(-time.Hour).Unix()
	recent := 0
	for _, family := range families {
		if family.Revoked {
			continue
		}
		live++
		if family.CreatedAt >= recentCutoff {
			recent++
		}
	}

	if live > d.maxLiveFamilies {
		return true, "too many active token families"
	}
	if recent > d.maxNewPerHour {
		return true, "token families created too fast"
	}

	return false, ""
}
