// Package assignment resolves the operator's active emergency assignment from
// their remote profile document.
package assignment

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aeroaid/dronewatch/internal/errs"
	"github.com/aeroaid/dronewatch/internal/model"
	"github.com/aeroaid/dronewatch/internal/session"
	"github.com/aeroaid/dronewatch/internal/store"
)

const (
	usersCollection = "users"

	// maxAttempts bounds resolution per resolver lifetime. The counter is
	// monotonic and never resets, so a login/resume cycle cannot loop
	// indefinitely against a profile that keeps coming back without an
	// assignment. Past the bound the resolver answers "no active emergency"
	// without touching the network.
	maxAttempts = 3
)

// Documents is the slice of the document store client the resolver needs.
type Documents interface {
	Get(ctx context.Context, token, collection, id string) (map[string]store.Value, error)
}

// Resolver fetches the operator profile and extracts the active assignment.
// Not safe for concurrent use; one resolver serves one login/resume cycle.
type Resolver struct {
	docs     Documents
	sessions *session.Store
	logger   *zap.Logger
	attempts int
}

// NewResolver constructs a Resolver with required dependencies.
func NewResolver(docs Documents, sessions *session.Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{docs: docs, sessions: sessions, logger: logger}
}

// Resolve fetches the profile for operatorID and returns the active assignment.
//
// Outcomes:
//   - errs.ErrNotAuthorized when the profile lacks drone operator permissions;
//   - errs.ErrNoActiveEmergency when either id is missing or empty, or when the
//     attempt bound is exhausted; any cached pair is cleared from the session
//     store before returning;
//   - transport and malformed-body errors propagate as-is and leave any
//     cached ids alone.
func (r *Resolver) Resolve(ctx context.Context, token, operatorID string) (model.Assignment, error) {
	r.attempts++
	if r.attempts > maxAttempts {
		r.logger.Warn("assignment resolution attempt bound reached, treating as no active emergency",
			zap.Int("attempts", r.attempts-1),
		)
		return model.Assignment{}, errs.ErrNoActiveEmergency
	}

	fields, err := r.docs.Get(ctx, token, usersCollection, operatorID)
	if err != nil {
		return model.Assignment{}, fmt.Errorf("fetching operator profile: %w", err)
	}

	profile := decodeProfile(fields)
	if !profile.IsDroneOperator {
		return model.Assignment{}, errs.ErrNotAuthorized
	}

	if profile.EmergencyID == "" || profile.CurrentAssignmentID == "" {
		if err := r.sessions.ClearAssignment(); err != nil {
			r.logger.Warn("clearing cached assignment", zap.Error(err))
		}
		return model.Assignment{}, errs.ErrNoActiveEmergency
	}

	return model.Assignment{
		EmergencyID:  profile.EmergencyID,
		AssignmentID: profile.CurrentAssignmentID,
	}, nil
}

func decodeProfile(fields map[string]store.Value) model.Profile {
	var p model.Profile
	if v, ok := fields["isDroneOperator"]; ok {
		p.IsDroneOperator, _ = v.AsBoolean()
	}
	if v, ok := fields["emergencyId"]; ok {
		p.EmergencyID, _ = v.AsString()
	}
	if v, ok := fields["currentAssignmentId"]; ok {
		p.CurrentAssignmentID, _ = v.AsString()
	}
	return p
}
