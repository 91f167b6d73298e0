// Package model defines domain entities shared by the pipeline and its collaborators.
package model

import "time"

// Session bundles the credential and assignment identifiers gating pipeline
// activity. It is persisted locally and passed by value into every component;
// nothing mutates it during a pipeline run.
type Session struct {
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Email        string    `json:"email"`
	OperatorID   string    `json:"operator_id"`
	EmergencyID  string    `json:"emergency_id"`
	AssignmentID string    `json:"assignment_id"`
}

// Complete reports whether every field the report pipeline requires is set.
func (s Session) Complete() bool {
	return s.Token != "" && s.OperatorID != "" && s.EmergencyID != "" && s.AssignmentID != ""
}

// Expired reports whether the credential is past its expiry. A zero ExpiresAt
// (sessions persisted before expiry tracking) counts as unexpired.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Position is a single vehicle position sample. Ephemeral: produced by the
// telemetry source and consumed immediately, never stored.
type Position struct {
	Latitude   float64
	Longitude  float64
	Altitude   float32 // meters
	ObservedAt time.Time
}

// Assignment references the active emergency and the operator's task within it.
type Assignment struct {
	EmergencyID  string
	AssignmentID string
}

// Profile is the operator's remote profile document, read once per login or
// resume cycle.
type Profile struct {
	IsDroneOperator     bool
	EmergencyID         string
	CurrentAssignmentID string
}

// Finding is one geotagged visual observation tied to an emergency. Immutable
// once created; the server assigns its identifier.
type Finding struct {
	EmergencyID string
	OperatorID  string
	Description string
	Latitude    float64
	Longitude   float64
	ImageData   string // data-URI JPEG payload, may be empty only if skipped by config
	Timestamp   time.Time
}
