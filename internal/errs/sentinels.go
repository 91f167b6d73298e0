// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Authentication sentinels.
var (
	// ErrMissingField indicates an empty email or password, caught before any
	// network call.
	ErrMissingField = errors.New("missing field")

	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountDisabled indicates the operator account has been disabled.
	ErrAccountDisabled = errors.New("account disabled")

	// ErrSignInRejected indicates the identity provider rejected sign-in with an
	// unmapped code; the wrapping error carries the code.
	ErrSignInRejected = errors.New("sign-in rejected")
)

// Assignment resolution sentinels.
var (
	// ErrNotAuthorized indicates the account lacks drone operator permissions.
	// Terminal: retrying cannot help.
	ErrNotAuthorized = errors.New("not a drone operator")

	// ErrNoActiveEmergency indicates no emergency is currently assigned to the
	// operator. A valid terminal state, not a failure.
	ErrNoActiveEmergency = errors.New("no active emergency")
)

// Session sentinels.
var (
	// ErrNoSession indicates no persisted session exists (login required).
	ErrNoSession = errors.New("no session")

	// ErrIncompleteSession indicates the session is missing the credential,
	// operator id, or assignment identifiers the pipeline requires.
	ErrIncompleteSession = errors.New("incomplete session")
)

// Backend transport sentinels.
var (
	// ErrMalformedResponse indicates a response body that could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrBackendRejected indicates a non-success HTTP status from the document store.
	ErrBackendRejected = errors.New("backend rejected request")
)

// Report pipeline sentinels.
var (
	// ErrCameraUnavailable indicates the capture source is not ready.
	ErrCameraUnavailable = errors.New("camera unavailable")

	// ErrFrameUnavailable indicates the current video frame could not be retrieved.
	ErrFrameUnavailable = errors.New("frame unavailable")

	// ErrPositionUnavailable indicates the telemetry source has no current fix.
	ErrPositionUnavailable = errors.New("position unavailable")
)
