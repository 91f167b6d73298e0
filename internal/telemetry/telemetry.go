// Package telemetry defines the vehicle position source consumed by the
// report pipeline.
package telemetry

import "github.com/aeroaid/dronewatch/internal/model"

// Provider supplies the current vehicle position on demand.
type Provider interface {
	// Position returns the latest position sample. ok is false while the
	// vehicle has no fix or the telemetry link is down; callers skip the
	// sample rather than treating that as an error.
	Position() (pos model.Position, ok bool)
}
