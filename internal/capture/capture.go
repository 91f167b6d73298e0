// Package capture defines the still-capture source consumed by the report
// pipeline and the image payload encoding for findings.
package capture

import (
	"context"
	"encoding/base64"
)

// Source commands still captures keyed to the current video frame.
type Source interface {
	// Ready reports whether the camera is connected and in photo mode.
	Ready() bool
	// ShootPhoto commands a single still capture on the vehicle camera.
	ShootPhoto(ctx context.Context) error
	// Frame returns the current video frame as JPEG bytes.
	Frame(ctx context.Context) ([]byte, error)
}

// DataURI encodes a JPEG frame as the embeddable image payload stored on a
// finding document.
func DataURI(jpeg []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
}
