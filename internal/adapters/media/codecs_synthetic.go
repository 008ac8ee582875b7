//go:build !(linux && capture)

package media

import (
	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/audiotest"
	_ "github.com/pion/mediadevices/pkg/driver/videotest"
)

// CaptureEnabled reports whether real devices and encoders are built in.
// Without the capture tag only the synthetic test devices are registered.
const CaptureEnabled = false

// DefaultCodecs returns nil: without cgo encoders tracks carry no RTP and
// the peer connection offers receive-only media.
func DefaultCodecs() (*mediadevices.CodecSelector, error) {
	return nil, nil
}
