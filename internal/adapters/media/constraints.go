package media

import (
	"strings"

	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
)

func videoProps(c *mediadevices.MediaTrackConstraints, deviceID string, v *domain.VideoConstraints) {
	if deviceID != "" {
		c.DeviceID = prop.StringExact(deviceID)
	}
	// MJPEG nodes on some cameras hand out malformed frames that break the encoder.
	c.FrameFormat = prop.FrameFormatOneOf{
		frame.FormatYUYV,
		frame.FormatI420,
		frame.FormatI444,
		frame.FormatRGBA,
	}
	if v == nil {
		return
	}
	c.Width = prop.IntRanged{Min: v.MinWidth, Ideal: v.IdealWidth, Max: v.MaxWidth}
	c.Height = prop.IntRanged{Min: v.MinHeight, Ideal: v.IdealHeight, Max: v.MaxHeight}
}

func audioProps(c *mediadevices.MediaTrackConstraints, deviceID string) {
	if deviceID != "" {
		c.DeviceID = prop.StringExact(deviceID)
	}
}

var facingHints = map[domain.FacingMode][]string{
	domain.FacingUser:        {"front", "user", "facetime", "integrated"},
	domain.FacingEnvironment: {"back", "rear", "environment", "world"},
}

func facingOf(d mediadevices.MediaDeviceInfo) domain.FacingMode {
	label := strings.ToLower(d.Label)
	for _, mode := range []domain.FacingMode{domain.FacingUser, domain.FacingEnvironment} {
		for _, hint := range facingHints[mode] {
			if strings.Contains(label, hint) {
				return mode
			}
		}
	}
	return ""
}

func devicesOf(all []mediadevices.MediaDeviceInfo, kind mediadevices.MediaDeviceType) []mediadevices.MediaDeviceInfo {
	var out []mediadevices.MediaDeviceInfo
	for _, d := range all {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// pickCamera prefers a camera whose label suggests the wanted facing and falls
// back to the first one. ok is false when there are no cameras.
func pickCamera(cams []mediadevices.MediaDeviceInfo, want domain.FacingMode) (mediadevices.MediaDeviceInfo, bool) {
	if len(cams) == 0 {
		return mediadevices.MediaDeviceInfo{}, false
	}
	if want != "" {
		for _, d := range cams {
			if facingOf(d) == want {
				return d, true
			}
		}
	}
	return cams[0], true
}

// nextCamera picks the camera to switch to from current: one facing the other
// way if labels tell, otherwise the next one in enumeration order.
func nextCamera(cams []mediadevices.MediaDeviceInfo, currentID string, facing domain.FacingMode) (mediadevices.MediaDeviceInfo, bool) {
	want := domain.FacingEnvironment
	if facing == domain.FacingEnvironment {
		want = domain.FacingUser
	}
	for _, d := range cams {
		if d.DeviceID != currentID && facingOf(d) == want {
			return d, true
		}
	}
	for i, d := range cams {
		if d.DeviceID == currentID {
			next := cams[(i+1)%len(cams)]
			return next, next.DeviceID != currentID
		}
	}
	if len(cams) > 0 {
		return cams[0], true
	}
	return mediadevices.MediaDeviceInfo{}, false
}
