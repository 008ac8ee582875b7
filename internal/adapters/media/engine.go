package media

import (
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// RegisterCodecs returns a media engine hook matching sel, or nil to keep
// pion's defaults when sel is nil.
func RegisterCodecs(sel *mediadevices.CodecSelector) func(*webrtc.MediaEngine) error {
	if sel == nil {
		return nil
	}
	return func(me *webrtc.MediaEngine) error {
		sel.Populate(me)
		return nil
	}
}
