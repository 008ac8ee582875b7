package media

import (
	"errors"
	"io"

	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
)

// VideoCapture is an open camera producing raw frames.
type VideoCapture interface {
	video.Reader
	io.Closer
}

// AudioCapture is an open microphone producing raw chunks.
type AudioCapture interface {
	audio.Reader
	io.Closer
}

// Driver opens capture devices. The default driver goes through mediadevices;
// tests substitute their own.
type Driver interface {
	Devices() []mediadevices.MediaDeviceInfo
	OpenVideo(deviceID string, v *domain.VideoConstraints) (VideoCapture, error)
	OpenAudio(deviceID string) (AudioCapture, error)
}

var errNoTrack = errors.New("device produced no track")

type deviceDriver struct{}

func (deviceDriver) Devices() []mediadevices.MediaDeviceInfo {
	return mediadevices.EnumerateDevices()
}

func (deviceDriver) OpenVideo(deviceID string, v *domain.VideoConstraints) (VideoCapture, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) { videoProps(c, deviceID, v) },
		Codec: mediadevices.NewCodecSelector(),
	})
	if err != nil {
		return nil, err
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errNoTrack
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		closeAll(stream.GetTracks())
		return nil, errNoTrack
	}
	return &videoCapture{track: vt, Reader: vt.NewReader(false)}, nil
}

func (deviceDriver) OpenAudio(deviceID string) (AudioCapture, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) { audioProps(c, deviceID) },
		Codec: mediadevices.NewCodecSelector(),
	})
	if err != nil {
		return nil, err
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, errNoTrack
	}
	at, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		closeAll(stream.GetTracks())
		return nil, errNoTrack
	}
	return &audioCapture{track: at, Reader: at.NewReader(false)}, nil
}

func closeAll(tracks []mediadevices.Track) {
	for _, t := range tracks {
		_ = t.Close()
	}
}

type videoCapture struct {
	video.Reader
	track *mediadevices.VideoTrack
}

func (c *videoCapture) Close() error { return c.track.Close() }

type audioCapture struct {
	audio.Reader
	track *mediadevices.AudioTrack
}

func (c *audioCapture) Close() error { return c.track.Close() }
