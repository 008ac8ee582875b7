package media

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io/fs"
	"os"
	"sync/atomic"
	"testing"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type mockDriver struct {
	mock.Mock
}

func (d *mockDriver) Devices() []mediadevices.MediaDeviceInfo {
	return d.Called().Get(0).([]mediadevices.MediaDeviceInfo)
}

func (d *mockDriver) OpenVideo(deviceID string, v *domain.VideoConstraints) (VideoCapture, error) {
	args := d.Called(deviceID, v)
	c, _ := args.Get(0).(VideoCapture)
	return c, args.Error(1)
}

func (d *mockDriver) OpenAudio(deviceID string) (AudioCapture, error) {
	args := d.Called(deviceID)
	c, _ := args.Get(0).(AudioCapture)
	return c, args.Error(1)
}

type fakeCamera struct {
	name   string
	closed atomic.Bool
}

func (c *fakeCamera) Read() (image.Image, func(), error) {
	if c.closed.Load() {
		return nil, nil, fs.ErrClosed
	}
	img := image.NewGray(image.Rect(0, 0, 4, 2))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	return img, func() {}, nil
}

func (c *fakeCamera) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeMic struct {
	closed atomic.Bool
}

func (m *fakeMic) Read() (wave.Audio, func(), error) {
	if m.closed.Load() {
		return nil, nil, fs.ErrClosed
	}
	chunk := wave.NewInt16Interleaved(wave.ChunkInfo{Len: 4, Channels: 1, SamplingRate: 48000})
	for i := range chunk.Data {
		chunk.Data[i] = 1000
	}
	return chunk, func() {}, nil
}

func (m *fakeMic) Close() error {
	m.closed.Store(true)
	return nil
}

var (
	frontCam = mediadevices.MediaDeviceInfo{DeviceID: "cam-front", Kind: mediadevices.VideoInput, Label: "Front Camera"}
	backCam  = mediadevices.MediaDeviceInfo{DeviceID: "cam-back", Kind: mediadevices.VideoInput, Label: "Back Camera"}
	mic      = mediadevices.MediaDeviceInfo{DeviceID: "mic-0", Kind: mediadevices.AudioInput, Label: "Built-in Microphone"}
)

func newManager(devices ...mediadevices.MediaDeviceInfo) (*Manager, *mockDriver) {
	d := &mockDriver{}
	d.On("Devices").Return(devices)
	return NewManager(Options{Driver: d}), d
}

func TestAcquireAndRelease(t *testing.T) {
	m, d := newManager(backCam, frontCam, mic)
	gauge := RegisterMetrics(prometheus.NewRegistry(), m)
	cam, microphone := &fakeCamera{}, &fakeMic{}
	c := domain.DefaultConstraints()
	d.On("OpenVideo", "cam-front", c.Video).Return(cam, nil).Once()
	d.On("OpenAudio", "mic-0").Return(microphone, nil).Once()

	set, err := m.Acquire(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, 2, m.ActiveTracks())
	assert.Equal(t, float64(2), testutil.ToFloat64(gauge))
	assert.Len(t, set.ByKind(domain.TrackVideo), 1)
	assert.Len(t, set.ByKind(domain.TrackAudio), 1)
	for _, tr := range set.Tracks() {
		assert.True(t, tr.Enabled())
		assert.Nil(t, tr.RTP())
	}

	require.NoError(t, m.Release(set))
	assert.Zero(t, m.ActiveTracks())
	assert.Zero(t, testutil.ToFloat64(gauge))
	assert.True(t, cam.closed.Load())
	assert.True(t, microphone.closed.Load())

	require.NoError(t, m.Release(set))
	assert.Zero(t, m.ActiveTracks())
	require.NoError(t, m.Release(nil))
	d.AssertExpectations(t)
}

func TestAcquireAudioOnly(t *testing.T) {
	m, d := newManager(frontCam, mic)
	d.On("OpenAudio", "mic-0").Return(&fakeMic{}, nil).Once()

	set, err := m.Acquire(context.Background(), domain.Constraints{Audio: true})
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
	d.AssertNotCalled(t, "OpenVideo", mock.Anything, mock.Anything)
	require.NoError(t, m.Release(set))
}

func TestAcquireFailures(t *testing.T) {
	t.Run("no camera", func(t *testing.T) {
		m, _ := newManager(mic)
		_, err := m.Acquire(context.Background(), domain.DefaultConstraints())
		assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
	})

	t.Run("microphone denied releases camera", func(t *testing.T) {
		m, d := newManager(frontCam, mic)
		cam := &fakeCamera{}
		d.On("OpenVideo", "cam-front", mock.Anything).Return(cam, nil)
		d.On("OpenAudio", "mic-0").Return(nil, &fs.PathError{Op: "open", Path: "/dev/snd", Err: fs.ErrPermission})

		set, err := m.Acquire(context.Background(), domain.DefaultConstraints())
		assert.Nil(t, set)
		var mae *domain.MediaAccessError
		require.ErrorAs(t, err, &mae)
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
		assert.True(t, cam.closed.Load())
		assert.Zero(t, m.ActiveTracks())
	})

	t.Run("no mode fits", func(t *testing.T) {
		m, d := newManager(frontCam, mic)
		d.On("OpenVideo", "cam-front", mock.Anything).
			Return(nil, errors.New("failed to find the best driver that fits the constraints"))
		_, err := m.Acquire(context.Background(), domain.DefaultConstraints())
		assert.ErrorIs(t, err, domain.ErrConstraintsUnsatisfiable)
	})

	t.Run("invalid constraints never touch devices", func(t *testing.T) {
		m, d := newManager(frontCam, mic)
		_, err := m.Acquire(context.Background(), domain.Constraints{})
		assert.ErrorIs(t, err, domain.ErrConstraintsUnsatisfiable)
		d.AssertNotCalled(t, "Devices")
	})

	t.Run("cancelled after open", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		m, d := newManager(frontCam, mic)
		microphone := &fakeMic{}
		d.On("OpenAudio", "mic-0").Run(func(mock.Arguments) { cancel() }).Return(microphone, nil)

		_, err := m.Acquire(ctx, domain.Constraints{Audio: true})
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, microphone.closed.Load())
		assert.Zero(t, m.ActiveTracks())
	})
}

func TestDisabledTracksSendBlackAndSilence(t *testing.T) {
	m, d := newManager(frontCam, mic)
	d.On("OpenVideo", "cam-front", mock.Anything).Return(&fakeCamera{}, nil)
	d.On("OpenAudio", "mic-0").Return(&fakeMic{}, nil)

	set, err := m.Acquire(context.Background(), domain.DefaultConstraints())
	require.NoError(t, err)
	defer m.Release(set)

	vt := set.ByKind(domain.TrackVideo)[0].(*videoTrack)
	at := set.ByKind(domain.TrackAudio)[0].(*track)
	asrc := at.src.(*audioSource)

	img, _, err := vt.source.Read()
	require.NoError(t, err)
	assert.Equal(t, uint8(200), color.GrayModel.Convert(img.At(0, 0)).(color.Gray).Y)

	vt.SetEnabled(false)
	at.SetEnabled(false)
	assert.False(t, vt.Enabled())

	img, release, err := vt.source.Read()
	require.NoError(t, err)
	release()
	assert.Equal(t, image.Rect(0, 0, 4, 2), img.Bounds())
	assert.Equal(t, uint8(0), color.GrayModel.Convert(img.At(1, 1)).(color.Gray).Y)

	chunk, _, err := asrc.Read()
	require.NoError(t, err)
	quiet, ok := chunk.(*wave.Int16Interleaved)
	require.True(t, ok)
	assert.Equal(t, 4, quiet.ChunkInfo().Len)
	assert.Equal(t, []int16{0, 0, 0, 0}, quiet.Data)

	vt.SetEnabled(true)
	img, _, err = vt.source.Read()
	require.NoError(t, err)
	assert.Equal(t, uint8(200), color.GrayModel.Convert(img.At(0, 0)).(color.Gray).Y)
}

func TestStoppedTrackStaysStopped(t *testing.T) {
	m, d := newManager(mic)
	d.On("OpenAudio", "mic-0").Return(&fakeMic{}, nil)
	set, err := m.Acquire(context.Background(), domain.Constraints{Audio: true})
	require.NoError(t, err)

	tr := set.Tracks()[0]
	require.NoError(t, tr.Stop())
	tr.SetEnabled(true)
	assert.True(t, tr.Stopped())
	assert.False(t, tr.Enabled())
	assert.Zero(t, set.Live())
	assert.Zero(t, m.ActiveTracks())
}

func TestSwitchCamera(t *testing.T) {
	t.Run("swaps to the other side", func(t *testing.T) {
		m, d := newManager(frontCam, backCam, mic)
		front, back := &fakeCamera{name: "front"}, &fakeCamera{name: "back"}
		c := domain.Constraints{Video: domain.DefaultConstraints().Video}
		d.On("OpenVideo", "cam-front", c.Video).Return(front, nil).Once()
		d.On("OpenVideo", "cam-back", c.Video).Return(back, nil).Once()

		set, err := m.Acquire(context.Background(), c)
		require.NoError(t, err)
		defer m.Release(set)

		sw, ok := set.Tracks()[0].(core.CameraSwitcher)
		require.True(t, ok)
		require.NoError(t, sw.SwitchCamera(context.Background()))

		vt := set.Tracks()[0].(*videoTrack)
		assert.True(t, front.closed.Load())
		assert.False(t, back.closed.Load())
		assert.Same(t, back, vt.source.current())
		id, facing := vt.source.device()
		assert.Equal(t, "cam-back", id)
		assert.Equal(t, domain.FacingEnvironment, facing)

		_, _, err = vt.source.Read()
		assert.NoError(t, err)
		assert.Equal(t, 1, m.ActiveTracks())
	})

	t.Run("single camera", func(t *testing.T) {
		m, d := newManager(frontCam)
		d.On("OpenVideo", "cam-front", mock.Anything).Return(&fakeCamera{}, nil).Once()
		set, err := m.Acquire(context.Background(), domain.Constraints{Video: &domain.VideoConstraints{}})
		require.NoError(t, err)
		defer m.Release(set)

		err = set.Tracks()[0].(core.CameraSwitcher).SwitchCamera(context.Background())
		assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)
		d.AssertNumberOfCalls(t, "OpenVideo", 1)
	})

	t.Run("after stop", func(t *testing.T) {
		m, d := newManager(frontCam, backCam)
		d.On("OpenVideo", "cam-front", mock.Anything).Return(&fakeCamera{}, nil).Once()
		set, err := m.Acquire(context.Background(), domain.Constraints{Video: &domain.VideoConstraints{}})
		require.NoError(t, err)
		require.NoError(t, m.Release(set))

		err = set.Tracks()[0].(core.CameraSwitcher).SwitchCamera(context.Background())
		assert.ErrorIs(t, err, domain.ErrNoActiveSession)
	})

	t.Run("new camera busy", func(t *testing.T) {
		m, d := newManager(frontCam, backCam)
		front := &fakeCamera{}
		d.On("OpenVideo", "cam-front", mock.Anything).Return(front, nil).Once()
		d.On("OpenVideo", "cam-back", mock.Anything).Return(nil, errors.New("device busy")).Once()
		set, err := m.Acquire(context.Background(), domain.Constraints{Video: &domain.VideoConstraints{}})
		require.NoError(t, err)
		defer m.Release(set)

		err = set.Tracks()[0].(core.CameraSwitcher).SwitchCamera(context.Background())
		assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
		assert.False(t, front.closed.Load())
	})
}

func TestPickCamera(t *testing.T) {
	plain := mediadevices.MediaDeviceInfo{DeviceID: "video0", Kind: mediadevices.VideoInput, Label: "USB2.0 HD UVC"}
	cams := []mediadevices.MediaDeviceInfo{plain, backCam, frontCam}

	got, ok := pickCamera(cams, domain.FacingUser)
	require.True(t, ok)
	assert.Equal(t, "cam-front", got.DeviceID)

	got, _ = pickCamera(cams, domain.FacingEnvironment)
	assert.Equal(t, "cam-back", got.DeviceID)

	got, _ = pickCamera([]mediadevices.MediaDeviceInfo{plain}, domain.FacingEnvironment)
	assert.Equal(t, "video0", got.DeviceID)

	_, ok = pickCamera(nil, domain.FacingUser)
	assert.False(t, ok)
}

func TestNextCamera(t *testing.T) {
	a := mediadevices.MediaDeviceInfo{DeviceID: "video0", Label: "cam a"}
	b := mediadevices.MediaDeviceInfo{DeviceID: "video1", Label: "cam b"}

	got, ok := nextCamera([]mediadevices.MediaDeviceInfo{a, b}, "video1", "")
	require.True(t, ok)
	assert.Equal(t, "video0", got.DeviceID)

	got, _ = nextCamera([]mediadevices.MediaDeviceInfo{frontCam, a, backCam}, "cam-back", domain.FacingEnvironment)
	assert.Equal(t, "cam-front", got.DeviceID)

	_, ok = nextCamera([]mediadevices.MediaDeviceInfo{a}, "video0", "")
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(fs.ErrPermission), domain.ErrPermissionDenied)
	assert.ErrorIs(t, classify(errors.New("no such device")), domain.ErrDeviceUnavailable)
	orig := domain.NewMediaAccessError(domain.ErrConstraintsUnsatisfiable, nil)
	assert.Same(t, orig, classify(orig))
}

// mediadevices keeps its "no mode fits" error unexported, so its wording is
// matched against the real thing here.
func TestClassifyUnfitConstraints(t *testing.T) {
	if CaptureEnabled {
		t.Skip("needs the synthetic camera")
	}
	cams := devicesOf(deviceDriver{}.Devices(), mediadevices.VideoInput)
	require.NotEmpty(t, cams)

	huge := &domain.VideoConstraints{MinWidth: 100000, IdealWidth: 100000, MaxWidth: 200000}
	_, err := deviceDriver{}.OpenVideo(cams[0].DeviceID, huge)
	require.Error(t, err)
	assert.ErrorIs(t, classify(err), domain.ErrConstraintsUnsatisfiable)
}
