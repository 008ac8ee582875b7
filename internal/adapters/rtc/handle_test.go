package rtc

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type sampleTrack struct {
	kind    domain.TrackKind
	rtp     *webrtc.TrackLocalStaticSample
	enabled bool
	stopped bool
}

func newSampleTrack(t *testing.T, kind domain.TrackKind) *sampleTrack {
	t.Helper()
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == domain.TrackVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	rtp, err := webrtc.NewTrackLocalStaticSample(codec, string(kind), "local")
	require.NoError(t, err)
	return &sampleTrack{kind: kind, rtp: rtp, enabled: true}
}

func (s *sampleTrack) ID() string              { return s.rtp.ID() }
func (s *sampleTrack) Kind() domain.TrackKind  { return s.kind }
func (s *sampleTrack) Enabled() bool           { return s.enabled }
func (s *sampleTrack) SetEnabled(enabled bool) { s.enabled = enabled }
func (s *sampleTrack) Stopped() bool           { return s.stopped }
func (s *sampleTrack) RTP() webrtc.TrackLocal  { return s.rtp }

func (s *sampleTrack) Stop() error {
	s.stopped = true
	return nil
}

func newTestHandle(t *testing.T, opts Options) *Handle {
	t.Helper()
	n, err := NewNegotiator(opts)
	require.NoError(t, err)
	h, err := n.Create(context.Background(), core.NegotiationConfig{ICEServers: []webrtc.ICEServer{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h.(*Handle)
}

func TestOfferAsksForAudioAndVideo(t *testing.T) {
	h := newTestHandle(t, Options{})
	offer, err := h.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")
}

func TestOfferCarriesAttachedTracks(t *testing.T) {
	h := newTestHandle(t, Options{})
	audio := newSampleTrack(t, domain.TrackAudio)
	require.NoError(t, h.AttachLocalTracks(core.NewLocalTrackSet(audio)))

	offer, err := h.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "a=msid:local audio")
	assert.Equal(t, 1, strings.Count(offer.SDP, "m=audio"))
	assert.Contains(t, offer.SDP, "m=video")
}

func TestAttachAfterOfferIsRejected(t *testing.T) {
	h := newTestHandle(t, Options{})
	_, err := h.CreateOffer(context.Background())
	require.NoError(t, err)

	err = h.AttachLocalTracks(core.NewLocalTrackSet(newSampleTrack(t, domain.TrackAudio)))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCandidateBeforeRemoteDescription(t *testing.T) {
	h := newTestHandle(t, Options{})
	err := h.ApplyRemoteCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.False(t, h.Closed())
}

func TestAnswerWithoutOffer(t *testing.T) {
	h := newTestHandle(t, Options{})
	err := h.ApplyRemoteAnswer(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCreateOfferWithDoneContext(t *testing.T) {
	h := newTestHandle(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.CreateOffer(ctx)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newTestHandle(t, Options{})
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.True(t, h.Closed())

	_, err := h.CreateOffer(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.ErrorIs(t, h.AttachLocalTracks(core.NewLocalTrackSet()), domain.ErrInvalidState)

	select {
	case _, ok := <-h.ConnectionStates():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("state stream not closed")
	}
	select {
	case _, ok := <-h.LocalCandidates():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("candidate stream not closed")
	}
}

func TestStateDedup(t *testing.T) {
	h := newTestHandle(t, Options{})
	h.onState(domain.ConnectionConnecting)
	h.onState(domain.ConnectionConnecting)
	h.onState(domain.ConnectionFailed)
	h.onState(domain.ConnectionConnected)

	var got []domain.ConnectionState
	for st := range h.ConnectionStates() {
		got = append(got, st)
	}
	assert.Equal(t, []domain.ConnectionState{domain.ConnectionConnecting, domain.ConnectionFailed}, got)
	assert.ErrorIs(t, h.ApplyRemoteCandidate(webrtc.ICECandidateInit{}), domain.ErrInvalidState)
}

func TestConnectionStateMapping(t *testing.T) {
	cases := map[webrtc.PeerConnectionState]domain.ConnectionState{
		webrtc.PeerConnectionStateNew:          domain.ConnectionNew,
		webrtc.PeerConnectionStateConnecting:   domain.ConnectionConnecting,
		webrtc.PeerConnectionStateConnected:    domain.ConnectionConnected,
		webrtc.PeerConnectionStateDisconnected: domain.ConnectionDisconnected,
		webrtc.PeerConnectionStateFailed:       domain.ConnectionFailed,
		webrtc.PeerConnectionStateClosed:       domain.ConnectionClosed,
	}
	for in, want := range cases {
		assert.Equal(t, want, connectionState(in), in.String())
	}
}

func relay(ctx context.Context, from, to *Handle) {
	for {
		select {
		case c, ok := <-from.LocalCandidates():
			if !ok {
				return
			}
			_ = to.ApplyRemoteCandidate(c)
		case <-ctx.Done():
			return
		}
	}
}

func TestLoopbackCall(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real sockets")
	}
	opts := Options{IncludeLoopback: true, NetworkTypes: []webrtc.NetworkType{webrtc.NetworkTypeUDP4}}
	caller := newTestHandle(t, opts)
	callee := newTestHandle(t, opts)

	audio := newSampleTrack(t, domain.TrackAudio)
	require.NoError(t, caller.AttachLocalTracks(core.NewLocalTrackSet(audio)))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	answer, err := callee.ApplyRemoteOffer(ctx, offer)
	require.NoError(t, err)
	require.NoError(t, caller.ApplyRemoteAnswer(ctx, answer))

	go relay(ctx, caller, callee)
	go relay(ctx, callee, caller)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				_ = audio.rtp.WriteSample(media.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond})
			case <-ctx.Done():
				return
			}
		}
	}()

	waitConnected := func(h *Handle) {
		for {
			select {
			case st := <-h.ConnectionStates():
				if st == domain.ConnectionConnected {
					return
				}
				require.False(t, st.Terminal(), "connection ended in %s", st)
			case <-ctx.Done():
				t.Fatal("not connected")
			}
		}
	}
	waitConnected(caller)
	waitConnected(callee)

	select {
	case rs := <-callee.RemoteStreams():
		assert.Equal(t, "local", rs.ID())
		require.NotEmpty(t, rs.Tracks())
		assert.Equal(t, webrtc.RTPCodecTypeAudio, rs.Tracks()[0].Kind())
	case <-ctx.Done():
		t.Fatal("no remote stream")
	}
}
