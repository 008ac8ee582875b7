package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func recv(t *testing.T, ch <-chan core.Signal) core.Signal {
	t.Helper()
	select {
	case sig, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return sig
	case <-time.After(2 * time.Second):
		t.Fatal("no signal")
	}
	return core.Signal{}
}

func incoming(p interface{ OnIncoming(func(core.Signal)) }) <-chan core.Signal {
	ch := make(chan core.Signal, 4)
	p.OnIncoming(func(sig core.Signal) { ch <- sig })
	return ch
}

func TestEnvelopeCandidate(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	sig := core.Signal{
		Kind:      core.SignalCandidate,
		SessionID: "s1",
		Candidate: webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx},
	}
	f, err := encode(envelopeOf(sig))
	require.NoError(t, err)
	assert.Contains(t, string(f), `"sdpMid":"0"`)

	env, err := decode(f)
	require.NoError(t, err)
	got, err := env.signal()
	require.NoError(t, err)
	assert.Equal(t, sig, got)
}

func TestEnvelopeRejects(t *testing.T) {
	for name, env := range map[string]Envelope{
		"no session":   {Type: "offer", SDP: "v=0"},
		"empty answer": {Type: "answer", Session: "s1"},
		"unknown":      {Type: "rename", Session: "s1"},
		"long session": {Type: "hangup", Session: strings.Repeat("s", domain.MaxSessionIDLen+1)},
	} {
		_, err := env.signal()
		assert.ErrorIs(t, err, errBadEnvelope, name)
	}
	_, err := decode(core.Frame("{"))
	assert.ErrorIs(t, err, errBadEnvelope)
}

func TestDispatcher(t *testing.T) {
	d := newDispatcher()
	first, cancelFirst := d.subscribe("s1")
	second, cancelSecond := d.subscribe("s1")

	_, ok := <-first
	assert.False(t, ok, "replaced subscription is closed")
	cancelFirst()

	d.deliver(core.Signal{Kind: core.SignalHangup, SessionID: "s1"})
	assert.Equal(t, core.SignalHangup, recv(t, second).Kind)

	cancelSecond()
	cancelSecond()
	_, ok = <-second
	assert.False(t, ok)

	late, _ := d.subscribe("s2")
	d.close()
	_, ok = <-late
	assert.False(t, ok)

	closed, cancel := d.subscribe("s3")
	_, ok = <-closed
	assert.False(t, ok)
	cancel()
}

func TestHubRelaysBetweenPorts(t *testing.T) {
	hub := NewHub()
	patient, err := hub.Join("c1")
	require.NoError(t, err)
	doctor, err := hub.Join("c1")
	require.NoError(t, err)
	_, err = hub.Join("c1")
	assert.ErrorIs(t, err, ErrConsultationFull)
	assert.Equal(t, 2, hub.Parties("c1"))

	offers := incoming(doctor)
	patientIn, cancel := patient.Subscribe("s1")
	defer cancel()

	ctx := context.Background()
	require.NoError(t, patient.SendOffer(ctx, "s1", "v=0 offer"))
	offer := recv(t, offers)
	assert.Equal(t, domain.SessionID("s1"), offer.SessionID)
	assert.Equal(t, "v=0 offer", offer.SDP)

	doctorIn, cancelDoctor := doctor.Subscribe("s1")
	defer cancelDoctor()
	require.NoError(t, doctor.SendAnswer(ctx, "s1", "v=0 answer"))
	assert.Equal(t, "v=0 answer", recv(t, patientIn).SDP)

	require.NoError(t, patient.SendCandidate(ctx, "s1", webrtc.ICECandidateInit{Candidate: "candidate:x"}))
	assert.Equal(t, "candidate:x", recv(t, doctorIn).Candidate.Candidate)

	// leaving hangs up every session the port took part in
	require.NoError(t, patient.Close())
	assert.Equal(t, core.SignalHangup, recv(t, doctorIn).Kind)
	assert.Equal(t, 1, hub.Parties("c1"))
	assert.ErrorIs(t, patient.SendHangup(ctx, "s1"), ErrClosed)
	require.NoError(t, patient.Close())
}

func TestHubHoldsSignalsUntilAccept(t *testing.T) {
	hub := NewHub()
	patient, err := hub.Join("c1")
	require.NoError(t, err)
	doctor, err := hub.Join("c1")
	require.NoError(t, err)
	offers := incoming(doctor)

	ctx := context.Background()
	require.NoError(t, patient.SendOffer(ctx, "s1", "v=0 offer"))
	require.NoError(t, patient.SendCandidate(ctx, "s1", webrtc.ICECandidateInit{Candidate: "candidate:1"}))
	require.NoError(t, patient.SendCandidate(ctx, "s1", webrtc.ICECandidateInit{Candidate: "candidate:2"}))
	assert.Equal(t, core.SignalOffer, recv(t, offers).Kind)

	// relay is synchronous, so both candidates are already held
	doctorIn, cancel := doctor.Subscribe("s1")
	defer cancel()
	assert.Equal(t, "candidate:1", recv(t, doctorIn).Candidate.Candidate)
	assert.Equal(t, "candidate:2", recv(t, doctorIn).Candidate.Candidate)

	require.NoError(t, patient.SendCandidate(ctx, "s1", webrtc.ICECandidateInit{Candidate: "candidate:3"}))
	assert.Equal(t, "candidate:3", recv(t, doctorIn).Candidate.Candidate)
}

func TestDispatcherBeforeAccept(t *testing.T) {
	d := newDispatcher()
	offers := make(chan core.Signal, 4)
	d.onIncoming(func(sig core.Signal) { offers <- sig })

	// nothing is held for a session that was never offered
	d.deliver(core.Signal{Kind: core.SignalCandidate, SessionID: "s0"})
	stray, cancelStray := d.subscribe("s0")
	assert.Empty(t, stray)
	cancelStray()

	d.deliver(core.Signal{Kind: core.SignalOffer, SessionID: "s1", SDP: "v=0"})
	d.deliver(core.Signal{Kind: core.SignalCandidate, SessionID: "s1"})
	d.deliver(core.Signal{Kind: core.SignalHangup, SessionID: "s1"})
	assert.Equal(t, core.SignalOffer, recv(t, offers).Kind)
	withdrawn := recv(t, offers)
	assert.Equal(t, core.SignalHangup, withdrawn.Kind)
	assert.Equal(t, domain.SessionID("s1"), withdrawn.SessionID)

	// accepting anyway still learns the caller is gone
	in, cancel := d.subscribe("s1")
	assert.Equal(t, core.SignalCandidate, recv(t, in).Kind)
	assert.Equal(t, core.SignalHangup, recv(t, in).Kind)
	cancel()

	// a newer offer drops what was held for the older one
	d.deliver(core.Signal{Kind: core.SignalOffer, SessionID: "s2", SDP: "v=0"})
	d.deliver(core.Signal{Kind: core.SignalOffer, SessionID: "s3", SDP: "v=0"})
	d.deliver(core.Signal{Kind: core.SignalCandidate, SessionID: "s2"})
	recv(t, offers)
	recv(t, offers)
	old, cancelOld := d.subscribe("s2")
	assert.Empty(t, old)
	cancelOld()

	for i := 0; i < subscriberBuffer+8; i++ {
		d.deliver(core.Signal{Kind: core.SignalCandidate, SessionID: "s3"})
	}
	held, cancelHeld := d.subscribe("s3")
	defer cancelHeld()
	assert.Len(t, held, subscriberBuffer)
}

func TestPortAlone(t *testing.T) {
	hub := NewHub()
	p, err := hub.Join("c1")
	require.NoError(t, err)
	defer p.Close()

	assert.ErrorIs(t, p.SendOffer(context.Background(), "s1", "v=0"), ErrNoPeer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.SendHangup(ctx, "s1"), context.Canceled)
}

type wsEndpoint struct {
	*wsConn
	id string
}

func (e *wsEndpoint) deliver(f core.Frame) error { return e.TrySend(f) }
func (e *wsEndpoint) label() string              { return "ws:" + e.id }

// newRemoteService stands in for the external signaling service: websocket
// clients are joined to hub under ?consultation= and their frames relayed.
func newRemoteService(t *testing.T, hub *Hub) string {
	t.Helper()
	s := Settings{PingPeriod: time.Second}.withDefaults()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		consultation := r.URL.Query().Get("consultation")
		if consultation == "" {
			http.Error(w, "consultation required", http.StatusBadRequest)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ep := &wsEndpoint{wsConn: newWSConn(ws, zerolog.Nop()), id: r.RemoteAddr}
		go ep.writePump(s.PingPeriod)
		if err := hub.join(consultation, ep); err != nil {
			if f, encErr := encode(Envelope{Type: typeError, Reason: err.Error()}); encErr == nil {
				_ = ep.TrySend(f)
			}
			ep.shutdown()
			return
		}
		go func() {
			ep.readPump(s, func(f core.Frame) {
				env, err := decode(f)
				if err != nil || !relayable(env) {
					return
				}
				_ = hub.relay(consultation, ep, env)
			})
			hub.leave(consultation, ep)
		}()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientOverWebsocket(t *testing.T) {
	hub := NewHub()
	url := newRemoteService(t, hub)

	local, err := hub.Join("c1")
	require.NoError(t, err)
	defer local.Close()
	offers := incoming(local)

	ctx := context.Background()
	client, err := Dial(ctx, url, "c1", Settings{PingPeriod: time.Second})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Parties("c1") == 2 }, 2*time.Second, 10*time.Millisecond)

	answers, cancel := client.Subscribe("s1")
	defer cancel()
	require.NoError(t, client.SendOffer(ctx, "s1", "v=0 offer"))
	assert.Equal(t, "v=0 offer", recv(t, offers).SDP)

	localIn, cancelLocal := local.Subscribe("s1")
	defer cancelLocal()
	require.NoError(t, local.SendAnswer(ctx, "s1", "v=0 answer"))
	assert.Equal(t, "v=0 answer", recv(t, answers).SDP)

	require.NoError(t, client.SendHangup(ctx, "s1"))
	assert.Equal(t, core.SignalHangup, recv(t, localIn).Kind)

	require.NoError(t, client.Close())
	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("client not closed")
	}
	_, ok := <-answers
	assert.False(t, ok)
	require.Eventually(t, func() bool { return hub.Parties("c1") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, client.SendHangup(ctx, "s1"), ErrClosed)
}

func TestDialRequiresConsultation(t *testing.T) {
	url := newRemoteService(t, NewHub())
	_, err := Dial(context.Background(), url, "", Settings{})
	assert.Error(t, err)
}

func TestDialRefusedWhenFull(t *testing.T) {
	hub := NewHub()
	url := newRemoteService(t, hub)
	for i := 0; i < maxParties; i++ {
		p, err := hub.Join("c1")
		require.NoError(t, err)
		defer p.Close()
	}

	client, err := Dial(context.Background(), url, "c1", Settings{})
	require.NoError(t, err)
	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hub kept the connection")
	}
	assert.Equal(t, maxParties, hub.Parties("c1"))
}
