package signal

import (
	"context"
	"net/url"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Client is a SignalingPort over one websocket to a signaling hub, joined to
// a single consultation.
type Client struct {
	conn     *wsConn
	dispatch *dispatcher
}

// Dial connects to the hub at rawURL and joins consultation.
func Dial(ctx context.Context, rawURL, consultation string, s Settings) (*Client, error) {
	s = s.withDefaults()
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("consultation", consultation)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("module", "adapters.signal").Str("consultation", consultation).Logger()
	c := &Client{
		conn:     newWSConn(ws, logger),
		dispatch: newDispatcher(),
	}
	go c.conn.writePump(s.PingPeriod)
	go func() {
		c.conn.readPump(s, c.handle)
		c.dispatch.close()
	}()
	logger.Info().Str("url", u.Redacted()).Msg("signaling connected")
	return c, nil
}

func (c *Client) handle(f core.Frame) {
	env, err := decode(f)
	if err != nil {
		c.conn.logger.Error().Err(err).Msg("bad json")
		return
	}
	switch env.Type {
	case typePing:
		_ = c.send(context.Background(), Envelope{Type: typePong})
		return
	case typePong:
		return
	case typeError:
		c.conn.logger.Warn().Str("reason", env.Reason).Msg("hub refused")
		return
	}
	sig, err := env.signal()
	if err != nil {
		c.conn.logger.Warn().Err(err).Msg("rejected signal")
		return
	}
	c.dispatch.deliver(sig)
}

func (c *Client) send(ctx context.Context, env Envelope) error {
	f, err := encode(env)
	if err != nil {
		return err
	}
	return c.conn.Send(ctx, f)
}

func (c *Client) SendOffer(ctx context.Context, sid domain.SessionID, sdp string) error {
	return c.send(ctx, envelopeOf(core.Signal{Kind: core.SignalOffer, SessionID: sid, SDP: sdp}))
}

func (c *Client) SendAnswer(ctx context.Context, sid domain.SessionID, sdp string) error {
	return c.send(ctx, envelopeOf(core.Signal{Kind: core.SignalAnswer, SessionID: sid, SDP: sdp}))
}

func (c *Client) SendCandidate(ctx context.Context, sid domain.SessionID, cand webrtc.ICECandidateInit) error {
	return c.send(ctx, envelopeOf(core.Signal{Kind: core.SignalCandidate, SessionID: sid, Candidate: cand}))
}

func (c *Client) SendHangup(ctx context.Context, sid domain.SessionID) error {
	return c.send(ctx, envelopeOf(core.Signal{Kind: core.SignalHangup, SessionID: sid}))
}

func (c *Client) Subscribe(sid domain.SessionID) (<-chan core.Signal, func()) {
	return c.dispatch.subscribe(sid)
}

// OnIncoming registers fn for offers that open a new session and for
// hangups that withdraw one before it is accepted.
func (c *Client) OnIncoming(fn func(core.Signal)) { c.dispatch.onIncoming(fn) }

// Done is closed once the socket is gone.
func (c *Client) Done() <-chan struct{} { return c.conn.Done() }

// Close flushes queued frames and closes the socket. Subscribers see their
// channels closed.
func (c *Client) Close() error {
	c.conn.shutdown()
	select {
	case <-c.conn.Done():
	case <-time.After(writeWait):
		c.conn.Close()
	}
	c.dispatch.close()
	return nil
}
