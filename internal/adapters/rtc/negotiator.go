package rtc

import (
	"context"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type ICETimeouts struct {
	Disconnected time.Duration
	Failed       time.Duration
	Keepalive    time.Duration
}

type Options struct {
	ICETimeouts ICETimeouts
	// RegisterCodecs fills the media engine. Nil registers pion's default codecs.
	RegisterCodecs func(*webrtc.MediaEngine) error
	// NetworkTypes restricts gathering, e.g. to UDP4 only. Empty means pion's default.
	NetworkTypes []webrtc.NetworkType
	// IncludeLoopback gathers 127.0.0.1 candidates; only useful for in-process peers.
	IncludeLoopback bool
}

func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}
}

// Negotiator builds peer connections from one shared pion API.
type Negotiator struct {
	api *webrtc.API
}

func NewNegotiator(opts Options) (*Negotiator, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if opts.RegisterCodecs != nil {
		if err := opts.RegisterCodecs(mediaEngine); err != nil {
			return nil, err
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if t := opts.ICETimeouts; t.Disconnected > 0 && t.Failed > 0 && t.Keepalive > 0 {
		se.SetICETimeouts(t.Disconnected, t.Failed, t.Keepalive)
	}
	if len(opts.NetworkTypes) > 0 {
		se.SetNetworkTypes(opts.NetworkTypes)
	}
	if opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return &Negotiator{api: api}, nil
}

func (n *Negotiator) Create(ctx context.Context, cfg core.NegotiationConfig) (core.NegotiationHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewNegotiationError("create", domain.ErrTimeout, err)
	}
	servers := cfg.ICEServers
	if servers == nil {
		servers = DefaultICEServers()
	}
	pc, err := n.api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, domain.NewNegotiationError("create", domain.ErrTransportFailed, err)
	}
	h := newHandle(pc)
	log.Info().Str("module", "webrtc").Str("pc", h.id).Int("ice_servers", len(servers)).Msg("peer connection created")
	return h, nil
}
