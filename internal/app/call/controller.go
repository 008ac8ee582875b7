// Package call drives one consultation screen through a single call at a time:
// media acquisition, negotiation, in-call controls and teardown.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type role int

const (
	roleCaller role = iota
	roleCallee
)

func (r role) String() string {
	if r == roleCallee {
		return "callee"
	}
	return "caller"
}

// Config holds what a controller passes down to its collaborators.
type Config struct {
	ICEServers  []webrtc.ICEServer
	Constraints domain.Constraints
	// ConnectTimeout ends a session that is not Connected in time. Zero disables it.
	ConnectTimeout time.Duration
	// HangupTimeout bounds the best-effort hangup sent on teardown.
	HangupTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Constraints:    domain.DefaultConstraints(),
		ConnectTimeout: 30 * time.Second,
		HangupTimeout:  2 * time.Second,
	}
}

type Option func(*Controller)

func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller is the call session state machine for one screen. At most one
// session is live at a time; a new one may start once the previous one is Ended.
type Controller struct {
	media core.MediaResourceManager
	neg   core.Negotiator
	sig   core.SignalingPort
	cfg   Config

	metrics *Metrics
	now     func() time.Time

	mu       sync.Mutex
	sess     *session
	disposed bool

	obsMu     sync.RWMutex
	observers map[int]func(domain.CallSnapshot)
	nextObs   int
}

func NewController(media core.MediaResourceManager, neg core.Negotiator, sig core.SignalingPort, cfg Config, opts ...Option) *Controller {
	if cfg.HangupTimeout <= 0 {
		cfg.HangupTimeout = 2 * time.Second
	}
	c := &Controller{
		media:     media,
		neg:       neg,
		sig:       sig,
		cfg:       cfg,
		now:       time.Now,
		observers: make(map[int]func(domain.CallSnapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// session is one call attempt. Its identity, channels and context never change
// after creation; the rest is guarded by Controller.mu.
type session struct {
	id   domain.SessionID
	role role

	ctx    context.Context
	cancel context.CancelFunc
	// done is closed once the session is Ended and every resource is released.
	done chan struct{}
	// connected is closed on the first Connected transition.
	connected chan struct{}
	// described is closed once our offer or answer has gone out.
	described chan struct{}

	pumps conc.WaitGroup

	// guarded by Controller.mu
	state         domain.CallState
	history       []domain.CallState
	tracks        *core.LocalTrackSet
	handle        core.NegotiationHandle
	unsubscribe   func()
	remote        *core.RemoteStream
	pendingRemote *core.RemoteStream
	remoteDesc    bool
	early         []webrtc.ICECandidateInit
	muted         bool
	videoOff      bool
	signaled      bool
	peerHungUp    bool
	ending        bool
	createdAt     time.Time
	endedAt       time.Time
	endReason     error
}

func (c *Controller) setStateLocked(s *session, to domain.CallState) {
	from := s.state
	s.state = to
	s.history = append(s.history, to)
	log.Info().
		Str("module", "app.call").
		Str("sid", string(s.id)).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("state")
}

// State is the current session state, Idle when nothing was ever started.
func (c *Controller) State() domain.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return domain.StateIdle
	}
	return c.sess.state
}

// History lists every state the current session went through, starting at Idle.
func (c *Controller) History() []domain.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return []domain.CallState{domain.StateIdle}
	}
	return append([]domain.CallState(nil), c.sess.history...)
}

// LocalTracks returns the tracks to render in the self view, nil when none are held.
func (c *Controller) LocalTracks() []core.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.tracks == nil || c.sess.tracks.Released() {
		return nil
	}
	return c.sess.tracks.Tracks()
}

// RemoteStream is non-nil only while Connected.
func (c *Controller) RemoteStream() *core.RemoteStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.state != domain.StateConnected {
		return nil
	}
	return c.sess.remote
}

func (c *Controller) Snapshot() domain.CallSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() domain.CallSnapshot {
	s := c.sess
	if s == nil {
		return domain.CallSnapshot{
			State:  domain.StateIdle,
			Status: domain.StateIdle.StatusText(),
		}
	}
	snap := domain.CallSnapshot{
		SessionID:    s.id,
		State:        s.state,
		Status:       s.state.StatusText(),
		Muted:        s.muted,
		VideoEnabled: !s.videoOff,
		CreatedAt:    s.createdAt,
		EndedAt:      s.endedAt,
	}
	if s.tracks != nil {
		snap.LocalTracks = s.tracks.Infos()
	}
	if s.state == domain.StateConnected && s.remote != nil {
		snap.RemoteStream = s.remote.ID()
	}
	if s.state == domain.StateEnded {
		snap.EndReason = domain.ReasonCode(s.endReason)
		if s.endReason != nil {
			snap.Error = s.endReason.Error()
		}
	}
	return snap
}

// Observe registers fn for every snapshot change until the returned func is called.
// fn runs on the goroutine that changed the state and must not block.
func (c *Controller) Observe(fn func(domain.CallSnapshot)) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()
	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

func (c *Controller) publish(snap domain.CallSnapshot) {
	c.obsMu.RLock()
	fns := make([]func(domain.CallSnapshot), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.RUnlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// AwaitConnected blocks until the current session is Connected. A ctx deadline
// that passes while it is still being set up ends it with ErrTimeout. A session
// that has ended reports its end reason, even if it connected before.
func (c *Controller) AwaitConnected(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return domain.ErrNoActiveSession
	}
	if settled, err := c.outcome(s); settled {
		return err
	}
	select {
	case <-s.connected:
	case <-s.done:
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			timeout := domain.NewNegotiationError("connect", domain.ErrTimeout, ctx.Err())
			if c.endIf(s, timeout, settingUp) {
				return timeout
			}
		} else if settled, _ := c.outcome(s); !settled {
			return ctx.Err()
		}
	}
	_, err := c.outcome(s)
	return err
}

// outcome reports whether s is past setup, and if so what AwaitConnected returns.
func (c *Controller) outcome(s *session) (bool, error) {
	c.mu.Lock()
	ending, state := s.ending, s.state
	c.mu.Unlock()
	switch {
	case ending:
		<-s.done
		return true, c.endReason(s)
	case state == domain.StateConnected:
		return true, nil
	}
	return false, nil
}

func settingUp(st domain.CallState) bool {
	return st == domain.StateAcquiringMedia || st == domain.StateNegotiating
}

// Dispose ends any live session, waits for its goroutines and refuses new ones.
// Called when the owning screen goes away.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	s := c.sess
	c.mu.Unlock()

	if s == nil {
		return
	}
	c.end(s, nil)
	<-s.done
	s.pumps.Wait()
	log.Debug().Str("module", "app.call").Str("sid", string(s.id)).Msg("controller disposed")
}

func (c *Controller) endReason(s *session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.endReason != nil {
		return s.endReason
	}
	return domain.ErrCancelled
}
