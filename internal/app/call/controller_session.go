package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

type negotiateFunc func(ctx context.Context, s *session, h core.NegotiationHandle) error

// StartCall acquires local media, opens a negotiation handle and sends an offer.
// It returns once the offer is out and the session is Negotiating; Connected
// follows asynchronously. A failure ends the session and is returned as its reason.
func (c *Controller) StartCall(ctx context.Context) error {
	s, err := c.begin(domain.NewSessionID(), roleCaller)
	if err != nil {
		return err
	}
	return c.run(ctx, s, c.offer)
}

// AcceptCall answers a remote offer received for sid.
func (c *Controller) AcceptCall(ctx context.Context, sid domain.SessionID, offerSDP string) error {
	if offerSDP == "" {
		return domain.NewNegotiationError("apply_offer", domain.ErrInvalidState, errors.New("empty offer"))
	}
	s, err := c.begin(sid, roleCallee)
	if err != nil {
		return err
	}
	return c.run(ctx, s, func(ctx context.Context, s *session, h core.NegotiationHandle) error {
		return c.answer(ctx, s, h, offerSDP)
	})
}

// EndCall tears the current session down and returns once everything is released.
func (c *Controller) EndCall() error {
	c.mu.Lock()
	s := c.sess
	if s == nil || s.state == domain.StateEnded {
		c.mu.Unlock()
		return domain.ErrNoActiveSession
	}
	c.mu.Unlock()

	c.end(s, nil)
	<-s.done
	return nil
}

func (c *Controller) begin(id domain.SessionID, r role) (*session, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, domain.ErrControllerDisposed
	}
	if c.sess != nil && c.sess.state.Active() {
		c.mu.Unlock()
		return nil, domain.ErrSessionAlreadyActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:        id,
		role:      r,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		connected: make(chan struct{}),
		described: make(chan struct{}),
		state:     domain.StateIdle,
		history:   []domain.CallState{domain.StateIdle},
		createdAt: c.now(),
	}
	c.sess = s
	c.setStateLocked(s, domain.StateAcquiringMedia)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.callStarted(r)
	c.publish(snap)
	return s, nil
}

func (c *Controller) run(ctx context.Context, s *session, negotiate negotiateFunc) error {
	opCtx, stop := context.WithCancel(ctx)
	defer stop()
	unlink := context.AfterFunc(s.ctx, stop)
	defer unlink()

	set, err := await(opCtx, func(ctx context.Context) (*core.LocalTrackSet, error) {
		return c.media.Acquire(ctx, c.cfg.Constraints)
	}, c.releaseLate)
	if err != nil {
		return c.abort(s, "acquire", err)
	}
	if err := c.adoptTracks(s, set); err != nil {
		return err
	}

	h, err := await(opCtx, func(ctx context.Context) (core.NegotiationHandle, error) {
		return c.neg.Create(ctx, core.NegotiationConfig{ICEServers: c.cfg.ICEServers})
	}, c.closeLate)
	if err != nil {
		return c.abort(s, "create", err)
	}
	if err := c.adoptHandle(s, h); err != nil {
		return err
	}

	if err := h.AttachLocalTracks(set); err != nil {
		return c.abort(s, "attach", err)
	}
	if err := negotiate(opCtx, s, h); err != nil {
		return c.abort(s, "negotiate", err)
	}
	return nil
}

// await runs op in the background and gives up when ctx is done. A result that
// shows up after that is handed to discard.
func await[T any](ctx context.Context, op func(context.Context) (T, error), discard func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := op(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				discard(r.v)
			}
		}()
		var zero T
		return zero, ctx.Err()
	}
}

func (c *Controller) releaseLate(set *core.LocalTrackSet) {
	if set == nil {
		return
	}
	if err := c.media.Release(set); err != nil {
		log.Warn().Str("module", "app.call").Err(err).Msg("release late media")
		return
	}
	log.Debug().Str("module", "app.call").Int("tracks", set.Len()).Msg("released media acquired after cancel")
}

func (c *Controller) closeLate(h core.NegotiationHandle) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		log.Warn().Str("module", "app.call").Err(err).Msg("close late handle")
		return
	}
	log.Debug().Str("module", "app.call").Str("pc", h.ID()).Msg("closed handle created after cancel")
}

func (c *Controller) adoptTracks(s *session, set *core.LocalTrackSet) error {
	c.mu.Lock()
	if s.ending {
		c.mu.Unlock()
		c.releaseLate(set)
		return c.endReason(s)
	}
	s.tracks = set
	c.setStateLocked(s, domain.StateNegotiating)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap)
	return nil
}

func (c *Controller) adoptHandle(s *session, h core.NegotiationHandle) error {
	c.mu.Lock()
	if s.ending {
		c.mu.Unlock()
		c.closeLate(h)
		return c.endReason(s)
	}
	s.handle = h
	inbound, unsubscribe := c.sig.Subscribe(s.id)
	s.unsubscribe = unsubscribe
	c.startPumps(s, h, inbound)
	c.mu.Unlock()
	return nil
}

// abort ends s because op failed, unless something else already ended it.
func (c *Controller) abort(s *session, op string, err error) error {
	if s.ctx.Err() != nil {
		return c.endReason(s)
	}
	switch {
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, domain.ErrCancelled):
	case errors.Is(err, context.DeadlineExceeded):
		err = domain.NewNegotiationError(op, domain.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		err = fmt.Errorf("%s: %w", op, domain.ErrCancelled)
	}
	c.end(s, err)
	return err
}

// end is the single teardown path. Whoever gets here first owns it; the rest return at once.
// A session that never got past AcquiringMedia holds nothing and goes straight to Ended.
func (c *Controller) end(s *session, reason error) {
	c.endIf(s, reason, nil)
}

// endIf tears s down only while allow, checked under c.mu, accepts its state.
// It reports whether this call did the teardown.
func (c *Controller) endIf(s *session, reason error, allow func(domain.CallState) bool) bool {
	c.mu.Lock()
	if s.ending || (allow != nil && !allow(s.state)) {
		c.mu.Unlock()
		return false
	}
	s.ending = true
	s.endReason = reason
	if s.state != domain.StateAcquiringMedia {
		c.setStateLocked(s, domain.StateEnding)
	}
	s.cancel()
	tracks, h, unsubscribe := s.tracks, s.handle, s.unsubscribe
	s.unsubscribe = nil
	s.remote, s.pendingRemote = nil, nil
	hangup := s.signaled && !s.peerHungUp
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	var errs error
	if tracks != nil {
		if err := c.media.Release(tracks); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("release media: %w", err))
		}
	}
	if h != nil {
		if err := h.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close handle: %w", err))
		}
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if hangup {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HangupTimeout)
		if err := c.sig.SendHangup(ctx, s.id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("send hangup: %w", err))
		}
		cancel()
	}
	if errs != nil {
		log.Warn().Str("module", "app.call").Str("sid", string(s.id)).Err(errs).Msg("teardown")
	}

	c.mu.Lock()
	s.endedAt = c.now()
	c.setStateLocked(s, domain.StateEnded)
	snap = c.snapshotLocked()
	c.mu.Unlock()
	close(s.done)

	c.metrics.callEnded(reason)
	log.Info().
		Str("module", "app.call").
		Str("sid", string(s.id)).
		Str("reason", domain.ReasonCode(reason)).
		AnErr("cause", reason).
		Msg("call ended")
	c.publish(snap)
	return true
}
