package call

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (c *Controller) offer(ctx context.Context, s *session, h core.NegotiationHandle) error {
	offer, err := h.CreateOffer(ctx)
	if err != nil {
		return err
	}
	if err := c.sig.SendOffer(ctx, s.id, offer.SDP); err != nil {
		return domain.NewNegotiationError("send_offer", domain.ErrTransportFailed, err)
	}
	c.markDescribed(s)
	return nil
}

func (c *Controller) answer(ctx context.Context, s *session, h core.NegotiationHandle, offerSDP string) error {
	answer, err := h.ApplyRemoteOffer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP})
	if err != nil {
		return err
	}
	c.remoteDescriptionApplied(s, h)
	if err := c.sig.SendAnswer(ctx, s.id, answer.SDP); err != nil {
		return domain.NewNegotiationError("send_answer", domain.ErrTransportFailed, err)
	}
	c.markDescribed(s)
	return nil
}

// markDescribed lets queued local candidates out; the peer has our description now.
func (c *Controller) markDescribed(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.signaled {
		return
	}
	s.signaled = true
	close(s.described)
}

// remoteDescriptionApplied flushes candidates that arrived before the remote description.
func (c *Controller) remoteDescriptionApplied(s *session, h core.NegotiationHandle) {
	c.mu.Lock()
	s.remoteDesc = true
	early := s.early
	s.early = nil
	c.mu.Unlock()

	for _, cand := range early {
		c.applyCandidate(s, h, cand)
	}
	if len(early) > 0 {
		log.Debug().Str("module", "app.call").Str("sid", string(s.id)).Int("count", len(early)).Msg("flushed early candidates")
	}
}

// startPumps runs the per-session event loops. Must be called with c.mu held so
// that Dispose never waits on a group that is still growing.
func (c *Controller) startPumps(s *session, h core.NegotiationHandle, inbound <-chan core.Signal) {
	s.pumps.Go(func() { c.forwardCandidates(s, h) })
	s.pumps.Go(func() { c.watchConnection(s, h) })
	s.pumps.Go(func() { c.watchRemoteStreams(s, h) })
	s.pumps.Go(func() { c.handleInbound(s, h, inbound) })
	if c.cfg.ConnectTimeout > 0 {
		s.pumps.Go(func() { c.watchConnectTimeout(s, c.cfg.ConnectTimeout) })
	}
}

// forwardCandidates drains local candidates to signaling in discovery order,
// holding them back until our description is out.
func (c *Controller) forwardCandidates(s *session, h core.NegotiationHandle) {
	select {
	case <-s.described:
	case <-s.ctx.Done():
		return
	}
	for cand := range h.LocalCandidates() {
		if err := c.sig.SendCandidate(s.ctx, s.id, cand); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			c.end(s, domain.NewNegotiationError("send_candidate", domain.ErrTransportFailed, err))
			return
		}
	}
}

func (c *Controller) watchConnection(s *session, h core.NegotiationHandle) {
	for st := range h.ConnectionStates() {
		log.Debug().
			Str("module", "app.call").
			Str("sid", string(s.id)).
			Str("pc", h.ID()).
			Str("conn", st.String()).
			Msg("connection state")

		switch st {
		case domain.ConnectionConnected:
			c.onConnected(s)
		case domain.ConnectionFailed, domain.ConnectionClosed:
			c.end(s, domain.NewNegotiationError("connect", domain.ErrTransportFailed, fmt.Errorf("peer connection %s", st)))
			return
		case domain.ConnectionDisconnected:
			// ICE may still recover while negotiating; once media flowed it is fatal.
			c.mu.Lock()
			connected := s.state == domain.StateConnected
			c.mu.Unlock()
			if connected {
				c.end(s, domain.NewNegotiationError("connect", domain.ErrTransportFailed, fmt.Errorf("peer connection %s", st)))
				return
			}
		}
	}
}

func (c *Controller) onConnected(s *session) {
	c.mu.Lock()
	if s.ending || s.state != domain.StateNegotiating {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(s, domain.StateConnected)
	if s.remote == nil {
		s.remote, s.pendingRemote = s.pendingRemote, nil
	}
	close(s.connected)
	setup := c.now().Sub(s.createdAt)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.callConnected(setup)
	c.publish(snap)
}

// watchRemoteStreams keeps the first stream the peer announces. It becomes
// visible once Connected.
func (c *Controller) watchRemoteStreams(s *session, h core.NegotiationHandle) {
	for rs := range h.RemoteStreams() {
		c.mu.Lock()
		if s.ending || s.remote != nil || s.pendingRemote != nil {
			c.mu.Unlock()
			log.Debug().Str("module", "app.call").Str("sid", string(s.id)).Str("stream", rs.ID()).Msg("extra remote stream ignored")
			continue
		}
		var snap *domain.CallSnapshot
		if s.state == domain.StateConnected {
			s.remote = rs
			v := c.snapshotLocked()
			snap = &v
		} else {
			s.pendingRemote = rs
		}
		c.mu.Unlock()

		log.Info().Str("module", "app.call").Str("sid", string(s.id)).Str("stream", rs.ID()).Msg("remote stream")
		if snap != nil {
			c.publish(*snap)
		}
	}
}

func (c *Controller) handleInbound(s *session, h core.NegotiationHandle, inbound <-chan core.Signal) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case sig, ok := <-inbound:
			if !ok {
				return
			}
			c.onSignal(s, h, sig)
		}
	}
}

func (c *Controller) onSignal(s *session, h core.NegotiationHandle, sig core.Signal) {
	switch sig.Kind {
	case core.SignalAnswer:
		c.mu.Lock()
		skip := s.role != roleCaller || s.remoteDesc
		c.mu.Unlock()
		if skip {
			log.Warn().Str("module", "app.call").Str("sid", string(s.id)).Msg("unexpected answer ignored")
			return
		}
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP}
		if err := h.ApplyRemoteAnswer(s.ctx, answer); err != nil {
			if s.ctx.Err() == nil {
				c.end(s, err)
			}
			return
		}
		c.remoteDescriptionApplied(s, h)

	case core.SignalCandidate:
		c.mu.Lock()
		if !s.remoteDesc {
			s.early = append(s.early, sig.Candidate)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.applyCandidate(s, h, sig.Candidate)

	case core.SignalHangup:
		c.mu.Lock()
		s.peerHungUp = true
		c.mu.Unlock()
		log.Info().Str("module", "app.call").Str("sid", string(s.id)).Msg("peer hung up")
		c.end(s, nil)

	case core.SignalOffer:
		log.Warn().Str("module", "app.call").Str("sid", string(s.id)).Msg("renegotiation offer ignored")
	}
}

// applyCandidate hands a remote candidate to the handle. A malformed candidate
// costs one path, not the call.
func (c *Controller) applyCandidate(s *session, h core.NegotiationHandle, cand webrtc.ICECandidateInit) {
	if err := h.ApplyRemoteCandidate(cand); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		log.Warn().Str("module", "app.call").Str("sid", string(s.id)).Err(err).Msg("remote candidate rejected")
	}
}

func (c *Controller) watchConnectTimeout(s *session, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
	case <-s.connected:
	case <-t.C:
		c.endIf(s, domain.NewNegotiationError("connect", domain.ErrTimeout, fmt.Errorf("not connected after %s", d)), settingUp)
	}
}
