package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/consult/internal/app/screen"
	"github.com/dkeye/consult/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	consultationKey = "consultation"
	screenKey       = "screen"
	eventBuffer     = 32
	maxWait         = time.Minute
)

type handlers struct {
	screens *screen.Registry
	limiter *StartLimiter
}

func clientScreenID(c *gin.Context) screen.ID {
	return screen.ID(c.GetString("client_token"))
}

func currentScreen(c *gin.Context) *screen.Screen {
	return c.MustGet(screenKey).(*screen.Screen)
}

// requireScreen resolves the caller's screen. A screen lost to a restart is
// reopened from the consultation remembered in the session cookie.
func (h *handlers) requireScreen(c *gin.Context) {
	id := clientScreenID(c)
	scr, ok := h.screens.Get(id)
	if !ok {
		consultation, _ := sessions.Default(c).Get(consultationKey).(string)
		if consultation == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no screen open"})
			return
		}
		var err error
		if scr, err = h.screens.Open(id, consultation); err != nil {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
	}
	c.Set(screenKey, scr)
	c.Next()
}

func (h *handlers) openScreen(c *gin.Context) {
	var req struct {
		Consultation string `json:"consultation"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Consultation == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid consultation"})
		return
	}
	id := clientScreenID(c)
	scr, err := h.screens.Open(id, req.Consultation)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	sess := sessions.Default(c)
	sess.Set(consultationKey, req.Consultation)
	if err := sess.Save(); err != nil {
		log.Warn().Str("module", "adapters.http").Str("screen", string(id)).Err(err).Msg("saving session")
	}
	c.JSON(http.StatusOK, gin.H{
		"screen":       scr.ID,
		"consultation": scr.Consultation,
		"snapshot":     scr.Ctrl.Snapshot(),
	})
}

func (h *handlers) closeScreen(c *gin.Context) {
	id := clientScreenID(c)
	closed := h.screens.Close(id)
	h.limiter.Forget(id)
	sess := sessions.Default(c)
	sess.Delete(consultationKey)
	if err := sess.Save(); err != nil {
		log.Warn().Str("module", "adapters.http").Str("screen", string(id)).Err(err).Msg("saving session")
	}
	if !closed {
		c.JSON(http.StatusNotFound, gin.H{"error": "no screen open"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) snapshot(c *gin.Context) {
	scr := currentScreen(c)
	body := gin.H{
		"consultation": scr.Consultation,
		"snapshot":     scr.Ctrl.Snapshot(),
		"history":      scr.Ctrl.History(),
	}
	if sig, ok := scr.Incoming(); ok {
		body["incoming"] = sig.SessionID
	}
	c.JSON(http.StatusOK, body)
}

// fail answers with the mapped status and the snapshot the error left behind.
func fail(c *gin.Context, scr *screen.Screen, err error) {
	c.JSON(statusOf(err), gin.H{
		"error":    err.Error(),
		"reason":   domain.ReasonCode(err),
		"snapshot": scr.Ctrl.Snapshot(),
	})
}

// waitParam reads the optional ?wait= duration a start or accept holds the
// response for until the call connects.
func waitParam(c *gin.Context) (time.Duration, bool) {
	raw := c.Query("wait")
	if raw == "" {
		return 0, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 || d > maxWait {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wait must be a duration up to " + maxWait.String()})
		return 0, false
	}
	return d, true
}

// connected answers for a started call, first waiting up to wait for it to connect.
func connected(c *gin.Context, scr *screen.Screen, wait time.Duration) {
	if wait > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
		defer cancel()
		if err := scr.Ctrl.AwaitConnected(ctx); err != nil {
			fail(c, scr, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": scr.Ctrl.Snapshot()})
}

func (h *handlers) start(c *gin.Context) {
	scr := currentScreen(c)
	wait, ok := waitParam(c)
	if !ok {
		return
	}
	if !h.limiter.Allow(scr.ID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many call attempts"})
		return
	}
	if err := scr.Ctrl.StartCall(c.Request.Context()); err != nil {
		fail(c, scr, err)
		return
	}
	connected(c, scr, wait)
}

func (h *handlers) accept(c *gin.Context) {
	scr := currentScreen(c)
	var req struct {
		Session domain.SessionID `json:"session"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	wait, ok := waitParam(c)
	if !ok {
		return
	}
	pending, ok := scr.Incoming()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no incoming call"})
		return
	}
	if req.Session != "" && req.Session != pending.SessionID {
		c.JSON(http.StatusConflict, gin.H{"error": "incoming call changed", "incoming": pending.SessionID})
		return
	}
	offer, ok := scr.TakeIncoming()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no incoming call"})
		return
	}
	if err := scr.Ctrl.AcceptCall(c.Request.Context(), offer.SessionID, offer.SDP); err != nil {
		fail(c, scr, err)
		return
	}
	connected(c, scr, wait)
}

func (h *handlers) end(c *gin.Context) {
	scr := currentScreen(c)
	if err := scr.Ctrl.EndCall(); err != nil {
		fail(c, scr, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": scr.Ctrl.Snapshot()})
}

func (h *handlers) mute(c *gin.Context) {
	scr := currentScreen(c)
	muted, err := scr.Ctrl.ToggleMute()
	if err != nil {
		fail(c, scr, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": muted, "snapshot": scr.Ctrl.Snapshot()})
}

func (h *handlers) video(c *gin.Context) {
	scr := currentScreen(c)
	enabled, err := scr.Ctrl.ToggleVideo()
	if err != nil {
		fail(c, scr, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"video_enabled": enabled, "snapshot": scr.Ctrl.Snapshot()})
}

func (h *handlers) camera(c *gin.Context) {
	scr := currentScreen(c)
	if err := scr.Ctrl.SwitchCamera(c.Request.Context()); err != nil {
		fail(c, scr, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": scr.Ctrl.Snapshot()})
}

// events streams the screen's snapshots and incoming offers as server-sent
// events, starting with the current state.
func (h *handlers) events(c *gin.Context) {
	scr := currentScreen(c)
	ch := make(chan screen.Event, eventBuffer)
	unwatch := scr.Watch(func(ev screen.Event) {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("module", "adapters.http").Str("screen", string(scr.ID)).Msg("event stream behind, dropping event")
		}
	})
	defer unwatch()

	ch <- screen.Event{Kind: screen.EventState, Snapshot: scr.Ctrl.Snapshot()}
	if sig, ok := scr.Incoming(); ok {
		ch <- screen.Event{Kind: screen.EventIncoming, Snapshot: scr.Ctrl.Snapshot(), Session: sig.SessionID}
	}

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-ch:
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-done:
			return false
		}
	})
}
