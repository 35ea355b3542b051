// Realtime stream handler.
//
//   - GET /events  (Server-Sent Events: presence, friend_request)
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-presence-backend/internal/http/middleware"
	"github.com/tbourn/go-presence-backend/internal/realtime"
)

// Events godoc
// @ID          events
// @Summary     Realtime event stream
// @Description Long-lived SSE stream. Emits `presence` events for every user and `friend_request` events addressed to the caller, plus `: ping` keep-alives. The optional userId must match the caller.
// @Tags        Realtime
// @Produce     text/event-stream
// @Security    BearerAuth
// @Param       userId  query     string  false  "Caller id (must match the token)"
// @Success     200     {string}  string  "event stream"
// @Failure     401     {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     403     {object}  handlers.ErrorResponse "userId does not match caller"
// @Router      /events [get]
func (h *Handlers) Events(c *gin.Context) {
	uid, okID := userID(c)
	if !okID {
		return
	}
	if q := c.Query("userId"); q != "" && q != uid {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "cannot subscribe on behalf of another user")
		return
	}

	hdr := c.Writer.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	if err := realtime.WriteComment(c.Writer, "connected"); err != nil {
		return
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	conn := h.gateway.NewConn(uid)
	h.gateway.Register(ctx, conn)
	// The request context is already done when the client goes away; the
	// offline transition must still be published.
	defer h.gateway.Unregister(context.WithoutCancel(ctx), conn)

	err := h.gateway.Stream(ctx, c.Writer, conn)
	lg := middleware.LoggerFrom(c).With().Str("user_id", uid).Logger()
	switch {
	case err == nil:
		lg.Debug().Msg("stream closed by client")
	case errors.Is(err, realtime.ErrDropped):
		lg.Info().Msg("stream dropped by gateway")
	default:
		lg.Debug().Err(err).Msg("stream write failed")
	}
}
