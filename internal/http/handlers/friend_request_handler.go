// Friend-request HTTP handlers.
//
//   - POST   /users/friend-request/{id}         (send to user id, idempotent)
//   - PUT    /users/friend-request/{id}/accept  (accept request id)
//   - DELETE /users/friend-request/{id}/reject  (reject request id)
//   - GET    /users/friend-request              (incoming + accepted, ETag)
//   - GET    /users/outgoing-friend-requests    (pending outgoing)
//
// Idempotency:
// With an Idempotency-Key header, a send that already succeeded for the
// same (caller, recipient, key) returns the stored request with
// `Idempotency-Replayed: true` instead of a 409.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-presence-backend/internal/domain"
	"github.com/tbourn/go-presence-backend/internal/http/middleware"
	"github.com/tbourn/go-presence-backend/internal/repo"
)

//
// DTOs
//

// FriendRequestResponse wraps the affected request.
type FriendRequestResponse struct {
	Message       string                `json:"message" example:"Friend request sent"`
	FriendRequest *domain.FriendRequest `json:"friendRequest"`
}

// FriendRequestsResponse lists the caller's pending incoming requests and
// their accepted outgoing ones.
type FriendRequestsResponse struct {
	IncomingRequests []domain.FriendRequest `json:"incomingRequests"`
	AcceptedRequests []domain.FriendRequest `json:"acceptedRequests"`
}

const headerReplayed = "Idempotency-Replayed"

func idempotencyScope(recipientID string) string { return "friend_request:" + recipientID }

//
// Handlers
//

// SendFriendRequest godoc
// @ID          sendFriendRequest
// @Summary     Send a friend request
// @Description Creates a pending request to the user in the path and notifies them in realtime. Supports Idempotency-Key.
// @Tags        FriendRequests
// @Produce     json
// @Security    BearerAuth
// @Param       id               path    string  true   "Recipient user id"  example(user-42)
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Success     201  {object}  handlers.FriendRequestResponse
// @Header      201  {string}  Idempotency-Replayed  "true when served from a previous identical request"
// @Failure     400  {object}  handlers.ErrorResponse "Self request or bad key"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse "Recipient not found"
// @Failure     409  {object}  handlers.ErrorResponse "Already friends or request exists"
// @Failure     429  {object}  handlers.ErrorResponse "Too many requests"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /users/friend-request/{id} [post]
func (h *Handlers) SendFriendRequest(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okID := userID(c)
	if !okID {
		return
	}
	recipientID := strings.TrimSpace(c.Param("id"))
	if recipientID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "recipient id required")
		return
	}

	// Replay path.
	idemKey, hasKey := middleware.GetIdempotencyKey(c)
	if hasKey && h.db != nil {
		if rec, err := repo.GetIdempotency(ctx, h.db, uid, idempotencyScope(recipientID), idemKey, time.Now().UTC()); err == nil && rec != nil {
			if prev, err := repo.GetFriendRequest(ctx, h.db, rec.ResourceID); err == nil {
				c.Header(headerReplayed, "true")
				ok(c, rec.Status, FriendRequestResponse{Message: "Friend request sent", FriendRequest: prev})
				return
			}
		}
	}

	fr, err := h.friends.Send(ctx, uid, recipientID)
	if err != nil {
		failService(c, err)
		return
	}

	// Store path, best effort.
	if hasKey && h.db != nil {
		if _, err := repo.CreateIdempotency(ctx, h.db, uid, idempotencyScope(recipientID), idemKey, fr.ID, http.StatusCreated, h.idemTTL); err != nil && !repo.IsUniqueViolation(err) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("store idempotency record")
		}
	}

	ok(c, http.StatusCreated, FriendRequestResponse{Message: "Friend request sent", FriendRequest: fr})
}

// AcceptFriendRequest godoc
// @ID          acceptFriendRequest
// @Summary     Accept a friend request
// @Description Only the recipient may accept. Both users become friends and the sender is notified.
// @Tags        FriendRequests
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Friend request id"  format(uuid)
// @Success     200  {object}  handlers.FriendRequestResponse
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse "Not the recipient"
// @Failure     404  {object}  handlers.ErrorResponse "Request not found"
// @Failure     409  {object}  handlers.ErrorResponse "Request no longer pending"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /users/friend-request/{id}/accept [put]
func (h *Handlers) AcceptFriendRequest(c *gin.Context) {
	uid, okID := userID(c)
	if !okID {
		return
	}
	fr, err := h.friends.Accept(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, FriendRequestResponse{Message: "Friend request accepted", FriendRequest: fr})
}

// RejectFriendRequest godoc
// @ID          rejectFriendRequest
// @Summary     Reject a friend request
// @Description Only the recipient may reject. The request is removed and the sender is notified.
// @Tags        FriendRequests
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Friend request id"  format(uuid)
// @Success     200  {object}  handlers.FriendRequestResponse
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse "Not the recipient"
// @Failure     404  {object}  handlers.ErrorResponse "Request not found"
// @Failure     409  {object}  handlers.ErrorResponse "Request no longer pending"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /users/friend-request/{id}/reject [delete]
func (h *Handlers) RejectFriendRequest(c *gin.Context) {
	uid, okID := userID(c)
	if !okID {
		return
	}
	fr, err := h.friends.Reject(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, FriendRequestResponse{Message: "Friend request rejected", FriendRequest: fr})
}

// ListFriendRequests godoc
// @ID          listFriendRequests
// @Summary     Incoming and accepted friend requests
// @Description Pending requests addressed to the caller and the caller's requests that were accepted. Supports weak ETag via If-None-Match.
// @Tags        FriendRequests
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.FriendRequestsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /users/friend-request [get]
func (h *Handlers) ListFriendRequests(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okID := userID(c)
	if !okID {
		return
	}

	// ETag pre-check (best effort).
	if count, latest, err := h.friends.Stats(ctx, uid); err == nil {
		if notModified(c, "friend_requests", uid, count, latest) {
			return
		}
	}

	incoming, err := h.friends.Incoming(ctx, uid)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not load friend requests")
		return
	}
	accepted, err := h.friends.AcceptedOutgoing(ctx, uid)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not load friend requests")
		return
	}
	ok(c, http.StatusOK, FriendRequestsResponse{
		IncomingRequests: nonNil(incoming),
		AcceptedRequests: nonNil(accepted),
	})
}

// ListOutgoingFriendRequests godoc
// @ID          listOutgoingFriendRequests
// @Summary     Pending outgoing friend requests
// @Tags        FriendRequests
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}   domain.FriendRequest
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /users/outgoing-friend-requests [get]
func (h *Handlers) ListOutgoingFriendRequests(c *gin.Context) {
	uid, okID := userID(c)
	if !okID {
		return
	}
	out, err := h.friends.Outgoing(c.Request.Context(), uid)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not load outgoing requests")
		return
	}
	ok(c, http.StatusOK, nonNil(out))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
