// User and presence HTTP handlers.
//
//   - GET  /users                (recommended users, cached)
//   - GET  /users/friends        (friends list)
//   - GET  /users/online-status  (online user ids)
//   - GET  /users/me             (own profile)
//   - PUT  /users/me             (onboarding / profile update)
//   - POST /presence/heartbeat   (refresh presence)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-presence-backend/internal/services"
)

//
// DTOs
//

// UpdateProfileRequest is the onboarding payload.
type UpdateProfileRequest struct {
	FullName         string `json:"fullName"         binding:"required,max=100" example:"Ada Lovelace"`
	Bio              string `json:"bio"              binding:"max=500"          example:"Learning Spanish one verb at a time"`
	ProfilePicture   string `json:"profilePicture"   binding:"omitempty,url"    example:"https://avatar.iran.liara.run/public/7.png"`
	NativeLanguage   string `json:"nativeLanguage"   binding:"required"         example:"english"`
	LearningLanguage string `json:"learningLanguage" binding:"required"         example:"spanish"`
	Location         string `json:"location"         example:"London, UK"`
}

// OnlineStatusResponse lists users currently online.
type OnlineStatusResponse struct {
	OnlineUsers []string `json:"onlineUsers"`
}

//
// Handlers
//

// RecommendedUsers godoc
// @ID          recommendedUsers
// @Summary     Recommended users
// @Description Onboarded users the caller is not friends with yet. Served from a 60s read-through cache.
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}   domain.UserSummary
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /users [get]
func (h *Handlers) RecommendedUsers(c *gin.Context) {
	uid, okID := userID(c)
	if !okID {
		return
	}
	users, err := h.users.Recommended(c.Request.Context(), uid)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not load recommended users")
		return
	}
	ok(c, http.StatusOK, users)
}

// MyFriends godoc
// @ID          myFriends
// @Summary     Friends list
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}   domain.UserSummary
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /users/friends [get]
func (h *Handlers) MyFriends(c *gin.Context) {
	uid, okID := userID(c)
	if !okID {
		return
	}
	friends, err := h.users.Friends(c.Request.Context(), uid)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not load friends")
		return
	}
	ok(c, http.StatusOK, friends)
}

// OnlineStatus godoc
// @ID          onlineStatus
// @Summary     Online users
// @Description Ids of users whose presence was refreshed within the presence TTL. Empty when the broker is unavailable.
// @Tags        Presence
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.OnlineStatusResponse
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Router      /users/online-status [get]
func (h *Handlers) OnlineStatus(c *gin.Context) {
	if _, okID := userID(c); !okID {
		return
	}
	ok(c, http.StatusOK, OnlineStatusResponse{OnlineUsers: h.users.OnlineUsers(c.Request.Context())})
}

// GetMe godoc
// @ID          getMe
// @Summary     Own profile
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  domain.User
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse "No profile yet"
// @Router      /users/me [get]
func (h *Handlers) GetMe(c *gin.Context) {
	uid, okID := userID(c)
	if !okID {
		return
	}
	u, err := h.users.Get(c.Request.Context(), uid)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// UpdateMe godoc
// @ID          updateMe
// @Summary     Complete onboarding / update profile
// @Description Stores the caller's profile and marks them onboarded. Names are NFC-normalized, languages lower-cased.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.UpdateProfileRequest  true  "Profile"
// @Success     200   {object}  domain.User
// @Failure     400   {object}  handlers.ErrorResponse "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     500   {object}  handlers.ErrorResponse "Internal error"
// @Router      /users/me [put]
func (h *Handlers) UpdateMe(c *gin.Context) {
	uid, okID := userID(c)
	if !okID {
		return
	}
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "fullName, nativeLanguage and learningLanguage are required")
		return
	}
	u, err := h.users.UpdateProfile(c.Request.Context(), uid, services.ProfileInput{
		FullName:         req.FullName,
		Bio:              req.Bio,
		ProfilePicture:   req.ProfilePicture,
		NativeLanguage:   req.NativeLanguage,
		LearningLanguage: req.LearningLanguage,
		Location:         req.Location,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// Heartbeat godoc
// @ID          presenceHeartbeat
// @Summary     Refresh presence
// @Description Keeps the caller online without an open stream. Clients should call it at least every 60s.
// @Tags        Presence
// @Security    BearerAuth
// @Success     204  {string}  string "No Content"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Router      /presence/heartbeat [post]
func (h *Handlers) Heartbeat(c *gin.Context) {
	uid, okID := userID(c)
	if !okID {
		return
	}
	h.presence.Heartbeat(c.Request.Context(), uid)
	noContent(c)
}
