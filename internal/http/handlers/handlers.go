// Package handlers exposes the REST and SSE endpoints.
//
// Handlers are transport-thin: they read the caller identity resolved by
// middleware.Authenticate, validate input, call the services and translate
// results into HTTP responses (including conditional and replayed ones).
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-presence-backend/internal/domain"
	"github.com/tbourn/go-presence-backend/internal/http/middleware"
	"github.com/tbourn/go-presence-backend/internal/realtime"
	"github.com/tbourn/go-presence-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// FriendRequestService is the friend-request lifecycle.
type FriendRequestService interface {
	Send(ctx context.Context, senderID, recipientID string) (*domain.FriendRequest, error)
	Accept(ctx context.Context, userID, requestID string) (*domain.FriendRequest, error)
	Reject(ctx context.Context, userID, requestID string) (*domain.FriendRequest, error)
	Incoming(ctx context.Context, userID string) ([]domain.FriendRequest, error)
	AcceptedOutgoing(ctx context.Context, userID string) ([]domain.FriendRequest, error)
	Outgoing(ctx context.Context, userID string) ([]domain.FriendRequest, error)
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
}

// UserService answers user listings and profile updates.
type UserService interface {
	Recommended(ctx context.Context, userID string) ([]domain.UserSummary, error)
	Friends(ctx context.Context, userID string) ([]domain.UserSummary, error)
	OnlineUsers(ctx context.Context) []string
	Get(ctx context.Context, userID string) (*domain.User, error)
	UpdateProfile(ctx context.Context, userID string, in services.ProfileInput) (*domain.User, error)
}

// Heartbeater refreshes a user's presence.
type Heartbeater interface {
	Heartbeat(ctx context.Context, userID string)
}

// StreamGateway is the realtime connection registry.
type StreamGateway interface {
	NewConn(userID string) *realtime.Conn
	Register(ctx context.Context, conn *realtime.Conn)
	Unregister(ctx context.Context, conn *realtime.Conn)
	Stream(ctx context.Context, w realtime.Writer, conn *realtime.Conn) error
}

//
// Handler wiring
//

// Deps are the collaborators of Handlers. DB backs idempotency records;
// when nil, Idempotency-Key is validated but never replayed.
type Deps struct {
	Users          UserService
	Friends        FriendRequestService
	Presence       Heartbeater
	Gateway        StreamGateway
	DB             *gorm.DB
	IdempotencyTTL time.Duration
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	users    UserService
	friends  FriendRequestService
	presence Heartbeater
	gateway  StreamGateway
	db       *gorm.DB
	idemTTL  time.Duration
}

// New constructs Handlers from d.
func New(d Deps) *Handlers {
	ttl := d.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handlers{
		users:    d.Users,
		friends:  d.Friends,
		presence: d.Presence,
		gateway:  d.Gateway,
		db:       d.DB,
		idemTTL:  ttl,
	}
}

// userID returns the authenticated caller. When the route was mounted
// without Authenticate it answers 401 and reports false.
func userID(c *gin.Context) (string, bool) {
	if id := middleware.UserIDFrom(c); id != "" {
		return id, true
	}
	fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	return "", false
}
