package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-presence-backend/internal/broker"
	"github.com/tbourn/go-presence-backend/internal/cache"
	"github.com/tbourn/go-presence-backend/internal/domain"
	"github.com/tbourn/go-presence-backend/internal/http/middleware"
	"github.com/tbourn/go-presence-backend/internal/presence"
	"github.com/tbourn/go-presence-backend/internal/realtime"
	"github.com/tbourn/go-presence-backend/internal/repo"
	"github.com/tbourn/go-presence-backend/internal/services"
)

// ---------- test environment ----------

type env struct {
	db      *gorm.DB
	broker  *broker.Memory
	tracker *presence.Tracker
	gateway *realtime.Gateway
	friends *services.FriendService
	r       *gin.Engine
}

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newHandlerDB(t)
	for _, u := range []domain.User{
		{ID: "alice", FullName: "Alice", IsOnboarded: true, NativeLanguage: "english", LearningLanguage: "spanish"},
		{ID: "bob", FullName: "Bob", IsOnboarded: true},
		{ID: "carol", FullName: "Carol", IsOnboarded: true},
	} {
		u := u
		if err := repo.UpsertUser(context.Background(), db, &u); err != nil {
			t.Fatalf("seed %s: %v", u.ID, err)
		}
	}

	b := broker.NewMemory()
	t.Cleanup(func() { _ = b.Close() })
	c := cache.New(b)
	tr := presence.NewTracker(b)
	gw := realtime.New(b, tr, realtime.WithHeartbeat(time.Hour))
	friends := services.NewFriendService(db, b, c)

	h := New(Deps{
		Users:    services.NewUserService(db, c, tr),
		Friends:  friends,
		Presence: tr,
		Gateway:  gw,
		DB:       db,
	})

	r := gin.New()
	r.Use(
		middleware.Authenticate(middleware.AuthOptions{AllowDemoHeader: true}),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil),
	)
	r.GET("/events", h.Events)
	r.POST("/presence/heartbeat", h.Heartbeat)
	r.GET("/users", h.RecommendedUsers)
	r.GET("/users/friends", h.MyFriends)
	r.GET("/users/online-status", h.OnlineStatus)
	r.GET("/users/me", h.GetMe)
	r.PUT("/users/me", h.UpdateMe)
	r.POST("/users/friend-request/:id", h.SendFriendRequest)
	r.PUT("/users/friend-request/:id/accept", h.AcceptFriendRequest)
	r.DELETE("/users/friend-request/:id/reject", h.RejectFriendRequest)
	r.GET("/users/friend-request", h.ListFriendRequests)
	r.GET("/users/outgoing-friend-requests", h.ListOutgoingFriendRequests)

	return &env{db: db, broker: b, tracker: tr, gateway: gw, friends: friends, r: r}
}

func (e *env) do(t *testing.T, method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(middleware.HeaderDemoUser, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	if er := decode[ErrorResponse](t, w); er.Code != code {
		t.Fatalf("code = %q, want %q", er.Code, code)
	}
}

// sendRequest creates a pending request from -> to through the API.
func (e *env) sendRequest(t *testing.T, from, to string) *domain.FriendRequest {
	t.Helper()
	w := e.do(t, http.MethodPost, "/users/friend-request/"+to, from, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("send %s->%s: %d %s", from, to, w.Code, w.Body.String())
	}
	return decode[FriendRequestResponse](t, w).FriendRequest
}
