package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/tbourn/go-presence-backend/internal/cache"
	"github.com/tbourn/go-presence-backend/internal/domain"
	"github.com/tbourn/go-presence-backend/internal/repo"
)

func TestRecommendedUsers_ExcludesSelfAndFriends(t *testing.T) {
	e := newEnv(t)
	_ = repo.UpsertUser(context.Background(), e.db, &domain.User{ID: "dave", FullName: "Dave"}) // not onboarded

	got := decode[[]domain.UserSummary](t, e.do(t, http.MethodGet, "/users", "alice", nil))
	if len(got) != 2 {
		t.Fatalf("recommended = %+v", got)
	}
	for _, u := range got {
		if u.ID == "alice" || u.ID == "dave" {
			t.Fatalf("unexpected recommendation %q", u.ID)
		}
	}
	if _, ok := e.broker.CacheGet(context.Background(), cache.RecommendedUsersKey("alice")); !ok {
		t.Fatalf("recommendations should be cached")
	}

	// Acceptance invalidates both users' cached lists.
	fr := e.sendRequest(t, "alice", "bob")
	if w := e.do(t, http.MethodPut, "/users/friend-request/"+fr.ID+"/accept", "bob", nil); w.Code != http.StatusOK {
		t.Fatalf("accept: %d", w.Code)
	}
	got = decode[[]domain.UserSummary](t, e.do(t, http.MethodGet, "/users", "alice", nil))
	if len(got) != 1 || got[0].ID != "carol" {
		t.Fatalf("recommended after accept = %+v", got)
	}
}

func TestOnlineStatusAndHeartbeat(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/users/online-status", "alice", nil)
	if w.Code != http.StatusOK || w.Body.String() != `{"onlineUsers":[]}` {
		t.Fatalf("online-status: %d %s", w.Code, w.Body.String())
	}

	if w := e.do(t, http.MethodPost, "/presence/heartbeat", "bob", nil); w.Code != http.StatusNoContent {
		t.Fatalf("heartbeat: %d", w.Code)
	}
	got := decode[OnlineStatusResponse](t, e.do(t, http.MethodGet, "/users/online-status", "alice", nil))
	if len(got.OnlineUsers) != 1 || got.OnlineUsers[0] != "bob" {
		t.Fatalf("online = %v", got.OnlineUsers)
	}

	// Broker down: empty list, not an error.
	e.broker.SetConnected(false)
	w = e.do(t, http.MethodGet, "/users/online-status", "alice", nil)
	if w.Code != http.StatusOK || w.Body.String() != `{"onlineUsers":[]}` {
		t.Fatalf("online-status while down: %d %s", w.Code, w.Body.String())
	}
}

func TestUpdateMe_Onboarding(t *testing.T) {
	e := newEnv(t)

	expectError(t, e.do(t, http.MethodGet, "/users/me", "erin", nil), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, e.do(t, http.MethodPut, "/users/me", "erin", map[string]string{"fullName": "Erin"}), http.StatusBadRequest, ErrCodeBadRequest)
	expectError(t, e.do(t, http.MethodPut, "/users/me", "erin", map[string]string{
		"fullName": "   ", "nativeLanguage": "english", "learningLanguage": "french",
	}), http.StatusBadRequest, ErrCodeBadRequest)

	w := e.do(t, http.MethodPut, "/users/me", "erin", UpdateProfileRequest{
		FullName:         "  Erin  ",
		NativeLanguage:   "English",
		LearningLanguage: "FRENCH",
		Location:         "Lyon",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	u := decode[domain.User](t, w)
	if u.ID != "erin" || u.FullName != "Erin" || u.NativeLanguage != "english" || u.LearningLanguage != "french" || !u.IsOnboarded {
		t.Fatalf("profile = %+v", u)
	}

	me := decode[domain.User](t, e.do(t, http.MethodGet, "/users/me", "erin", nil))
	if me.Location != "Lyon" {
		t.Fatalf("GET /users/me = %+v", me)
	}
}
