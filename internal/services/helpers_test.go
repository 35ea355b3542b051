package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-presence-backend/internal/broker"
	"github.com/tbourn/go-presence-backend/internal/cache"
	"github.com/tbourn/go-presence-backend/internal/domain"
	"github.com/tbourn/go-presence-backend/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seed(t *testing.T, db *gorm.DB, users ...domain.User) {
	t.Helper()
	for i := range users {
		if err := repo.UpsertUser(context.Background(), db, &users[i]); err != nil {
			t.Fatalf("seed %s: %v", users[i].ID, err)
		}
	}
}

type fixture struct {
	db      *gorm.DB
	broker  *broker.Memory
	cache   *cache.Cache
	friends *FriendService
	users   *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newSvcDB(t)
	b := broker.NewMemory()
	t.Cleanup(func() { _ = b.Close() })
	c := cache.New(b)
	seed(t, db,
		domain.User{ID: "alice", FullName: "Alice", IsOnboarded: true},
		domain.User{ID: "bob", FullName: "Bob", IsOnboarded: true},
		domain.User{ID: "carol", FullName: "Carol", IsOnboarded: true},
	)
	return &fixture{
		db:      db,
		broker:  b,
		cache:   c,
		friends: NewFriendService(db, b, c),
		users:   NewUserService(db, c, nil),
	}
}

func (f *fixture) subscribe(t *testing.T) <-chan broker.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return f.broker.Subscribe(ctx, domain.ChannelFriendRequests)
}

func nextFriendEvent(t *testing.T, ch <-chan broker.Message) domain.FriendRequestEvent {
	t.Helper()
	select {
	case m := <-ch:
		var ev domain.FriendRequestEvent
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no friend request event published")
	}
	return domain.FriendRequestEvent{}
}

func noEvent(t *testing.T, ch <-chan broker.Message) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected event %s", m.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}
