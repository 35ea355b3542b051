package repo

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-presence-backend/internal/domain"
)

// newTestDB opens a unique in-memory database per test so schema never leaks
// across tests, and migrates the given models.
func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func allModels() []any {
	return []any{&domain.User{}, &domain.Friendship{}, &domain.FriendRequest{}, &domain.Idempotency{}}
}

func seedUsers(t *testing.T, db *gorm.DB, users ...domain.User) {
	t.Helper()
	for i := range users {
		if err := UpsertUser(context.Background(), db, &users[i]); err != nil {
			t.Fatalf("seed user %s: %v", users[i].ID, err)
		}
	}
}
