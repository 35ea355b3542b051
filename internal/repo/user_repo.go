// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for users and the
// friend relation.
//
// Error semantics follow the rest of the package: a missing record yields
// ErrNotFound (gorm.ErrRecordNotFound), any other failure is the raw gorm
// error.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-presence-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetUser fetches a user by id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser inserts u or overwrites its profile columns when the id
// already exists.
func UpsertUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"full_name", "bio", "profile_picture", "native_language",
				"learning_language", "location", "is_onboarded", "updated_at",
			}),
		}).
		Create(u).Error
}

// ListRecommended returns onboarded users other than userID who are not
// already friends with userID, ordered by name. A limit <= 0 means no limit.
func ListRecommended(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.User, error) {
	friends := db.Model(&domain.Friendship{}).Select("friend_id").Where("user_id = ?", userID)
	q := db.WithContext(ctx).
		Where("id <> ?", userID).
		Where("is_onboarded = ?", true).
		Where("id NOT IN (?)", friends).
		Order("full_name asc, id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.User
	err := q.Find(&out).Error
	return out, err
}

// ListFriends returns the users userID is friends with, ordered by name.
func ListFriends(ctx context.Context, db *gorm.DB, userID string) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Joins("JOIN friendships ON friendships.friend_id = users.id").
		Where("friendships.user_id = ?", userID).
		Order("users.full_name asc, users.id asc").
		Find(&out).Error
	return out, err
}

// AreFriends reports whether a has b in its friend relation.
func AreFriends(ctx context.Context, db *gorm.DB, a, b string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Friendship{}).
		Where("user_id = ? AND friend_id = ?", a, b).
		Count(&n).Error
	return n > 0, err
}

// AddFriendship writes both directions of the relation between a and b.
// Existing rows are left untouched, so the call is idempotent.
func AddFriendship(ctx context.Context, db *gorm.DB, a, b string) error {
	now := time.Now().UTC()
	rows := []domain.Friendship{
		{UserID: a, FriendID: b, CreatedAt: now},
		{UserID: b, FriendID: a, CreatedAt: now},
	}
	return db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}
