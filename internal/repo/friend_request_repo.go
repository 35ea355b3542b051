// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// FriendRequest model.
//
// The repository is thin: it persists and queries, leaving lifecycle rules
// (who may accept, which transitions are valid) to services.FriendService.
// The pending-pair unique index surfaces as a raw driver error which the
// service translates to a domain conflict.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-presence-backend/internal/domain"
)

// CreateFriendRequest inserts a pending request from senderID to
// recipientID.
func CreateFriendRequest(ctx context.Context, db *gorm.DB, senderID, recipientID string) (*domain.FriendRequest, error) {
	now := time.Now().UTC()
	fr := &domain.FriendRequest{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Status:      domain.StatusPending,
		PairKey:     domain.PairKey(senderID, recipientID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(fr).Error; err != nil {
		return nil, err
	}
	return fr, nil
}

// GetFriendRequest fetches a request by id, or ErrNotFound.
func GetFriendRequest(ctx context.Context, db *gorm.DB, id string) (*domain.FriendRequest, error) {
	var fr domain.FriendRequest
	if err := db.WithContext(ctx).Where("id = ?", id).First(&fr).Error; err != nil {
		return nil, err
	}
	return &fr, nil
}

// FindOpenBetween returns a pending or accepted request between a and b in
// either direction, or ErrNotFound.
func FindOpenBetween(ctx context.Context, db *gorm.DB, a, b string) (*domain.FriendRequest, error) {
	var fr domain.FriendRequest
	err := db.WithContext(ctx).
		Where("pair_key = ?", domain.PairKey(a, b)).
		Where("status IN ?", []domain.RequestStatus{domain.StatusPending, domain.StatusAccepted}).
		Order("created_at desc").
		First(&fr).Error
	if err != nil {
		return nil, err
	}
	return &fr, nil
}

// TransitionFriendRequest moves request id from status from to status to.
// It returns ErrNotFound when no row matched, i.e. the request is missing
// or no longer in status from.
func TransitionFriendRequest(ctx context.Context, db *gorm.DB, id string, from, to domain.RequestStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.FriendRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFriendRequest removes request id if it is still in status. It
// returns ErrNotFound when no row matched.
func DeleteFriendRequest(ctx context.Context, db *gorm.DB, id string, status domain.RequestStatus) error {
	res := db.WithContext(ctx).
		Where("id = ? AND status = ?", id, status).
		Delete(&domain.FriendRequest{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIncomingPending returns pending requests addressed to userID, newest
// first, with the sender preloaded.
func ListIncomingPending(ctx context.Context, db *gorm.DB, userID string) ([]domain.FriendRequest, error) {
	var out []domain.FriendRequest
	err := db.WithContext(ctx).
		Preload("Sender").
		Where("recipient_id = ? AND status = ?", userID, domain.StatusPending).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// ListAcceptedOutgoing returns requests userID sent that were accepted,
// newest first, with the recipient preloaded.
func ListAcceptedOutgoing(ctx context.Context, db *gorm.DB, userID string) ([]domain.FriendRequest, error) {
	var out []domain.FriendRequest
	err := db.WithContext(ctx).
		Preload("Recipient").
		Where("sender_id = ? AND status = ?", userID, domain.StatusAccepted).
		Order("updated_at desc").
		Find(&out).Error
	return out, err
}

// ListOutgoingPending returns pending requests userID sent, newest first,
// with the recipient preloaded.
func ListOutgoingPending(ctx context.Context, db *gorm.DB, userID string) ([]domain.FriendRequest, error) {
	var out []domain.FriendRequest
	err := db.WithContext(ctx).
		Preload("Recipient").
		Where("sender_id = ? AND status = ?", userID, domain.StatusPending).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}
