// Package services – FriendService
//
// This file implements the friend-request state machine. A request starts
// pending and moves once, to accepted or rejected; both are terminal.
// Rejected requests are deleted rather than kept.
//
// Every transition runs in one transaction. Side effects on the broker
// (event publication, cache invalidation) happen after commit and never
// fail the call: the database is the source of truth and realtime delivery
// is best effort.
package services

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-presence-backend/internal/broker"
	"github.com/tbourn/go-presence-backend/internal/cache"
	"github.com/tbourn/go-presence-backend/internal/domain"
	"github.com/tbourn/go-presence-backend/internal/repo"
)

// FriendService owns friend-request transitions.
type FriendService struct {
	DB *gorm.DB
	// Events receives friend_request_events. Nil disables publication.
	Events broker.Publisher
	// Cache is invalidated on acceptance. Nil disables invalidation.
	Cache *cache.Cache
}

// NewFriendService constructs a FriendService.
func NewFriendService(db *gorm.DB, events broker.Publisher, c *cache.Cache) *FriendService {
	return &FriendService{DB: db, Events: events, Cache: c}
}

// Send creates a pending request from senderID to recipientID and notifies
// the recipient.
func (s *FriendService) Send(ctx context.Context, senderID, recipientID string) (fr *domain.FriendRequest, err error) {
	ctx, span := s.start(ctx, "Send",
		attribute.String("sender.id", senderID),
		attribute.String("recipient.id", recipientID),
	)
	defer func() { endSpan(span, err) }()

	if senderID == recipientID {
		return nil, ErrSelfRequest
	}

	var sender *domain.User
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if sender, err = repo.GetUser(ctx, tx, senderID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if _, err = repo.GetUser(ctx, tx, recipientID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrRecipientNotFound
			}
			return err
		}
		friends, err := repo.AreFriends(ctx, tx, senderID, recipientID)
		if err != nil {
			return err
		}
		if friends {
			return ErrAlreadyFriends
		}
		if _, err = repo.FindOpenBetween(ctx, tx, senderID, recipientID); err == nil {
			return ErrDuplicateRequest
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		fr, err = repo.CreateFriendRequest(ctx, tx, senderID, recipientID)
		if err != nil {
			if repo.IsUniqueViolation(err) {
				return ErrDuplicateRequest
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("request.id", fr.ID))

	s.publish(ctx, domain.FriendRequestEvent{
		Type:         domain.EventRequestCreated,
		TargetUserID: recipientID,
		SenderID:     senderID,
		SenderName:   sender.FullName,
		RequestID:    fr.ID,
	})
	return fr, nil
}

// Accept marks requestID accepted, makes both users friends, invalidates
// both users' recommendations and notifies the sender.
func (s *FriendService) Accept(ctx context.Context, userID, requestID string) (fr *domain.FriendRequest, err error) {
	ctx, span := s.start(ctx, "Accept",
		attribute.String("user.id", userID),
		attribute.String("request.id", requestID),
	)
	defer func() { endSpan(span, err) }()

	var recipient *domain.User
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if fr, err = s.loadForResponse(ctx, tx, userID, requestID); err != nil {
			return err
		}
		if err = repo.TransitionFriendRequest(ctx, tx, fr.ID, domain.StatusPending, domain.StatusAccepted); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrRequestNotPending
			}
			return err
		}
		if err = repo.AddFriendship(ctx, tx, fr.SenderID, fr.RecipientID); err != nil {
			return err
		}
		recipient, err = repo.GetUser(ctx, tx, fr.RecipientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	fr.Status = domain.StatusAccepted
	fr.UpdatedAt = time.Now().UTC()

	if s.Cache != nil && !s.Cache.Delete(ctx,
		cache.RecommendedUsersKey(fr.SenderID),
		cache.RecommendedUsersKey(fr.RecipientID),
	) {
		log.Warn().Str("request_id", fr.ID).Msg("recommended users invalidation incomplete")
	}
	s.publish(ctx, domain.FriendRequestEvent{
		Type:         domain.EventRequestAccepted,
		TargetUserID: fr.SenderID,
		AcceptedBy:   recipient.FullName,
		RequestID:    fr.ID,
	})
	return fr, nil
}

// Reject deletes requestID and notifies the sender. The returned record
// carries the rejected status for the response body.
func (s *FriendService) Reject(ctx context.Context, userID, requestID string) (fr *domain.FriendRequest, err error) {
	ctx, span := s.start(ctx, "Reject",
		attribute.String("user.id", userID),
		attribute.String("request.id", requestID),
	)
	defer func() { endSpan(span, err) }()

	var recipient *domain.User
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if fr, err = s.loadForResponse(ctx, tx, userID, requestID); err != nil {
			return err
		}
		if err = repo.DeleteFriendRequest(ctx, tx, fr.ID, domain.StatusPending); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrRequestNotPending
			}
			return err
		}
		recipient, err = repo.GetUser(ctx, tx, fr.RecipientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	fr.Status = domain.StatusRejected
	fr.UpdatedAt = time.Now().UTC()

	s.publish(ctx, domain.FriendRequestEvent{
		Type:         domain.EventRequestRejected,
		TargetUserID: fr.SenderID,
		RejectedBy:   recipient.FullName,
		RequestID:    fr.ID,
	})
	return fr, nil
}

// Incoming returns pending requests addressed to userID, with sender
// profiles.
func (s *FriendService) Incoming(ctx context.Context, userID string) ([]domain.FriendRequest, error) {
	return repo.ListIncomingPending(ctx, s.DB, userID)
}

// AcceptedOutgoing returns requests userID sent that were accepted, with
// recipient profiles.
func (s *FriendService) AcceptedOutgoing(ctx context.Context, userID string) ([]domain.FriendRequest, error) {
	return repo.ListAcceptedOutgoing(ctx, s.DB, userID)
}

// Outgoing returns requests userID sent that are still pending.
func (s *FriendService) Outgoing(ctx context.Context, userID string) ([]domain.FriendRequest, error) {
	return repo.ListOutgoingPending(ctx, s.DB, userID)
}

// Stats returns the number of requests userID takes part in and the most
// recent change among them, for conditional GETs.
func (s *FriendService) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return repo.FriendRequestStats(ctx, s.DB, userID)
}

// loadForResponse fetches requestID and applies the guards shared by
// Accept and Reject.
func (s *FriendService) loadForResponse(ctx context.Context, tx *gorm.DB, userID, requestID string) (*domain.FriendRequest, error) {
	fr, err := repo.GetFriendRequest(ctx, tx, requestID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if fr.RecipientID != userID {
		return nil, ErrNotRecipient
	}
	if fr.Status != domain.StatusPending {
		return nil, ErrRequestNotPending
	}
	return fr, nil
}

func (s *FriendService) publish(ctx context.Context, ev domain.FriendRequestEvent) {
	if s.Events == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("encode friend request event")
		return
	}
	if !s.Events.Publish(ctx, domain.ChannelFriendRequests, payload) {
		log.Warn().
			Str("event", string(ev.Type)).
			Str("request_id", ev.RequestID).
			Msg("friend request event not published")
	}
}

func (s *FriendService) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("services/FriendService").Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
