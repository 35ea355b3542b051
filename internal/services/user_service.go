// Package services – UserService
//
// UserService serves the read side of the social graph (recommendations,
// friends, who is online) and the onboarding/profile write. The
// recommendation list is the expensive read and goes through the cache;
// everything else hits the database or the presence tracker directly.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-presence-backend/internal/cache"
	"github.com/tbourn/go-presence-backend/internal/domain"
	"github.com/tbourn/go-presence-backend/internal/repo"
)

// OnlineLister reports the currently online users.
type OnlineLister interface {
	GetOnlineUsers(ctx context.Context) []string
}

// ProfileInput is the editable part of a user profile.
type ProfileInput struct {
	FullName         string
	Bio              string
	ProfilePicture   string
	NativeLanguage   string
	LearningLanguage string
	Location         string
}

// UserService provides user-level queries and the profile update.
type UserService struct {
	DB       *gorm.DB
	Cache    *cache.Cache
	Presence OnlineLister

	// RecommendedTTL is the lifetime of cached recommendation lists.
	RecommendedTTL time.Duration
	// RecommendedLimit caps the list; <= 0 means no cap.
	RecommendedLimit int

	// NameMaxLen caps full names by rune length.
	NameMaxLen int
	// BioMaxLen caps bios by rune length.
	BioMaxLen int
}

// NewUserService constructs a UserService with default limits.
func NewUserService(db *gorm.DB, c *cache.Cache, presence OnlineLister) *UserService {
	return &UserService{
		DB:               db,
		Cache:            c,
		Presence:         presence,
		RecommendedTTL:   cache.RecommendedUsersTTL,
		RecommendedLimit: 50,
		NameMaxLen:       100,
		BioMaxLen:        500,
	}
}

// Recommended returns onboarded users userID is not yet friends with.
// Results are cached under recommended_users:<userID>.
func (s *UserService) Recommended(ctx context.Context, userID string) ([]domain.UserSummary, error) {
	load := func(ctx context.Context) ([]domain.UserSummary, error) {
		users, err := repo.ListRecommended(ctx, s.DB, userID, s.RecommendedLimit)
		if err != nil {
			return nil, err
		}
		return summaries(users), nil
	}
	if s.Cache == nil {
		return load(ctx)
	}
	return cache.GetOrLoad(ctx, s.Cache, cache.RecommendedUsersKey(userID), s.RecommendedTTL, load)
}

// Friends returns userID's friends.
func (s *UserService) Friends(ctx context.Context, userID string) ([]domain.UserSummary, error) {
	users, err := repo.ListFriends(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	return summaries(users), nil
}

// OnlineUsers returns the ids of online users. It is empty when presence
// is unavailable.
func (s *UserService) OnlineUsers(ctx context.Context) []string {
	if s.Presence == nil {
		return []string{}
	}
	return s.Presence.GetOnlineUsers(ctx)
}

// Get returns userID's profile.
func (s *UserService) Get(ctx context.Context, userID string) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// UpdateProfile validates and stores userID's profile and marks the user
// onboarded. Only the caller's own recommendation list is invalidated;
// other users' lists pick the change up when their entry expires.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*domain.User, error) {
	u := &domain.User{
		ID:               userID,
		FullName:         normalizeName(in.FullName),
		Bio:              strings.TrimSpace(in.Bio),
		ProfilePicture:   strings.TrimSpace(in.ProfilePicture),
		NativeLanguage:   normalizeLanguage(in.NativeLanguage),
		LearningLanguage: normalizeLanguage(in.LearningLanguage),
		Location:         strings.TrimSpace(in.Location),
	}
	if u.FullName == "" || u.NativeLanguage == "" || u.LearningLanguage == "" {
		return nil, ErrInvalidProfile
	}
	if s.NameMaxLen > 0 && utf8.RuneCountInString(u.FullName) > s.NameMaxLen {
		return nil, ErrInvalidProfile
	}
	if s.BioMaxLen > 0 && utf8.RuneCountInString(u.Bio) > s.BioMaxLen {
		return nil, ErrInvalidProfile
	}
	u.IsOnboarded = true

	if err := repo.UpsertUser(ctx, s.DB, u); err != nil {
		return nil, err
	}
	if s.Cache != nil {
		s.Cache.Delete(ctx, cache.RecommendedUsersKey(userID))
	}
	return repo.GetUser(ctx, s.DB, userID)
}

func summaries(users []domain.User) []domain.UserSummary {
	out := make([]domain.UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, u.Summary())
	}
	return out
}

// normalizeName composes to NFC and collapses whitespace.
func normalizeName(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// normalizeLanguage lower-cases a language name ("English" -> "english").
func normalizeLanguage(s string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(s))
}
