// Package domain defines the persistence models for users, friendships and
// friend requests, plus the event payloads exchanged over the broker. The
// GORM-mapped types form the data layer consumed by the repositories.
package domain

import (
	"strings"
	"time"
)

// User is the minimal profile record the realtime core needs in order to
// build event payloads and the recommended/friends listings. Account
// creation and credentials live outside this service.
type User struct {
	ID               string    `json:"id"               gorm:"type:varchar(64);primaryKey"`
	FullName         string    `json:"fullName"         gorm:"type:varchar(255);not null;default:''"`
	Bio              string    `json:"bio"              gorm:"type:text"`
	ProfilePicture   string    `json:"profilePicture"   gorm:"type:varchar(512)"`
	NativeLanguage   string    `json:"nativeLanguage"   gorm:"type:varchar(64)"`
	LearningLanguage string    `json:"learningLanguage" gorm:"type:varchar(64)"`
	Location         string    `json:"location"         gorm:"type:varchar(255)"`
	IsOnboarded      bool      `json:"isOnboarded"      gorm:"not null;default:false;index"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Summary projects the public card shown in listings.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:               u.ID,
		FullName:         u.FullName,
		ProfilePicture:   u.ProfilePicture,
		NativeLanguage:   u.NativeLanguage,
		LearningLanguage: u.LearningLanguage,
	}
}

// UserSummary is the cached/listed shape of a user.
type UserSummary struct {
	ID               string `json:"id"`
	FullName         string `json:"fullName"`
	ProfilePicture   string `json:"profilePicture,omitempty"`
	NativeLanguage   string `json:"nativeLanguage,omitempty"`
	LearningLanguage string `json:"learningLanguage,omitempty"`
}

// Friendship is one direction of a mutual friend relation. Accepting a
// request writes both directions.
type Friendship struct {
	UserID    string    `json:"userId"   gorm:"type:varchar(64);primaryKey"`
	FriendID  string    `json:"friendId" gorm:"type:varchar(64);primaryKey;index"`
	CreatedAt time.Time `json:"createdAt"`

	User   User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Friend User `json:"-" gorm:"foreignKey:FriendID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Friendship.
func (Friendship) TableName() string { return "friendships" }

// RequestStatus is the lifecycle state of a FriendRequest.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusRejected RequestStatus = "rejected"
)

// Terminal reports whether no further transition is defined from s.
func (s RequestStatus) Terminal() bool { return s == StatusAccepted || s == StatusRejected }

// FriendRequest is a request from Sender to Recipient.
//
// PairKey is the order-independent identity of the two users. The partial
// unique index on it allows at most one pending request per pair.
type FriendRequest struct {
	ID          string        `json:"id"          gorm:"type:char(36);primaryKey"`
	SenderID    string        `json:"senderId"    gorm:"type:varchar(64);not null;index:idx_fr_sender_status,priority:1"`
	RecipientID string        `json:"recipientId" gorm:"type:varchar(64);not null;index:idx_fr_recipient_status,priority:1"`
	Status      RequestStatus `json:"status"      gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','accepted','rejected');index:idx_fr_sender_status,priority:2;index:idx_fr_recipient_status,priority:2"`
	PairKey     string        `json:"-"           gorm:"type:varchar(140);not null;index;uniqueIndex:ux_fr_pending_pair,where:status = 'pending'"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`

	Sender    *User `json:"sender,omitempty"    gorm:"foreignKey:SenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Recipient *User `json:"recipient,omitempty" gorm:"foreignKey:RecipientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for FriendRequest.
func (FriendRequest) TableName() string { return "friend_requests" }

// PairKey returns the unordered identity of users a and b.
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}
