// Package services defines the business logic for users, presence queries
// and the friend-request lifecycle. This file centralizes service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed
// at the handler layer.
package services

import "errors"

// Friend-request lifecycle errors.
var (
	// ErrSelfRequest is returned when a user sends a request to themselves.
	ErrSelfRequest = errors.New("cannot send a friend request to yourself")

	// ErrRecipientNotFound indicates that the addressed user does not exist.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrAlreadyFriends is returned when the two users are already friends.
	ErrAlreadyFriends = errors.New("already friends")

	// ErrDuplicateRequest is returned when a pending or accepted request
	// already exists between the two users, in either direction.
	ErrDuplicateRequest = errors.New("a friend request already exists between these users")

	// ErrRequestNotFound indicates that the friend request does not exist.
	ErrRequestNotFound = errors.New("friend request not found")

	// ErrNotRecipient is returned when someone other than the recipient
	// tries to accept or reject a request.
	ErrNotRecipient = errors.New("only the recipient can respond to this request")

	// ErrRequestNotPending is returned for transitions out of a terminal
	// state.
	ErrRequestNotPending = errors.New("friend request is no longer pending")
)

// User errors.
var (
	// ErrUserNotFound indicates that the acting user has no profile yet.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidProfile is returned when a profile update is missing a
	// required field or exceeds a length limit.
	ErrInvalidProfile = errors.New("invalid profile")
)
