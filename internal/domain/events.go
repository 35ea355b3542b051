package domain

// Broker channels carrying domain events.
const (
	ChannelPresence       = "presence_events"
	ChannelFriendRequests = "friend_request_events"
)

// EventType is the wire "type" discriminator of an event.
type EventType string

const (
	EventUserOnline      EventType = "user_online"
	EventUserOffline     EventType = "user_offline"
	EventRequestCreated  EventType = "new_request"
	EventRequestAccepted EventType = "request_accepted"
	EventRequestRejected EventType = "request_rejected"
)

// PresenceEvent is published on ChannelPresence. Timestamp is epoch millis.
type PresenceEvent struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"userId"`
	Timestamp int64     `json:"timestamp"`
}

// FriendRequestEvent is published on ChannelFriendRequests and delivered
// only to TargetUserID's connections.
type FriendRequestEvent struct {
	Type         EventType `json:"type"`
	TargetUserID string    `json:"targetUserId,omitempty"`
	SenderID     string    `json:"senderId,omitempty"`
	SenderName   string    `json:"senderName,omitempty"`
	AcceptedBy   string    `json:"acceptedBy,omitempty"`
	RejectedBy   string    `json:"rejectedBy,omitempty"`
	RequestID    string    `json:"requestId"`
}

// ForClient returns the payload as delivered to the target: the target id
// is implied by delivery and is stripped.
func (e FriendRequestEvent) ForClient() FriendRequestEvent {
	e.TargetUserID = ""
	return e
}
