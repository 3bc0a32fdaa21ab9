package types

import (
	"time"
)

type User struct {
	Id        int    `json:"id"`
	Username  string `json:"username"`
	AvatarUrl string `json:"avatar_url,omitempty"`
}

type Conversation struct {
	Id            int        `json:"id"`
	ExternalId    string     `json:"external_id"`
	Participants  [2]int     `json:"participants"`
	UnreadCount   int        `json:"unread_count"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Message is a populated direct message, sender and recipient included.
type Message struct {
	Id             int        `json:"id"`
	ConversationId int        `json:"conversation_id"`
	Sender         User       `json:"sender"`
	Recipient      User       `json:"recipient"`
	Body           string     `json:"body"`
	Attachment     string     `json:"attachment,omitempty"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type SpaceMessage struct {
	Id         int       `json:"id"`
	SpaceId    int       `json:"space_id"`
	Sender     User      `json:"sender"`
	Body       string    `json:"body"`
	Attachment string    `json:"attachment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type NotificationType string

const (
	NotificationConnectionAccepted NotificationType = "connection_accepted"
	NotificationSpaceInvite        NotificationType = "space_invite"
	NotificationConnectionRequest  NotificationType = "connection_request"
	NotificationNewMessage         NotificationType = "new_message"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationConnectionAccepted,
		NotificationSpaceInvite,
		NotificationConnectionRequest,
		NotificationNewMessage:
		return true
	}
	return false
}

type Notification struct {
	Id          int              `json:"id"`
	RecipientId int              `json:"recipient_id"`
	SenderId    int              `json:"sender_id"`
	Type        NotificationType `json:"type"`
	Link        string           `json:"link,omitempty"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"created_at"`
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// Event is the envelope every server to client frame is written in.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

func NewEvent(name string, data any) *Event {
	return &Event{Name: name, Data: data}
}
