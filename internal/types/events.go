package types

import "time"

// Server to client event names.
const (
	EventNewMessage       = "new_message"
	EventMessagesRead     = "messages_read"
	EventOnlineUsersList  = "online_users_list"
	EventUserStatusChange = "user_status_change"
	EventDisplayTyping    = "display_typing"
	EventHideTyping       = "hide_typing"
	EventNewNotification  = "new_notification"
	EventNewChatMessage   = "newChatMessage"
	EventError            = "error"
)

type StatusChange struct {
	UserId   int            `json:"userId"`
	Status   PresenceStatus `json:"status"`
	LastSeen *time.Time     `json:"lastSeen,omitempty"`
}

type ReadReceipt struct {
	ByUserId int       `json:"byUserId"`
	ReadAt   time.Time `json:"readAt"`
	Count    int64     `json:"count"`
}

type TypingIndicator struct {
	SenderId    int `json:"senderId"`
	RecipientId int `json:"recipientId"`
}

type ChatMessage struct {
	Message     string       `json:"message"`
	User        User         `json:"user"`
	FullMessage SpaceMessage `json:"fullMessage"`
}

type ErrorPayload struct {
	Event string `json:"event"`
	Error string `json:"error"`
}
