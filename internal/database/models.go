package database

import "time"

type User struct {
	Id        int
	Username  string
	AvatarUrl string
}

// Conversation participants are always stored low id first.
type Conversation struct {
	Id            int
	ExternalId    string
	UserLow       int
	UserHigh      int
	LastMessageAt *time.Time
	CreatedAt     time.Time
}

type Message struct {
	Id              int
	ConversationId  int
	SenderId        int
	SenderName      string
	SenderAvatar    string
	RecipientId     int
	RecipientName   string
	RecipientAvatar string
	Body            string
	Attachment      string
	Read            bool
	ReadAt          *time.Time
	CreatedAt       time.Time
}

type SpaceMessage struct {
	Id           int
	SpaceId      int
	SenderId     int
	SenderName   string
	SenderAvatar string
	Body         string
	Attachment   string
	CreatedAt    time.Time
}

type Notification struct {
	Id          int
	RecipientId int
	SenderId    int
	Type        string
	Link        string
	Read        bool
	CreatedAt   time.Time
}

type CreateMessageParams struct {
	ConversationId int
	SenderId       int
	RecipientId    int
	Body           string
	Attachment     string
	CreatedAt      time.Time
}

type CreateSpaceMessageParams struct {
	SpaceId    int
	SenderId   int
	Body       string
	Attachment string
	CreatedAt  time.Time
}

type CreateNotificationParams struct {
	RecipientId int
	SenderId    int
	Type        string
	Link        string
	CreatedAt   time.Time
}
