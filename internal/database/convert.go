package database

import "github.com/npezzotti/spaces-realtime/internal/types"

func (u User) Typed() types.User {
	return types.User{Id: u.Id, Username: u.Username, AvatarUrl: u.AvatarUrl}
}

// Other returns the participant that is not userId.
func (c Conversation) Other(userId int) int {
	if c.UserLow == userId {
		return c.UserHigh
	}
	return c.UserLow
}

func (c Conversation) Typed(unread int) types.Conversation {
	return types.Conversation{
		Id:            c.Id,
		ExternalId:    c.ExternalId,
		Participants:  [2]int{c.UserLow, c.UserHigh},
		UnreadCount:   unread,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
	}
}

func (m Message) Typed() types.Message {
	return types.Message{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		Sender: types.User{
			Id:        m.SenderId,
			Username:  m.SenderName,
			AvatarUrl: m.SenderAvatar,
		},
		Recipient: types.User{
			Id:        m.RecipientId,
			Username:  m.RecipientName,
			AvatarUrl: m.RecipientAvatar,
		},
		Body:       m.Body,
		Attachment: m.Attachment,
		Read:       m.Read,
		ReadAt:     m.ReadAt,
		CreatedAt:  m.CreatedAt,
	}
}

func (m SpaceMessage) Typed() types.SpaceMessage {
	return types.SpaceMessage{
		Id:      m.Id,
		SpaceId: m.SpaceId,
		Sender: types.User{
			Id:        m.SenderId,
			Username:  m.SenderName,
			AvatarUrl: m.SenderAvatar,
		},
		Body:       m.Body,
		Attachment: m.Attachment,
		CreatedAt:  m.CreatedAt,
	}
}

func (n Notification) Typed() types.Notification {
	return types.Notification{
		Id:          n.Id,
		RecipientId: n.RecipientId,
		SenderId:    n.SenderId,
		Type:        types.NotificationType(n.Type),
		Link:        n.Link,
		Read:        n.Read,
		CreatedAt:   n.CreatedAt,
	}
}
