package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/teris-io/shortid"
)

const (
	conversationColumns = "id, external_id, user_low, user_high, last_message_at, created_at"

	selectMessagesQuery = "SELECT m.id, m.conversation_id, m.sender_id, s.username, s.avatar_url, " +
		"m.recipient_id, r.username, r.avatar_url, m.body, m.attachment, m.read, m.read_at, m.created_at " +
		"FROM messages m JOIN users s ON s.id = m.sender_id JOIN users r ON r.id = m.recipient_id " +
		"WHERE m.conversation_id = $1 AND m.id < $2 ORDER BY m.id DESC LIMIT $3"

	selectSpaceMessagesQuery = "SELECT sm.id, sm.space_id, sm.sender_id, u.username, u.avatar_url, " +
		"sm.body, sm.attachment, sm.created_at FROM space_messages sm JOIN users u ON u.id = sm.sender_id " +
		"WHERE sm.space_id = $1 AND sm.id < $2 ORDER BY sm.id DESC LIMIT $3"

	upsertConversationQuery = "INSERT INTO conversations (external_id, user_low, user_high, created_at) " +
		"VALUES ($1, $2, $3, $4) ON CONFLICT (user_low, user_high) DO UPDATE SET user_low = EXCLUDED.user_low " +
		"RETURNING " + conversationColumns

	insertMessageQuery = "WITH ins AS (INSERT INTO messages (conversation_id, sender_id, recipient_id, body, attachment, created_at) " +
		"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, sender_id, recipient_id) " +
		"SELECT ins.id, s.username, s.avatar_url, r.username, r.avatar_url FROM ins " +
		"JOIN users s ON s.id = ins.sender_id JOIN users r ON r.id = ins.recipient_id"

	insertSpaceMessageQuery = "WITH ins AS (INSERT INTO space_messages (space_id, sender_id, body, attachment, created_at) " +
		"VALUES ($1, $2, $3, $4, $5) RETURNING id, sender_id) " +
		"SELECT ins.id, u.username, u.avatar_url FROM ins JOIN users u ON u.id = ins.sender_id"

	markAsReadQuery = "UPDATE messages SET read = TRUE, read_at = $3 " +
		"WHERE sender_id = $1 AND recipient_id = $2 AND read = FALSE"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *PgStore) GetUser(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, avatar_url FROM users WHERE id = $1 LIMIT 1",
		id,
	)

	var u User
	err := row.Scan(&u.Id, &u.Username, &u.AvatarUrl)

	return u, err
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		c             Conversation
		lastMessageAt sql.NullTime
	)
	err := row.Scan(
		&c.Id,
		&c.ExternalId,
		&c.UserLow,
		&c.UserHigh,
		&lastMessageAt,
		&c.CreatedAt,
	)
	if lastMessageAt.Valid {
		c.LastMessageAt = &lastMessageAt.Time
	}

	return c, err
}

// FindOrCreateConversation returns the single conversation row for the pair,
// creating it on first use. The upsert keeps concurrent first messages from
// both sides on the same row.
func (db *PgStore) FindOrCreateConversation(a, b int) (Conversation, error) {
	if a == b {
		return Conversation{}, ErrSameParticipant
	}
	low, high := CanonicalPair(a, b)

	sid, err := shortid.Generate()
	if err != nil {
		return Conversation{}, fmt.Errorf("generate external id: %w", err)
	}

	row := db.conn.QueryRow(upsertConversationQuery, sid, low, high, time.Now().UTC())
	c, err := scanConversation(row)
	if err != nil {
		return Conversation{}, fmt.Errorf("upsert conversation: %w", err)
	}

	return c, nil
}

// GetConversation looks the pair up without creating it. A missing row is
// sql.ErrNoRows.
func (db *PgStore) GetConversation(a, b int) (Conversation, error) {
	low, high := CanonicalPair(a, b)
	row := db.conn.QueryRow(
		"SELECT "+conversationColumns+" FROM conversations WHERE user_low = $1 AND user_high = $2",
		low,
		high,
	)

	return scanConversation(row)
}

func (db *PgStore) ListConversations(userId int) ([]Conversation, error) {
	rows, err := db.conn.Query(
		"SELECT "+conversationColumns+" FROM conversations "+
			"WHERE user_low = $1 OR user_high = $1 ORDER BY last_message_at DESC NULLS LAST, id DESC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		conversations = append(conversations, c)
	}

	return conversations, rows.Err()
}

// CreateMessage appends a message and bumps the conversation's activity
// timestamp in one transaction.
func (db *PgStore) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	msg := Message{
		ConversationId: params.ConversationId,
		SenderId:       params.SenderId,
		RecipientId:    params.RecipientId,
		Body:           params.Body,
		Attachment:     params.Attachment,
		CreatedAt:      params.CreatedAt,
	}

	err = tx.QueryRow(
		insertMessageQuery,
		params.ConversationId,
		params.SenderId,
		params.RecipientId,
		params.Body,
		params.Attachment,
		params.CreatedAt,
	).Scan(&msg.Id, &msg.SenderName, &msg.SenderAvatar, &msg.RecipientName, &msg.RecipientAvatar)
	if err != nil {
		return Message{}, err
	}

	_, err = tx.Exec(
		"UPDATE conversations SET last_message_at = $1 WHERE id = $2",
		params.CreatedAt,
		params.ConversationId,
	)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgStore) GetMessages(conversationId, before, limit int) ([]Message, error) {
	before, limit = normalizePage(before, limit)

	rows, err := db.conn.Query(selectMessagesQuery, conversationId, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var (
			msg    Message
			readAt sql.NullTime
		)
		err := rows.Scan(
			&msg.Id,
			&msg.ConversationId,
			&msg.SenderId,
			&msg.SenderName,
			&msg.SenderAvatar,
			&msg.RecipientId,
			&msg.RecipientName,
			&msg.RecipientAvatar,
			&msg.Body,
			&msg.Attachment,
			&msg.Read,
			&readAt,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if readAt.Valid {
			msg.ReadAt = &readAt.Time
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MarkAsRead flips every unread row from sender to recipient. It is a set
// operation on the store's current state, not on ids the client has seen.
func (db *PgStore) MarkAsRead(senderId, recipientId int, at time.Time) (int64, error) {
	res, err := db.conn.Exec(markAsReadQuery, senderId, recipientId, at)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (db *PgStore) CountUnread(recipientId int) (map[int]int, error) {
	rows, err := db.conn.Query(
		"SELECT sender_id, COUNT(*) FROM messages WHERE recipient_id = $1 AND read = FALSE GROUP BY sender_id",
		recipientId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var senderId, count int
		if err := rows.Scan(&senderId, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[senderId] = count
	}

	return counts, rows.Err()
}

func (db *PgStore) IsSpaceMember(spaceId, userId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM space_members WHERE space_id = $1 AND user_id = $2)",
		spaceId,
		userId,
	).Scan(&exists)

	return exists, err
}

func (db *PgStore) CreateSpaceMessage(params CreateSpaceMessageParams) (SpaceMessage, error) {
	msg := SpaceMessage{
		SpaceId:    params.SpaceId,
		SenderId:   params.SenderId,
		Body:       params.Body,
		Attachment: params.Attachment,
		CreatedAt:  params.CreatedAt,
	}

	err := db.conn.QueryRow(
		insertSpaceMessageQuery,
		params.SpaceId,
		params.SenderId,
		params.Body,
		params.Attachment,
		params.CreatedAt,
	).Scan(&msg.Id, &msg.SenderName, &msg.SenderAvatar)

	return msg, err
}

func (db *PgStore) GetSpaceMessages(spaceId, before, limit int) ([]SpaceMessage, error) {
	before, limit = normalizePage(before, limit)

	rows, err := db.conn.Query(selectSpaceMessagesQuery, spaceId, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]SpaceMessage, 0, limit)
	for rows.Next() {
		var msg SpaceMessage
		err := rows.Scan(
			&msg.Id,
			&msg.SpaceId,
			&msg.SenderId,
			&msg.SenderName,
			&msg.SenderAvatar,
			&msg.Body,
			&msg.Attachment,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgStore) CreateNotification(params CreateNotificationParams) (Notification, error) {
	n := Notification{
		RecipientId: params.RecipientId,
		SenderId:    params.SenderId,
		Type:        params.Type,
		Link:        params.Link,
		CreatedAt:   params.CreatedAt,
	}

	err := db.conn.QueryRow(
		"INSERT INTO notifications (recipient_id, sender_id, type, link, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id",
		params.RecipientId,
		params.SenderId,
		params.Type,
		params.Link,
		params.CreatedAt,
	).Scan(&n.Id)

	return n, err
}

func (db *PgStore) ListNotifications(userId, limit int) ([]Notification, error) {
	_, limit = normalizePage(0, limit)

	rows, err := db.conn.Query(
		"SELECT id, recipient_id, sender_id, type, link, read, created_at FROM notifications "+
			"WHERE recipient_id = $1 ORDER BY id DESC LIMIT $2",
		userId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.Id, &n.RecipientId, &n.SenderId, &n.Type, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func (db *PgStore) MarkNotificationsRead(userId int) error {
	_, err := db.conn.Exec(
		"UPDATE notifications SET read = TRUE WHERE recipient_id = $1 AND read = FALSE",
		userId,
	)

	return err
}
