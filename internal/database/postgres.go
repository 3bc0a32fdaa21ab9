package database

import (
	"database/sql"
	"errors"
	"math"
	"time"

	_ "github.com/lib/pq"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var ErrSameParticipant = errors.New("conversation participants must differ")

type Store interface {
	Ping() error
	GetUser(id int) (User, error)
	FindOrCreateConversation(a, b int) (Conversation, error)
	GetConversation(a, b int) (Conversation, error)
	ListConversations(userId int) ([]Conversation, error)
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessages(conversationId, before, limit int) ([]Message, error)
	MarkAsRead(senderId, recipientId int, at time.Time) (int64, error)
	CountUnread(recipientId int) (map[int]int, error)
	IsSpaceMember(spaceId, userId int) (bool, error)
	CreateSpaceMessage(params CreateSpaceMessageParams) (SpaceMessage, error)
	GetSpaceMessages(spaceId, before, limit int) ([]SpaceMessage, error)
	CreateNotification(params CreateNotificationParams) (Notification, error)
	ListNotifications(userId, limit int) ([]Notification, error)
	MarkNotificationsRead(userId int) error
}

type PgStore struct {
	conn *sql.DB
}

func NewPgStore(dsn string) (*PgStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgStore{conn: db}, nil
}

// NewPgStoreFromDB wraps an already opened handle.
func NewPgStoreFromDB(db *sql.DB) *PgStore {
	return &PgStore{conn: db}
}

func (db *PgStore) DB() *sql.DB {
	return db.conn
}

func (db *PgStore) Ping() error {
	return db.conn.Ping()
}

func (db *PgStore) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// CanonicalPair orders two participant ids so (a, b) and (b, a) map to the
// same conversation row.
func CanonicalPair(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

func normalizePage(before, limit int) (int, int) {
	if before <= 0 {
		before = math.MaxInt
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return before, limit
}
