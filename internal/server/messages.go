package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/npezzotti/spaces-realtime/internal/types"
)

// Client to server event names.
const (
	EventJoin       = "join"
	EventJoinSpace  = "joinSpace"
	EventLeaveSpace = "leaveSpace"
	EventOpenChat   = "open_chat"
	EventCloseChat  = "close_chat"
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
	EventMarkAsRead = "mark_as_read"
)

// ClientEvent is the envelope of every frame a client sends. Data is decoded
// by the handler registered for Event.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type OpenChat struct {
	UserId int `json:"userId"`
}

type MarkAsRead struct {
	SenderId    int `json:"senderId"`
	RecipientId int `json:"recipientId"`
}

var (
	ErrShuttingDown     = errors.New("server shutting down")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrNotSpaceMember   = errors.New("not a member of space")
	ErrEmptyMessage     = errors.New("message body is empty")
)

// rejectError is a client mistake. Its reason is echoed back to the client,
// any other handler error is reported as an internal error.
type rejectError struct {
	reason string
}

func (e *rejectError) Error() string {
	return e.reason
}

func reject(reason string) error {
	return &rejectError{reason: reason}
}

func reasonFor(err error) string {
	var re *rejectError
	if errors.As(err, &re) {
		return re.reason
	}
	if errors.Is(err, ErrNotSpaceMember) {
		return ErrNotSpaceMember.Error()
	}
	return "internal error"
}

func errorEvent(event string, err error) *types.Event {
	return types.NewEvent(types.EventError, types.ErrorPayload{
		Event: event,
		Error: reasonFor(err),
	})
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return reject("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return reject("invalid payload")
	}
	return nil
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
