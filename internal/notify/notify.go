// Package notify pushes already persisted notifications to the recipient's
// private room. Delivery is fire and forget, an offline user simply misses the
// push and reads the notification over HTTP later.
package notify

import (
	"github.com/npezzotti/spaces-realtime/internal/rooms"
	"github.com/npezzotti/spaces-realtime/internal/types"
	"github.com/rs/zerolog"
)

type Emitter interface {
	EmitToRoom(key, name string, payload any) int
}

type Relay struct {
	log     zerolog.Logger
	emitter Emitter
}

func NewRelay(logger zerolog.Logger, e Emitter) *Relay {
	return &Relay{log: logger, emitter: e}
}

// Notify emits n to every connection of recipientId and returns how many
// accepted it.
func (r *Relay) Notify(recipientId int, n types.Notification) int {
	n.RecipientId = recipientId
	delivered := r.emitter.EmitToRoom(rooms.UserRoom(recipientId), types.EventNewNotification, n)

	r.log.Debug().
		Int("user_id", recipientId).
		Str("type", string(n.Type)).
		Int("delivered", delivered).
		Msg("relayed notification")

	return delivered
}
