package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/spaces-realtime/internal/stats"
	"github.com/npezzotti/spaces-realtime/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// chatView is the conversation a connection has open. The zero value is Idle.
type chatView struct {
	active bool
	with   int
}

type Client struct {
	id          string
	conn        *websocket.Conn
	dispatcher  *Dispatcher
	log         zerolog.Logger
	user        types.User
	connectedAt time.Time
	send        chan *types.Event
	limiter     *rate.Limiter
	stop        chan struct{}
	stopOnce    sync.Once

	// view is only touched by the read goroutine.
	view chatView
}

func NewClient(user types.User, conn *websocket.Conn, d *Dispatcher, l zerolog.Logger) *Client {
	id := uuid.NewString()

	return &Client{
		id:          id,
		conn:        conn,
		dispatcher:  d,
		log:         l.With().Str("conn_id", id).Int("user_id", user.Id).Logger(),
		user:        user,
		connectedAt: Now(),
		send:        make(chan *types.Event, d.opts.SendBuffer),
		limiter:     rate.NewLimiter(rate.Limit(d.opts.EventRate), d.opts.EventBurst),
		stop:        make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) UserId() int {
	return c.user.Id
}

func (c *Client) User() types.User {
	return c.user
}

func (c *Client) ConnectedAt() time.Time {
	return c.connectedAt
}

// Send queues evt without blocking and reports whether it was accepted.
func (c *Client) Send(evt *types.Event) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case evt := <-c.send:
			bytes, err := serializeEvent(evt)
			if err != nil {
				c.log.Error().Err(err).Str("event", evt.Name).Msg("failed to serialize event")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// Read handles inbound frames in arrival order until the connection fails,
// then disconnects the client.
func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.dispatcher.Disconnect(c)
		c.stopClient()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws read")
			}
			return
		}

		var evt ClientEvent
		if err := json.Unmarshal(raw, &evt); err != nil || evt.Event == "" {
			c.log.Warn().Msg("dropped malformed frame")
			c.Send(errorEvent("", reject("invalid message format")))
			continue
		}

		if !c.limiter.Allow() {
			c.dispatcher.stats.Incr(stats.EventsDropped)
			c.log.Warn().Str("event", evt.Event).Msg("rate limit exceeded")
			c.Send(errorEvent(evt.Event, reject("rate limit exceeded")))
			continue
		}

		c.dispatcher.Dispatch(c, evt)
	}
}

func serializeEvent(evt *types.Event) ([]byte, error) {
	return json.Marshal(evt)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("ws write")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}
