package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/spaces-realtime/internal/database"
	"github.com/npezzotti/spaces-realtime/internal/presence"
	"github.com/npezzotti/spaces-realtime/internal/rooms"
	"github.com/npezzotti/spaces-realtime/internal/stats"
	"github.com/npezzotti/spaces-realtime/internal/types"
	"github.com/rs/zerolog"
)

type Options struct {
	TypingTimeout time.Duration
	EventRate     float64
	EventBurst    int
	SendBuffer    int
}

func DefaultOptions() Options {
	return Options{
		TypingTimeout: 2 * time.Second,
		EventRate:     20,
		EventBurst:    40,
		SendBuffer:    256,
	}
}

type handlerFunc func(c *Client, data json.RawMessage) error

// Dispatcher owns the handler for every inbound event and the delivery paths
// used by the HTTP layer.
type Dispatcher struct {
	log     zerolog.Logger
	store   database.Store
	router  *rooms.Router
	tracker *presence.Tracker
	stats   stats.StatsProvider
	opts    Options
	now     func() time.Time

	typing    *typingState
	convLocks *keyedMutex
	handlers  map[string]handlerFunc

	mu      sync.Mutex
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
}

func NewDispatcher(logger zerolog.Logger, store database.Store, router *rooms.Router, tracker *presence.Tracker,
	su stats.StatsProvider, opts Options) *Dispatcher {
	def := DefaultOptions()
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = def.TypingTimeout
	}
	if opts.EventRate <= 0 {
		opts.EventRate = def.EventRate
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = def.EventBurst
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}

	su.RegisterMetric(stats.ActiveClients)
	su.RegisterMetric(stats.MessagesDelivered)

	d := &Dispatcher{
		log:       logger,
		store:     store,
		router:    router,
		tracker:   tracker,
		stats:     su,
		opts:      opts,
		now:       Now,
		typing:    newTypingState(router, opts.TypingTimeout),
		convLocks: newKeyedMutex(),
		clients:   make(map[*Client]struct{}),
	}

	d.handlers = map[string]handlerFunc{
		EventJoin:       d.handleJoin,
		EventJoinSpace:  d.handleJoinSpace,
		EventLeaveSpace: d.handleLeaveSpace,
		EventOpenChat:   d.handleOpenChat,
		EventCloseChat:  d.handleCloseChat,
		EventTyping:     d.handleTyping,
		EventStopTyping: d.handleStopTyping,
		EventMarkAsRead: d.handleMarkAsRead,
	}

	return d
}

// ServeConn wraps an upgraded websocket in a Client, registers it and starts
// its pumps.
func (d *Dispatcher) ServeConn(conn *websocket.Conn, user types.User) (*Client, error) {
	c := NewClient(user, conn, d, d.log)
	if err := d.Connect(c); err != nil {
		return nil, err
	}

	go c.Write()
	go c.Read()

	return c, nil
}

// Connect makes c reachable and registers it with the presence tracker.
func (d *Dispatcher) Connect(c *Client) error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return ErrShuttingDown
	}
	d.clients[c] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	d.router.Attach(c)
	d.tracker.Register(c.UserId(), c)
	d.stats.Incr(stats.ActiveClients)
	c.log.Info().Msg("client connected")

	return nil
}

// Disconnect leaves every room before unregistering, so no emit targets a
// handle the tracker has already dropped. Repeated calls are no-ops.
func (d *Dispatcher) Disconnect(c *Client) {
	d.mu.Lock()
	if _, ok := d.clients[c]; !ok {
		d.mu.Unlock()
		return
	}
	delete(d.clients, c)
	d.mu.Unlock()
	defer d.wg.Done()

	d.router.LeaveAll(c)
	if d.tracker.Unregister(c.UserId(), c) {
		d.typing.flush(c.UserId())
	}
	d.stats.Decr(stats.ActiveClients)
	c.log.Info().Dur("connected_for", time.Since(c.connectedAt)).Msg("client disconnected")
}

// Dispatch runs the handler registered for evt. Failures are logged and
// reported to c only; the connection stays up.
func (d *Dispatcher) Dispatch(c *Client, evt ClientEvent) {
	h, ok := d.handlers[evt.Event]
	if !ok {
		c.log.Warn().Str("event", evt.Event).Msg("unknown event")
		c.Send(errorEvent(evt.Event, reject("unknown event")))
		return
	}

	if err := h(c, evt.Data); err != nil {
		c.log.Warn().Err(err).Str("event", evt.Event).Msg("event rejected")
		c.Send(errorEvent(evt.Event, err))
	}
}

func (d *Dispatcher) handleJoin(c *Client, data json.RawMessage) error {
	var userId int
	if err := decode(data, &userId); err != nil {
		return err
	}
	if userId != c.UserId() {
		return reject("user id mismatch")
	}

	d.router.JoinUserRoom(c, userId)
	c.Send(types.NewEvent(types.EventOnlineUsersList, d.tracker.Snapshot()))

	return nil
}

func (d *Dispatcher) handleJoinSpace(c *Client, data json.RawMessage) error {
	spaceId, err := decodeId(data)
	if err != nil {
		return err
	}

	member, err := d.store.IsSpaceMember(spaceId, c.UserId())
	if err != nil {
		return fmt.Errorf("check space membership: %w", err)
	}
	if !member {
		return ErrNotSpaceMember
	}

	d.router.JoinSpaceRoom(c, spaceId)
	return nil
}

func (d *Dispatcher) handleLeaveSpace(c *Client, data json.RawMessage) error {
	spaceId, err := decodeId(data)
	if err != nil {
		return err
	}

	d.router.LeaveRoom(c, rooms.SpaceRoom(spaceId))
	return nil
}

func (d *Dispatcher) handleOpenChat(c *Client, data json.RawMessage) error {
	var req OpenChat
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.UserId <= 0 || req.UserId == c.UserId() {
		return reject("invalid user id")
	}
	// Reopening the chat already on screen is not a transition.
	if c.view.active && c.view.with == req.UserId {
		return nil
	}

	return d.activate(c, req.UserId)
}

func (d *Dispatcher) handleCloseChat(c *Client, _ json.RawMessage) error {
	c.view = chatView{}
	return nil
}

func (d *Dispatcher) handleTyping(c *Client, data json.RawMessage) error {
	ti, err := d.decodeTyping(c, data)
	if err != nil {
		return err
	}

	d.typing.start(ti.SenderId, ti.RecipientId)
	return nil
}

func (d *Dispatcher) handleStopTyping(c *Client, data json.RawMessage) error {
	ti, err := d.decodeTyping(c, data)
	if err != nil {
		return err
	}

	d.typing.stop(ti.SenderId, ti.RecipientId)
	return nil
}

func (d *Dispatcher) handleMarkAsRead(c *Client, data json.RawMessage) error {
	var req MarkAsRead
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.RecipientId != 0 && req.RecipientId != c.UserId() {
		return reject("user id mismatch")
	}
	if req.SenderId <= 0 || req.SenderId == c.UserId() {
		return reject("invalid sender id")
	}

	return d.activate(c, req.SenderId)
}

// activate moves c's view to the conversation with other and marks what other
// sent as read.
func (d *Dispatcher) activate(c *Client, other int) error {
	c.view = chatView{active: true, with: other}

	if _, err := d.MarkRead(c.UserId(), other); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (d *Dispatcher) decodeTyping(c *Client, data json.RawMessage) (types.TypingIndicator, error) {
	var ti types.TypingIndicator
	if err := decode(data, &ti); err != nil {
		return ti, err
	}
	if ti.SenderId == 0 {
		ti.SenderId = c.UserId()
	}
	if ti.SenderId != c.UserId() {
		return ti, reject("user id mismatch")
	}
	if ti.RecipientId <= 0 || ti.RecipientId == c.UserId() {
		return ti, reject("invalid recipient id")
	}

	return ti, nil
}

// MarkRead marks every unread message from counterpartId to readerId as read
// and sends the receipt to the counterpart's devices.
func (d *Dispatcher) MarkRead(readerId, counterpartId int) (types.ReadReceipt, error) {
	unlock := d.convLocks.Lock(conversationKey(readerId, counterpartId))
	defer unlock()

	at := d.now()
	count, err := d.store.MarkAsRead(counterpartId, readerId, at)
	if err != nil {
		return types.ReadReceipt{}, err
	}

	receipt := types.ReadReceipt{ByUserId: readerId, ReadAt: at, Count: count}
	d.router.EmitToRoom(rooms.UserRoom(counterpartId), types.EventMessagesRead, receipt)

	return receipt, nil
}

type DirectMessage struct {
	SenderId    int
	RecipientId int
	Body        string
	Attachment  string
}

// DeliverDirectMessage appends the message and emits it to both participants.
// Append and emit are serialized per conversation so clients observe messages
// in store order. Nothing is emitted when the store fails.
func (d *Dispatcher) DeliverDirectMessage(dm DirectMessage) (types.Message, error) {
	if dm.RecipientId <= 0 || dm.RecipientId == dm.SenderId {
		return types.Message{}, ErrInvalidRecipient
	}
	if strings.TrimSpace(dm.Body) == "" && dm.Attachment == "" {
		return types.Message{}, ErrEmptyMessage
	}

	if _, err := d.store.GetUser(dm.RecipientId); err != nil {
		return types.Message{}, fmt.Errorf("get recipient: %w", err)
	}

	unlock := d.convLocks.Lock(conversationKey(dm.SenderId, dm.RecipientId))
	defer unlock()

	conv, err := d.store.FindOrCreateConversation(dm.SenderId, dm.RecipientId)
	if err != nil {
		return types.Message{}, fmt.Errorf("find conversation: %w", err)
	}

	row, err := d.store.CreateMessage(database.CreateMessageParams{
		ConversationId: conv.Id,
		SenderId:       dm.SenderId,
		RecipientId:    dm.RecipientId,
		Body:           dm.Body,
		Attachment:     dm.Attachment,
		CreatedAt:      d.now(),
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("create message: %w", err)
	}

	msg := row.Typed()
	d.router.EmitToRoom(rooms.UserRoom(dm.RecipientId), types.EventNewMessage, msg)
	d.router.EmitToRoom(rooms.UserRoom(dm.SenderId), types.EventNewMessage, msg)
	d.stats.Incr(stats.MessagesDelivered)

	return msg, nil
}

type SpaceMessage struct {
	SenderId   int
	SpaceId    int
	Body       string
	Attachment string
}

// DeliverSpaceMessage appends a group message and emits it into the space room.
func (d *Dispatcher) DeliverSpaceMessage(sm SpaceMessage) (types.SpaceMessage, error) {
	if strings.TrimSpace(sm.Body) == "" && sm.Attachment == "" {
		return types.SpaceMessage{}, ErrEmptyMessage
	}

	member, err := d.store.IsSpaceMember(sm.SpaceId, sm.SenderId)
	if err != nil {
		return types.SpaceMessage{}, fmt.Errorf("check space membership: %w", err)
	}
	if !member {
		return types.SpaceMessage{}, ErrNotSpaceMember
	}

	unlock := d.convLocks.Lock(rooms.SpaceRoom(sm.SpaceId))
	defer unlock()

	row, err := d.store.CreateSpaceMessage(database.CreateSpaceMessageParams{
		SpaceId:    sm.SpaceId,
		SenderId:   sm.SenderId,
		Body:       sm.Body,
		Attachment: sm.Attachment,
		CreatedAt:  d.now(),
	})
	if err != nil {
		return types.SpaceMessage{}, fmt.Errorf("create space message: %w", err)
	}

	msg := row.Typed()
	d.router.EmitToRoom(rooms.SpaceRoom(sm.SpaceId), types.EventNewChatMessage, types.ChatMessage{
		Message:     msg.Body,
		User:        msg.Sender,
		FullMessage: msg,
	})
	d.stats.Incr(stats.MessagesDelivered)

	return msg, nil
}

func (d *Dispatcher) NumClients() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// Shutdown refuses new connections, closes every live one and waits for them
// to finish disconnecting or for ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	clients := make([]*Client, 0, len(d.clients))
	for c := range d.clients {
		clients = append(clients, c)
	}
	d.mu.Unlock()

	d.log.Info().Int("clients", len(clients)).Msg("closing client connections")
	for _, c := range clients {
		c.stopClient()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for clients: %w", ctx.Err())
	}

	d.typing.close()
	return err
}

func conversationKey(a, b int) string {
	low, high := database.CanonicalPair(a, b)
	return "conv:" + strconv.Itoa(low) + ":" + strconv.Itoa(high)
}

func decodeId(data json.RawMessage) (int, error) {
	var id int
	if err := decode(data, &id); err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, reject("invalid id")
	}
	return id, nil
}
