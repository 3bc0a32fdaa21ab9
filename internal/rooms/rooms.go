package rooms

import (
	"slices"
	"strconv"
	"sync"

	"github.com/npezzotti/spaces-realtime/internal/stats"
	"github.com/npezzotti/spaces-realtime/internal/types"
	"github.com/rs/zerolog"
)

const (
	userRoomPrefix  = "user:"
	spaceRoomPrefix = "space:"
)

// Conn is a live connection that can receive events. Send must not block.
type Conn interface {
	Id() string
	UserId() int
	Send(evt *types.Event) bool
}

func UserRoom(userId int) string {
	return userRoomPrefix + strconv.Itoa(userId)
}

func SpaceRoom(spaceId int) string {
	return spaceRoomPrefix + strconv.Itoa(spaceId)
}

// Router keeps the room membership tables. Rooms have no state of their own,
// a room exists while at least one connection is joined to it.
type Router struct {
	log   zerolog.Logger
	stats stats.StatsProvider

	mu          sync.RWMutex
	conns       map[Conn]struct{}
	rooms       map[string]map[Conn]struct{}
	memberships map[Conn]map[string]struct{}
}

func NewRouter(logger zerolog.Logger, su stats.StatsProvider) *Router {
	su.RegisterMetric(stats.EventsDropped)

	return &Router{
		log:         logger,
		stats:       su,
		conns:       make(map[Conn]struct{}),
		rooms:       make(map[string]map[Conn]struct{}),
		memberships: make(map[Conn]map[string]struct{}),
	}
}

// Attach makes c reachable by Broadcast before it joins any room.
func (r *Router) Attach(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c] = struct{}{}
}

func (r *Router) JoinUserRoom(c Conn, userId int) bool {
	return r.Join(c, UserRoom(userId))
}

func (r *Router) JoinSpaceRoom(c Conn, spaceId int) bool {
	return r.Join(c, SpaceRoom(spaceId))
}

// Join subscribes c to key and reports whether it was not already a member.
func (r *Router) Join(c Conn, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c] = struct{}{}

	members, ok := r.rooms[key]
	if !ok {
		members = make(map[Conn]struct{})
		r.rooms[key] = members
	}
	if _, ok := members[c]; ok {
		return false
	}
	members[c] = struct{}{}

	joined, ok := r.memberships[c]
	if !ok {
		joined = make(map[string]struct{})
		r.memberships[c] = joined
	}
	joined[key] = struct{}{}

	r.log.Debug().Str("conn_id", c.Id()).Str("room", key).Msg("joined room")
	return true
}

func (r *Router) LeaveRoom(c Conn, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leave(c, key)
}

func (r *Router) leave(c Conn, key string) bool {
	members, ok := r.rooms[key]
	if !ok {
		return false
	}
	if _, ok := members[c]; !ok {
		return false
	}

	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, key)
	}
	if joined, ok := r.memberships[c]; ok {
		delete(joined, key)
		if len(joined) == 0 {
			delete(r.memberships, c)
		}
	}

	return true
}

// LeaveAll removes c from every room and from the broadcast set.
func (r *Router) LeaveAll(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.memberships[c] {
		r.leave(c, key)
	}
	delete(r.memberships, c)
	delete(r.conns, c)
}

// EmitToRoom delivers the event to every member of key and returns how many
// connections accepted it. Delivery is best effort.
func (r *Router) EmitToRoom(key, name string, payload any) int {
	evt := types.NewEvent(name, payload)

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for c := range r.rooms[key] {
		if r.send(c, evt) {
			delivered++
		}
	}

	return delivered
}

// Broadcast delivers evt to every attached connection.
func (r *Router) Broadcast(evt *types.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.conns {
		r.send(c, evt)
	}
}

func (r *Router) send(c Conn, evt *types.Event) bool {
	if c.Send(evt) {
		return true
	}

	r.stats.Incr(stats.EventsDropped)
	r.log.Warn().Str("conn_id", c.Id()).Str("event", evt.Name).Msg("dropped event, send queue full")
	return false
}

func (r *Router) Members(key string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]Conn, 0, len(r.rooms[key]))
	for c := range r.rooms[key] {
		members = append(members, c)
	}
	return members
}

// Rooms lists the keys c is joined to, sorted.
func (r *Router) Rooms(c Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.memberships[c]))
	for key := range r.memberships[c] {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Conns returns every attached connection.
func (r *Router) Conns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
