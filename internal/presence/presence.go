// Package presence tracks which users have at least one live connection.
//
// A user is online iff it has one or more registered handles. The
// transitions online->offline and offline->online are decided and broadcast
// inside one critical section, so concurrent connects or disconnects for the
// same user never produce duplicate or out of order status changes.
package presence

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/spaces-realtime/internal/stats"
	"github.com/npezzotti/spaces-realtime/internal/types"
	"github.com/rs/zerolog"
)

const persistTimeout = 2 * time.Second

// Handle is one live connection. Implementations must be comparable.
type Handle interface {
	Id() string
}

type Broadcaster interface {
	Broadcast(evt *types.Event)
}

// LastSeenStore persists the offline transition time beyond process lifetime.
type LastSeenStore interface {
	SetLastSeen(ctx context.Context, userId int, at time.Time) error
	GetLastSeen(ctx context.Context, userId int) (time.Time, bool, error)
}

type Tracker struct {
	log         zerolog.Logger
	broadcaster Broadcaster
	store       LastSeenStore
	stats       stats.StatsProvider
	now         func() time.Time

	mu       sync.Mutex
	conns    map[int]map[Handle]struct{}
	lastSeen map[int]time.Time
}

// NewTracker creates a tracker. store may be nil, in which case last seen
// times only live in memory.
func NewTracker(logger zerolog.Logger, b Broadcaster, store LastSeenStore, su stats.StatsProvider) *Tracker {
	su.RegisterMetric(stats.OnlineUsers)

	return &Tracker{
		log:         logger,
		broadcaster: b,
		store:       store,
		stats:       su,
		now:         func() time.Time { return time.Now().UTC().Round(time.Millisecond) },
		conns:       make(map[int]map[Handle]struct{}),
		lastSeen:    make(map[int]time.Time),
	}
}

// Register adds h to the user's connection set and reports whether the
// user just came online.
func (t *Tracker) Register(userId int, h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userId]
	if !ok {
		set = make(map[Handle]struct{})
		t.conns[userId] = set
	}
	if _, dup := set[h]; dup {
		return false
	}

	wasEmpty := len(set) == 0
	set[h] = struct{}{}
	if !wasEmpty {
		return false
	}

	t.log.Debug().Int("user_id", userId).Msg("user online")
	t.stats.Incr(stats.OnlineUsers)
	t.broadcaster.Broadcast(types.NewEvent(types.EventUserStatusChange, types.StatusChange{
		UserId: userId,
		Status: types.StatusOnline,
	}))

	return true
}

// Unregister removes h and reports whether the user just went offline.
// Unknown handles are ignored.
func (t *Tracker) Unregister(userId int, h Handle) bool {
	at, offline := t.unregister(userId, h)
	if offline && t.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := t.store.SetLastSeen(ctx, userId, at); err != nil {
			t.log.Error().Err(err).Int("user_id", userId).Msg("persist last seen")
		}
	}

	return offline
}

func (t *Tracker) unregister(userId int, h Handle) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userId]
	if !ok {
		return time.Time{}, false
	}
	if _, ok := set[h]; !ok {
		return time.Time{}, false
	}

	delete(set, h)
	if len(set) > 0 {
		return time.Time{}, false
	}

	delete(t.conns, userId)
	at := t.now()
	t.lastSeen[userId] = at

	t.log.Debug().Int("user_id", userId).Msg("user offline")
	t.stats.Decr(stats.OnlineUsers)
	t.broadcaster.Broadcast(types.NewEvent(types.EventUserStatusChange, types.StatusChange{
		UserId:   userId,
		Status:   types.StatusOffline,
		LastSeen: &at,
	}))

	return at, true
}

func (t *Tracker) IsOnline(userId int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.conns[userId]) > 0
}

func (t *Tracker) Connections(userId int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.conns[userId])
}

// Snapshot returns the sorted ids of every online user.
func (t *Tracker) Snapshot() []int {
	t.mu.Lock()
	ids := make([]int, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	slices.Sort(ids)
	return ids
}

// LastSeen returns when the user last went offline. Online users and users
// never seen report false.
func (t *Tracker) LastSeen(ctx context.Context, userId int) (time.Time, bool) {
	t.mu.Lock()
	online := len(t.conns[userId]) > 0
	at, ok := t.lastSeen[userId]
	t.mu.Unlock()

	if online {
		return time.Time{}, false
	}
	if ok || t.store == nil {
		return at, ok
	}

	at, ok, err := t.store.GetLastSeen(ctx, userId)
	if err != nil {
		t.log.Error().Err(err).Int("user_id", userId).Msg("load last seen")
		return time.Time{}, false
	}

	return at, ok
}
