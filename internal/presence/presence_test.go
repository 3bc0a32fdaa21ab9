package presence

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/spaces-realtime/internal/stats"
	"github.com/npezzotti/spaces-realtime/internal/testutil"
	"github.com/npezzotti/spaces-realtime/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type testHandle string

func (h testHandle) Id() string { return string(h) }

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []*types.Event
}

func (b *recordingBroadcaster) Broadcast(evt *types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func (b *recordingBroadcaster) changes() []types.StatusChange {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.StatusChange, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Data.(types.StatusChange))
	}
	return out
}

type mockLastSeenStore struct {
	mock.Mock
}

func (m *mockLastSeenStore) SetLastSeen(ctx context.Context, userId int, at time.Time) error {
	args := m.Called(ctx, userId, at)
	return args.Error(0)
}

func (m *mockLastSeenStore) GetLastSeen(ctx context.Context, userId int) (time.Time, bool, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(time.Time), args.Bool(1), args.Error(2)
}

func newTestTracker(t *testing.T, store LastSeenStore) (*Tracker, *recordingBroadcaster) {
	b := &recordingBroadcaster{}
	return NewTracker(testutil.TestLogger(t), b, store, stats.NopStats{}), b
}

func TestNewTracker(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", stats.OnlineUsers).Once()
	defer su.AssertExpectations(t)

	tr := NewTracker(testutil.TestLogger(t), &recordingBroadcaster{}, nil, su)
	assert.NotNil(t, tr.conns, "expected conns map to be initialized")
	assert.NotNil(t, tr.lastSeen, "expected lastSeen map to be initialized")
}

func TestTracker_RegisterUnregister(t *testing.T) {
	tr, b := newTestTracker(t, nil)

	assert.True(t, tr.Register(1, testHandle("a")), "expected first handle to bring user online")
	assert.False(t, tr.Register(1, testHandle("b")), "expected second handle not to transition")
	assert.False(t, tr.Register(1, testHandle("b")), "expected duplicate register to be a no-op")
	assert.True(t, tr.IsOnline(1))
	assert.Equal(t, 2, tr.Connections(1))

	assert.False(t, tr.Unregister(1, testHandle("a")), "expected user to stay online with one handle left")
	assert.True(t, tr.IsOnline(1))
	assert.True(t, tr.Unregister(1, testHandle("b")), "expected last handle to take user offline")
	assert.False(t, tr.IsOnline(1))
	assert.False(t, tr.Unregister(1, testHandle("b")), "expected repeated unregister to be a no-op")
	assert.False(t, tr.Unregister(2, testHandle("z")), "expected unknown user to be a no-op")

	changes := b.changes()
	if assert.Len(t, changes, 2, "expected exactly one online and one offline broadcast") {
		assert.Equal(t, types.StatusOnline, changes[0].Status)
		assert.Nil(t, changes[0].LastSeen)
		assert.Equal(t, types.StatusOffline, changes[1].Status)
		assert.NotNil(t, changes[1].LastSeen, "expected offline broadcast to carry last seen")
		assert.Equal(t, 1, changes[1].UserId)
	}
}

func TestTracker_RandomSequences(t *testing.T) {
	tr, b := newTestTracker(t, nil)
	rng := rand.New(rand.NewSource(42))
	live := make(map[Handle]struct{})
	handles := []Handle{testHandle("a"), testHandle("b"), testHandle("c")}
	transitions := 0

	for range 500 {
		h := handles[rng.Intn(len(handles))]
		wasOnline := len(live) > 0
		if rng.Intn(2) == 0 {
			if tr.Register(7, h) {
				transitions++
			}
			live[h] = struct{}{}
		} else {
			if tr.Unregister(7, h) {
				transitions++
			}
			delete(live, h)
		}

		isOnline := len(live) > 0
		assert.Equal(t, isOnline, tr.IsOnline(7), "expected IsOnline to match live handle set")
		if wasOnline != isOnline {
			last := b.changes()[len(b.changes())-1]
			if isOnline {
				assert.Equal(t, types.StatusOnline, last.Status)
			} else {
				assert.Equal(t, types.StatusOffline, last.Status)
			}
		}
	}

	changes := b.changes()
	assert.Len(t, changes, transitions, "expected one broadcast per transition")
	for i := 1; i < len(changes); i++ {
		assert.NotEqual(t, changes[i-1].Status, changes[i].Status, "expected transitions to alternate")
	}
}

func TestTracker_ConcurrentTransitions(t *testing.T) {
	tr, b := newTestTracker(t, nil)
	const n = 50

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.Register(3, testHandle(fmt.Sprintf("h%d", i)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, b.changes(), 1, "expected concurrent opens to fire online once")
	assert.Equal(t, n, tr.Connections(3))

	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.Unregister(3, testHandle(fmt.Sprintf("h%d", i)))
		}(i)
	}
	wg.Wait()

	changes := b.changes()
	assert.Len(t, changes, 2, "expected concurrent closes to fire offline once")
	assert.Equal(t, types.StatusOffline, changes[1].Status)
	assert.False(t, tr.IsOnline(3))
}

func TestTracker_Snapshot(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	tr.Register(5, testHandle("a"))
	tr.Register(2, testHandle("b"))
	tr.Register(5, testHandle("c"))
	tr.Register(9, testHandle("d"))
	tr.Unregister(9, testHandle("d"))

	assert.Equal(t, []int{2, 5}, tr.Snapshot())
}

func TestTracker_SnapshotAfterReconnect(t *testing.T) {
	tr, _ := newTestTracker(t, nil)
	tr.Register(1, testHandle("old"))
	tr.Unregister(1, testHandle("old"))
	tr.Register(1, testHandle("new"))

	assert.Equal(t, []int{1}, tr.Snapshot(), "expected the user once with no stale entry")
	assert.Equal(t, 1, tr.Connections(1))
}

func TestTracker_LastSeen(t *testing.T) {
	t.Run("persists offline transition", func(t *testing.T) {
		store := &mockLastSeenStore{}
		defer store.AssertExpectations(t)

		tr, _ := newTestTracker(t, store)
		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		tr.now = func() time.Time { return fixed }
		store.On("SetLastSeen", mock.Anything, 4, fixed).Return(nil).Once()

		tr.Register(4, testHandle("a"))
		_, ok := tr.LastSeen(context.Background(), 4)
		assert.False(t, ok, "expected no last seen while online")

		tr.Unregister(4, testHandle("a"))
		at, ok := tr.LastSeen(context.Background(), 4)
		assert.True(t, ok)
		assert.Equal(t, fixed, at)
	})

	t.Run("falls back to store", func(t *testing.T) {
		store := &mockLastSeenStore{}
		defer store.AssertExpectations(t)

		tr, _ := newTestTracker(t, store)
		stored := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		store.On("GetLastSeen", mock.Anything, 8).Return(stored, true, nil).Once()

		at, ok := tr.LastSeen(context.Background(), 8)
		assert.True(t, ok)
		assert.Equal(t, stored, at)
	})

	t.Run("store errors are absorbed", func(t *testing.T) {
		store := &mockLastSeenStore{}
		defer store.AssertExpectations(t)

		tr, b := newTestTracker(t, store)
		store.On("SetLastSeen", mock.Anything, 4, mock.Anything).Return(errors.New("redis down")).Once()
		store.On("GetLastSeen", mock.Anything, 6).Return(time.Time{}, false, errors.New("redis down")).Once()

		tr.Register(4, testHandle("a"))
		assert.True(t, tr.Unregister(4, testHandle("a")), "expected offline transition despite store error")
		assert.Len(t, b.changes(), 2)

		_, ok := tr.LastSeen(context.Background(), 6)
		assert.False(t, ok)
	})

	t.Run("memory only", func(t *testing.T) {
		tr, _ := newTestTracker(t, nil)
		_, ok := tr.LastSeen(context.Background(), 1)
		assert.False(t, ok)
	})
}

// fakeRedis implements the sorted set commands the last seen store uses.
// beforeWrite, when set, runs ahead of every ZAddGT outside the lock.
type fakeRedis struct {
	redis.Cmdable
	beforeWrite func()

	mu     sync.Mutex
	scores map[string]map[string]float64
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{scores: make(map[string]map[string]float64)}
}

func (f *fakeRedis) ZAddGT(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	if f.beforeWrite != nil {
		f.beforeWrite()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	set, ok := f.scores[key]
	if !ok {
		set = make(map[string]float64)
		f.scores[key] = set
	}

	var added int64
	for _, z := range members {
		member := fmt.Sprint(z.Member)
		old, exists := set[member]
		if exists && z.Score <= old {
			continue
		}
		if !exists {
			added++
		}
		set[member] = z.Score
	}
	return redis.NewIntResult(added, nil)
}

func (f *fakeRedis) ZScore(ctx context.Context, key, member string) *redis.FloatCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	score, ok := f.scores[key][member]
	if !ok {
		return redis.NewFloatResult(0, redis.Nil)
	}
	return redis.NewFloatResult(score, nil)
}

func TestRedisLastSeenStore(t *testing.T) {
	fr := newFakeRedis()
	s := NewRedisLastSeenStore(fr)
	ctx := context.Background()

	_, ok, err := s.GetLastSeen(ctx, 1)
	assert.NoError(t, err)
	assert.False(t, ok, "expected missing member to report not found")

	at := time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	assert.NoError(t, s.SetLastSeen(ctx, 1, at))
	assert.Contains(t, fr.scores[lastSeenKey], "1")

	got, ok, err := s.GetLastSeen(ctx, 1)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, at, got)

	t.Run("older time does not overwrite", func(t *testing.T) {
		assert.NoError(t, s.SetLastSeen(ctx, 1, at.Add(-time.Minute)))

		got, ok, err := s.GetLastSeen(ctx, 1)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, at, got, "expected stored time to stay at the latest transition")
	})

	t.Run("newer time overwrites", func(t *testing.T) {
		later := at.Add(time.Hour)
		assert.NoError(t, s.SetLastSeen(ctx, 1, later))

		got, _, err := s.GetLastSeen(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, later, got)
	})
}

func TestTracker_DelayedPersistKeepsLatest(t *testing.T) {
	fr := newFakeRedis()
	entered := make(chan struct{})
	release := make(chan struct{})
	var writes int
	var writesMu sync.Mutex
	fr.beforeWrite = func() {
		writesMu.Lock()
		writes++
		first := writes == 1
		writesMu.Unlock()
		if first {
			close(entered)
			<-release
		}
	}

	lastSeen := NewRedisLastSeenStore(fr)
	tr, _ := newTestTracker(t, lastSeen)

	first := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	second := time.Date(2026, 1, 1, 0, 2, 0, 0, time.UTC)
	times := []time.Time{first, second}
	tr.now = func() time.Time {
		at := times[0]
		times = times[1:]
		return at
	}

	tr.Register(4, testHandle("a"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Unregister(4, testHandle("a"))
	}()

	// The first session's write is in flight while the user reconnects and
	// goes offline again.
	<-entered
	tr.Register(4, testHandle("b"))
	tr.Unregister(4, testHandle("b"))
	close(release)
	<-done

	at, ok := tr.LastSeen(context.Background(), 4)
	assert.True(t, ok)
	assert.Equal(t, second, at, "expected memory to hold the latest transition")

	stored, ok, err := lastSeen.GetLastSeen(context.Background(), 4)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, second, stored, "expected persisted time to hold the latest transition")
}
