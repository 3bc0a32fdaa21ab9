package server

import (
	"sync"
	"time"

	"github.com/npezzotti/spaces-realtime/internal/rooms"
	"github.com/npezzotti/spaces-realtime/internal/types"
)

type emitter interface {
	EmitToRoom(key, name string, payload any) int
}

type typingKey struct {
	sender    int
	recipient int
}

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// typingState forwards typing indicators and hides them again when the typist
// goes quiet for longer than timeout. Emits happen under mu so a display is
// never overtaken by a stale hide.
type typingState struct {
	emitter emitter
	timeout time.Duration

	mu      sync.Mutex
	gen     uint64
	entries map[typingKey]*typingEntry
	closed  bool
}

func newTypingState(e emitter, timeout time.Duration) *typingState {
	return &typingState{
		emitter: e,
		timeout: timeout,
		entries: make(map[typingKey]*typingEntry),
	}
}

func (ts *typingState) start(sender, recipient int) {
	key := typingKey{sender: sender, recipient: recipient}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.emit(types.EventDisplayTyping, key)
	if ts.closed {
		return
	}

	if e, ok := ts.entries[key]; ok {
		e.timer.Stop()
	}

	ts.gen++
	gen := ts.gen
	ts.entries[key] = &typingEntry{
		gen:   gen,
		timer: time.AfterFunc(ts.timeout, func() { ts.expire(key, gen) }),
	}
}

func (ts *typingState) stop(sender, recipient int) {
	key := typingKey{sender: sender, recipient: recipient}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if e, ok := ts.entries[key]; ok {
		e.timer.Stop()
		delete(ts.entries, key)
	}
	ts.emit(types.EventHideTyping, key)
}

func (ts *typingState) expire(key typingKey, gen uint64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	e, ok := ts.entries[key]
	if !ok || e.gen != gen {
		return
	}
	delete(ts.entries, key)
	ts.emit(types.EventHideTyping, key)
}

// flush hides every indicator sender still has open.
func (ts *typingState) flush(sender int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for key, e := range ts.entries {
		if key.sender != sender {
			continue
		}
		e.timer.Stop()
		delete(ts.entries, key)
		ts.emit(types.EventHideTyping, key)
	}
}

func (ts *typingState) active(sender, recipient int) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	_, ok := ts.entries[typingKey{sender: sender, recipient: recipient}]
	return ok
}

func (ts *typingState) close() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.closed = true
	for key, e := range ts.entries {
		e.timer.Stop()
		delete(ts.entries, key)
	}
}

func (ts *typingState) emit(name string, key typingKey) {
	ts.emitter.EmitToRoom(rooms.UserRoom(key.recipient), name, types.TypingIndicator{
		SenderId:    key.sender,
		RecipientId: key.recipient,
	})
}

// keyedMutex serializes work per key. Entries are dropped once nobody holds
// or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (km *keyedMutex) Lock(key string) func() {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &refMutex{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		km.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}

func (km *keyedMutex) size() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}
