package realtime

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	v1 "github.com/rama7993/quickchat/contracts/chat/v1"
)

// TypingSnapshot is the full typing set of one room after a change.
type TypingSnapshot struct {
	RoomID string
	Users  []v1.TypingUser
}

// TypingTracker maintains the per-room "who is typing" sets.
//
// Stop events are not guaranteed (a tab can close mid-keystroke), so every
// entry carries a client-enforced expiry timer. A repeated start for the
// same user replaces the entry and resets its timer.
type TypingTracker struct {
	log     *slog.Logger
	timeout time.Duration

	mu    sync.Mutex
	rooms map[string]map[string]*typingEntry

	updates *Feed[TypingSnapshot]
}

type typingEntry struct {
	user  v1.TypingUser
	timer *time.Timer
}

// NewTypingTracker constructs a tracker. timeout <= 0 falls back to the
// package default.
func NewTypingTracker(log *slog.Logger, timeout time.Duration) *TypingTracker {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTypingTimeout
	}
	return &TypingTracker{
		log:     log,
		timeout: timeout,
		rooms:   make(map[string]map[string]*typingEntry),
		updates: NewFeed[TypingSnapshot](defaultFeedQueueSize, 0),
	}
}

// Apply processes one typing event.
func (t *TypingTracker) Apply(ev TypingEvent) {
	if ev.User.UserID == "" || ev.User.RoomID == "" {
		return
	}
	if ev.Stopped || !ev.User.IsTyping {
		t.remove(ev.User.RoomID, ev.User.UserID, false)
		return
	}
	t.start(ev.User)
}

func (t *TypingTracker) start(u v1.TypingUser) {
	t.mu.Lock()
	room := t.rooms[u.RoomID]
	if room == nil {
		room = make(map[string]*typingEntry)
		t.rooms[u.RoomID] = room
	}

	if e, ok := room[u.UserID]; ok {
		// Replace, never duplicate: one slot per user, timer restarted.
		e.user = u
		e.timer.Reset(t.timeout)
		snap := t.snapshotLocked(u.RoomID)
		t.mu.Unlock()
		t.updates.Publish(snap)
		return
	}

	roomID, userID := u.RoomID, u.UserID
	room[u.UserID] = &typingEntry{
		user: u,
		timer: time.AfterFunc(t.timeout, func() {
			t.remove(roomID, userID, true)
		}),
	}
	snap := t.snapshotLocked(u.RoomID)
	t.mu.Unlock()
	t.updates.Publish(snap)
}

func (t *TypingTracker) remove(roomID, userID string, expired bool) {
	t.mu.Lock()
	room := t.rooms[roomID]
	e, ok := room[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.timer.Stop()
	delete(room, userID)
	if len(room) == 0 {
		delete(t.rooms, roomID)
	}
	snap := t.snapshotLocked(roomID)
	t.mu.Unlock()

	if expired {
		metricTypingExpirations.Inc()
		t.log.Debug("typing.expire", "room_id", roomID, "user_id", userID)
	}
	t.updates.Publish(snap)
}

func (t *TypingTracker) snapshotLocked(roomID string) TypingSnapshot {
	room := t.rooms[roomID]
	users := make([]v1.TypingUser, 0, len(room))
	for _, e := range room {
		users = append(users, e.user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return TypingSnapshot{RoomID: roomID, Users: users}
}

// Snapshot returns the current typing set for a room.
func (t *TypingTracker) Snapshot(roomID string) []v1.TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(roomID).Users
}

// Reset drops a room's typing set and stops its timers.
func (t *TypingTracker) Reset(roomID string) {
	t.mu.Lock()
	room := t.rooms[roomID]
	for _, e := range room {
		e.timer.Stop()
	}
	delete(t.rooms, roomID)
	t.mu.Unlock()

	t.updates.Publish(TypingSnapshot{RoomID: roomID})
}

// Updates publishes the affected room's typing set after every change.
func (t *TypingTracker) Updates() *Feed[TypingSnapshot] { return t.updates }
