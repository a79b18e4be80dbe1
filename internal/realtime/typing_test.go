package realtime

import (
	"testing"
	"time"

	v1 "github.com/rama7993/quickchat/contracts/chat/v1"
)

func typingUser(userID, roomID string) v1.TypingUser {
	return v1.TypingUser{
		UserID:   userID,
		Username: "user-" + userID,
		RoomID:   roomID,
		IsTyping: true,
	}
}

func TestTypingExpiresWithoutStop(t *testing.T) {
	t.Parallel()

	tr := NewTypingTracker(testLogger(t), 250*time.Millisecond)
	tr.Apply(TypingEvent{User: typingUser("u1", "r1")})

	if got := tr.Snapshot("r1"); len(got) != 1 {
		t.Fatalf("typing set = %v want one entry", got)
	}

	// Well inside the window the entry must survive.
	time.Sleep(50 * time.Millisecond)
	if got := tr.Snapshot("r1"); len(got) != 1 {
		t.Fatalf("entry expired too early: %v", got)
	}

	waitUntil(t, 2*time.Second, func() bool { return len(tr.Snapshot("r1")) == 0 })
}

func TestTypingStopRemovesImmediately(t *testing.T) {
	t.Parallel()

	tr := NewTypingTracker(testLogger(t), time.Minute)
	tr.Apply(TypingEvent{User: typingUser("u1", "r1")})
	tr.Apply(TypingEvent{User: typingUser("u2", "r1")})

	tr.Apply(TypingEvent{User: typingUser("u1", "r1"), Stopped: true})

	got := tr.Snapshot("r1")
	if len(got) != 1 || got[0].UserID != "u2" {
		t.Fatalf("typing set = %v want only u2", got)
	}

	// Stop for an absent user is a no-op.
	tr.Apply(TypingEvent{User: typingUser("u9", "r1"), Stopped: true})
	if got := tr.Snapshot("r1"); len(got) != 1 {
		t.Fatalf("typing set = %v want one entry", got)
	}
}

func TestTypingRestartReplacesAndResetsTimer(t *testing.T) {
	t.Parallel()

	tr := NewTypingTracker(testLogger(t), 200*time.Millisecond)
	tr.Apply(TypingEvent{User: typingUser("u1", "r1")})

	time.Sleep(150 * time.Millisecond)
	refreshed := typingUser("u1", "r1")
	refreshed.Username = "renamed"
	tr.Apply(TypingEvent{User: refreshed})

	// 120ms after the refresh the original window has elapsed but the
	// refreshed one has not.
	time.Sleep(120 * time.Millisecond)
	got := tr.Snapshot("r1")
	if len(got) != 1 {
		t.Fatalf("entry gone after refresh: %v", got)
	}
	if got[0].Username != "renamed" {
		t.Fatalf("entry not replaced: %+v", got[0])
	}

	waitUntil(t, 2*time.Second, func() bool { return len(tr.Snapshot("r1")) == 0 })
}

func TestTypingRoomsAreIndependent(t *testing.T) {
	t.Parallel()

	tr := NewTypingTracker(testLogger(t), time.Minute)
	tr.Apply(TypingEvent{User: typingUser("u1", "r1")})
	tr.Apply(TypingEvent{User: typingUser("u1", "r2")})

	tr.Reset("r1")
	if got := tr.Snapshot("r1"); len(got) != 0 {
		t.Fatalf("r1 set = %v want empty after reset", got)
	}
	if got := tr.Snapshot("r2"); len(got) != 1 {
		t.Fatalf("r2 set = %v want untouched", got)
	}
}

func TestTypingUpdatesFeed(t *testing.T) {
	t.Parallel()

	tr := NewTypingTracker(testLogger(t), time.Minute)
	updates, cancel := tr.Updates().Subscribe()
	defer cancel()

	tr.Apply(TypingEvent{User: typingUser("u1", "r1")})
	snap := recvWithin(t, updates, time.Second)
	if snap.RoomID != "r1" || len(snap.Users) != 1 {
		t.Fatalf("snapshot = %+v want one u1 entry for r1", snap)
	}

	tr.Apply(TypingEvent{User: typingUser("u1", "r1"), Stopped: true})
	snap = recvWithin(t, updates, time.Second)
	if snap.RoomID != "r1" || len(snap.Users) != 0 {
		t.Fatalf("snapshot = %+v want empty set for r1", snap)
	}
}
