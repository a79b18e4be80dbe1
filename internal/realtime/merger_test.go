package realtime

import (
	"fmt"
	"testing"
	"time"

	v1 "github.com/rama7993/quickchat/contracts/chat/v1"
)

var mergerBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func chatMsg(id, sender string, at time.Duration) v1.Message {
	return v1.Message{
		ID:        id,
		Sender:    v1.UserRef{ID: sender},
		Content:   "msg " + id,
		Timestamp: mergerBase.Add(at),
	}
}

func idsOf(list []v1.Message) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}

func TestMergerDedupIdempotence(t *testing.T) {
	t.Parallel()

	g := NewMerger(testLogger(t), "me")
	m := chatMsg("m1", "peer", 0)

	g.Apply(MessageEvent{Message: m})
	g.Apply(MessageEvent{Message: m})
	g.Apply(MessageEvent{Message: m})

	if got := g.Len(); got != 1 {
		t.Fatalf("list length = %d want 1 after redelivery", got)
	}
}

func TestMergerOrderConvergence(t *testing.T) {
	t.Parallel()

	g := NewMerger(testLogger(t), "me")

	// A live event with an intermediate timestamp lands before the history
	// page containing its neighbours. The final order must be timestamp
	// ascending regardless of arrival order.
	live := chatMsg("m4", "peer", 2500*time.Millisecond)
	g.Apply(MessageEvent{Message: live})
	for i, d := range []time.Duration{0, time.Second, 3 * time.Second} {
		g.Apply(MessageEvent{Message: chatMsg(fmt.Sprintf("m%d", i+1), "peer", d)})
	}

	want := []string{"m1", "m2", "m4", "m3"}
	got := idsOf(g.Snapshot())
	if len(got) != len(want) {
		t.Fatalf("list = %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("list = %v want %v", got, want)
		}
	}

	// Redelivering the live event must not perturb the converged list.
	g.Apply(MessageEvent{Message: live})
	if g.Len() != 4 {
		t.Fatalf("list length = %d want 4 after redelivery", g.Len())
	}
}

func TestMergerDeleteRemoves(t *testing.T) {
	t.Parallel()

	g := NewMerger(testLogger(t), "me")
	g.Apply(MessageEvent{Message: chatMsg("m1", "peer", 0)})
	g.Apply(MessageEvent{Message: chatMsg("m2", "peer", time.Second)})

	g.Apply(MessageEvent{Deleted: true, DeletedID: "m1"})
	if got := idsOf(g.Snapshot()); len(got) != 1 || got[0] != "m2" {
		t.Fatalf("list = %v want [m2]", got)
	}

	// Unknown id and redelivered delete are both no-ops.
	g.Apply(MessageEvent{Deleted: true, DeletedID: "m1"})
	g.Apply(MessageEvent{Deleted: true, DeletedID: "missing"})
	if g.Len() != 1 {
		t.Fatalf("list length = %d want 1", g.Len())
	}
}

func TestMergerUpdateInPlace(t *testing.T) {
	t.Parallel()

	g := NewMerger(testLogger(t), "me")
	g.Apply(MessageEvent{Message: chatMsg("m1", "peer", 0)})

	edited := chatMsg("m1", "peer", 0)
	edited.Content = "edited"
	edited.Edited = true
	g.Apply(MessageEvent{Message: edited, Updated: true})

	snap := g.Snapshot()
	if len(snap) != 1 || snap[0].Content != "edited" || !snap[0].Edited {
		t.Fatalf("update not applied in place: %+v", snap)
	}

	// Updates for unknown ids never insert.
	stranger := chatMsg("m9", "peer", time.Second)
	g.Apply(MessageEvent{Message: stranger, Updated: true})
	if g.Len() != 1 {
		t.Fatalf("list length = %d want 1 after unknown-id update", g.Len())
	}
}

func TestMergerResetClearsLedger(t *testing.T) {
	t.Parallel()

	g := NewMerger(testLogger(t), "me")
	m := chatMsg("m1", "peer", 0)
	g.Apply(MessageEvent{Message: m})

	g.Reset()
	if g.Len() != 0 {
		t.Fatalf("list length = %d want 0 after reset", g.Len())
	}

	// A fingerprint recorded before the reset must not suppress the same
	// message in the fresh list.
	g.Apply(MessageEvent{Message: m})
	if g.Len() != 1 {
		t.Fatalf("list length = %d want 1 after re-insert", g.Len())
	}
}

func TestMergerLedgerEviction(t *testing.T) {
	t.Parallel()

	g := NewMerger(testLogger(t), "me")
	for i := 0; i < ledgerMaxEntries+20; i++ {
		g.Apply(MessageEvent{Message: chatMsg(fmt.Sprintf("m%03d", i), "peer", time.Duration(i)*time.Second)})
	}

	if got := g.Len(); got != ledgerMaxEntries+20 {
		t.Fatalf("list length = %d want %d", got, ledgerMaxEntries+20)
	}

	// The oldest fingerprints were evicted, but redelivery of an early
	// message is still caught by the identifier match against the list.
	g.Apply(MessageEvent{Message: chatMsg("m000", "peer", 0)})
	if got := g.Len(); got != ledgerMaxEntries+20 {
		t.Fatalf("list length = %d want %d after redelivering evicted message", got, ledgerMaxEntries+20)
	}
}

func TestMergerSoundCues(t *testing.T) {
	t.Parallel()

	g := NewMerger(testLogger(t), "me")
	cues, cancel := g.Cues().Subscribe()
	defer cancel()

	// Own echoed message: silent.
	g.Apply(MessageEvent{Message: chatMsg("m1", "me", 0)})
	select {
	case <-cues:
		t.Fatalf("unexpected cue for own message")
	default:
	}

	// Foreign group message: cue tagged as group.
	m := chatMsg("m2", "peer", time.Second)
	m.Group = &v1.GroupRef{ID: "g1"}
	g.Apply(MessageEvent{Message: m})
	select {
	case cue := <-cues:
		if !cue.Group {
			t.Fatalf("expected group cue, got %+v", cue)
		}
	default:
		t.Fatalf("expected a cue for a foreign message")
	}

	// Duplicate of the same foreign message: silent.
	g.Apply(MessageEvent{Message: m})
	select {
	case <-cues:
		t.Fatalf("unexpected cue for duplicate message")
	default:
	}
}
