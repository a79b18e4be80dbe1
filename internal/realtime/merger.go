package realtime

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	v1 "github.com/rama7993/quickchat/contracts/chat/v1"
)

// SoundCue signals that a message from another user entered the canonical
// list, tagged by conversation kind for cue selection.
type SoundCue struct {
	Group bool
}

// Merger maintains the canonical, ordered, duplicate-free message list for
// the active conversation. It merges three sources through one insert path:
// REST history pages, live stream events, and the server echo of the local
// user's own sends.
//
// The merger exclusively owns the list and the processed-message ledger.
// Consumers only ever receive snapshots.
type Merger struct {
	log  *slog.Logger
	self string

	mu   sync.Mutex
	list []v1.Message

	// Processed-message ledger: insertion-ordered fingerprint keys plus a
	// lookup set. Bounded; the oldest half is evicted past the cap.
	keys []string
	seen map[string]struct{}

	updates *Feed[[]v1.Message]
	cues    *Feed[SoundCue]
}

// NewMerger constructs a merger. selfID is the local user id, used to
// suppress sound cues for the user's own echoed messages.
func NewMerger(log *slog.Logger, selfID string) *Merger {
	if log == nil {
		log = slog.Default()
	}
	return &Merger{
		log:     log,
		self:    selfID,
		seen:    make(map[string]struct{}, ledgerMaxEntries),
		updates: NewFeed[[]v1.Message](defaultFeedQueueSize, 1),
		cues:    NewFeed[SoundCue](defaultFeedQueueSize, 0),
	}
}

// fingerprintOf composes the dedup key: identifier + display timestamp +
// sender identifier. Distinct from the message's own identifier so that a
// re-emission with a drifted timestamp is still caught by the id match.
func fingerprintOf(m v1.Message) string {
	return m.ID + "|" + m.DisplayTime().UTC().Format(time.RFC3339Nano) + "|" + m.Sender.ID
}

// Apply processes one inbound message event.
func (g *Merger) Apply(ev MessageEvent) {
	g.mu.Lock()

	var cue *SoundCue
	switch {
	case ev.Deleted:
		g.removeLocked(ev.DeletedID)
	case ev.Updated:
		g.replaceLocked(ev.Message)
	default:
		if g.insertLocked(ev.Message) && ev.Message.Sender.ID != g.self {
			cue = &SoundCue{Group: ev.Message.Group != nil}
		}
	}
	snap := g.snapshotLocked()
	g.mu.Unlock()

	g.updates.Publish(snap)
	if cue != nil {
		g.cues.Publish(*cue)
	}
}

// insertLocked runs the dedup-then-merge algorithm. Reports whether the
// message entered the canonical list.
func (g *Merger) insertLocked(m v1.Message) bool {
	fp := fingerprintOf(m)
	if _, dup := g.seen[fp]; dup {
		metricDuplicatesDropped.Inc()
		g.log.Debug("merge.duplicate.drop", "message_id", m.ID, "via", "ledger")
		return false
	}

	// Defense in depth: the fingerprint can drift across representations
	// (timestamp serialization differences), the identifier cannot.
	for i := range g.list {
		if g.list[i].ID == m.ID {
			metricDuplicatesDropped.Inc()
			g.log.Debug("merge.duplicate.drop", "message_id", m.ID, "via", "list")
			return false
		}
	}

	g.rememberLocked(fp)
	g.list = append(g.list, m)
	sort.SliceStable(g.list, func(i, j int) bool { return g.list[i].Before(g.list[j]) })
	metricMessagesMerged.Inc()
	return true
}

// rememberLocked records a fingerprint, evicting the oldest half once the
// ledger exceeds its cap.
func (g *Merger) rememberLocked(fp string) {
	g.keys = append(g.keys, fp)
	g.seen[fp] = struct{}{}

	if len(g.keys) <= ledgerMaxEntries {
		return
	}
	kept := g.keys[len(g.keys)-ledgerKeepEntries:]
	g.keys = append(make([]string, 0, ledgerMaxEntries+1), kept...)
	g.seen = make(map[string]struct{}, ledgerMaxEntries)
	for _, k := range g.keys {
		g.seen[k] = struct{}{}
	}
}

// replaceLocked swaps an edited/reacted message in place. Idempotent:
// redelivery or an unknown identifier changes nothing structurally.
func (g *Merger) replaceLocked(m v1.Message) {
	for i := range g.list {
		if g.list[i].ID == m.ID {
			g.list[i] = m
			return
		}
	}
	g.log.Debug("merge.update.unknown", "message_id", m.ID)
}

func (g *Merger) removeLocked(id string) {
	for i := range g.list {
		if g.list[i].ID == id {
			g.list = append(g.list[:i], g.list[i+1:]...)
			return
		}
	}
	// Unknown id: no-op, deletes are idempotent.
}

// Reset clears the canonical list and the ledger together. Stale
// fingerprints from a previous room must not suppress legitimate messages
// in a new one.
func (g *Merger) Reset() {
	g.mu.Lock()
	g.list = nil
	g.keys = nil
	g.seen = make(map[string]struct{}, ledgerMaxEntries)
	snap := g.snapshotLocked()
	g.mu.Unlock()

	g.updates.Publish(snap)
}

func (g *Merger) snapshotLocked() []v1.Message {
	return append([]v1.Message(nil), g.list...)
}

// Snapshot returns a copy of the canonical list. Consumers must treat it as
// a point-in-time snapshot, not an append log.
func (g *Merger) Snapshot() []v1.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

// Len reports the canonical list length.
func (g *Merger) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.list)
}

// Updates publishes a fresh snapshot after every mutation; the latest one is
// replayed to late subscribers.
func (g *Merger) Updates() *Feed[[]v1.Message] { return g.updates }

// Cues signals inserts not authored by the local user.
func (g *Merger) Cues() *Feed[SoundCue] { return g.cues }
