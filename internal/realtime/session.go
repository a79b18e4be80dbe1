package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	v1 "github.com/rama7993/quickchat/contracts/chat/v1"
)

// ErrInvalidTarget is returned when a conversation target does not name
// exactly one of a peer user or a group.
var ErrInvalidTarget = errors.New("realtime: target must name exactly one of user or group")

const groupRoomPrefix = "group_"

// Target selects a conversation: a private-chat peer or a group. Exactly one
// field is set.
type Target struct {
	UserID  string
	GroupID string
}

// Validate enforces the tagged-union invariant.
func (t Target) Validate() error {
	if (t.UserID == "") == (t.GroupID == "") {
		return ErrInvalidTarget
	}
	return nil
}

// IsGroup reports whether the target is a group conversation.
func (t Target) IsGroup() bool { return t.GroupID != "" }

// Equal reports whether two targets select the same conversation.
func (t Target) Equal(o Target) bool { return t == o }

// PrivateRoomID derives the room id both peers compute independently:
// the two participant ids sorted lexicographically and joined, so no
// negotiation round-trip is needed.
func PrivateRoomID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// GroupRoomID derives the room id for a group conversation.
func GroupRoomID(groupID string) string { return groupRoomPrefix + groupID }

// HistoryQuery describes one REST history page request. Exactly one of
// PeerID or GroupID is set. Page starts at 1, newest page first.
type HistoryQuery struct {
	PeerID  string
	GroupID string
	Page    int
	Limit   int
}

// HistoryFetcher is the paginated REST collaborator for message history.
type HistoryFetcher interface {
	History(ctx context.Context, q HistoryQuery) ([]v1.Message, error)
}

// SessionDeps are the collaborators a Session orchestrates.
type SessionDeps struct {
	Manager    *Manager
	Dispatcher *Dispatcher
	Merger     *Merger
	Typing     *TypingTracker
	History    HistoryFetcher

	// SelfID is the authenticated local user id.
	SelfID string

	// HistoryPageSize bounds each history fetch (default 50).
	HistoryPageSize int
}

// Session owns the transition between conversations and gates when the
// canonical list is cleared versus preserved. It is the only component that
// routes dispatcher events into the merger and the typing tracker, which
// lets it scope them to the open room.
type Session struct {
	log  *slog.Logger
	deps SessionDeps

	mu      sync.Mutex
	current *Target
	room    string
	page    int
}

// NewSession constructs a session controller. Call Run to start routing.
func NewSession(log *slog.Logger, deps SessionDeps) *Session {
	if log == nil {
		log = slog.Default()
	}
	if deps.HistoryPageSize <= 0 {
		deps.HistoryPageSize = defaultHistoryPageSize
	}
	return &Session{log: log, deps: deps}
}

// Run pumps dispatcher feeds into the merger and typing tracker and
// re-syncs history after every reconnect. Blocks until ctx is done.
func (s *Session) Run(ctx context.Context) {
	msgs, cancelMsgs := s.deps.Dispatcher.Messages().Subscribe()
	defer cancelMsgs()
	typing, cancelTyping := s.deps.Dispatcher.Typing().Subscribe()
	defer cancelTyping()
	status, cancelStatus := s.deps.Manager.Status().Subscribe()
	defer cancelStatus()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-msgs:
			s.routeMessage(ev)
		case ev := <-typing:
			s.deps.Typing.Apply(ev)
		case up := <-status:
			if up {
				s.resync(ctx)
			}
		}
	}
}

// routeMessage scopes an inbound message event to the open room before it
// can touch the canonical list or the ledger. A late event for an abandoned
// room is dropped here, not merged.
func (s *Session) routeMessage(ev MessageEvent) {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()

	if room == "" {
		return
	}

	if ev.Deleted {
		// The sentinel carries only the id; removal of an unknown id is a
		// no-op, so no room check is needed.
		s.deps.Merger.Apply(ev)
		return
	}

	if s.roomOfMessage(ev.Message) != room {
		s.log.Debug("session.message.foreign_room", "message_id", ev.Message.ID)
		return
	}
	s.deps.Merger.Apply(ev)
}

// roomOfMessage recomputes the room a message belongs to from its
// participants.
func (s *Session) roomOfMessage(m v1.Message) string {
	if m.Group != nil {
		return GroupRoomID(m.Group.ID)
	}
	if m.Receiver != nil {
		return PrivateRoomID(m.Sender.ID, m.Receiver.ID)
	}
	return ""
}

func (s *Session) roomOf(t Target) string {
	if t.IsGroup() {
		return GroupRoomID(t.GroupID)
	}
	return PrivateRoomID(s.deps.SelfID, t.UserID)
}

// Open switches the active conversation.
//
// Opening the target that is already open preserves the existing list and
// ledger (route-parameter churn must not re-trigger full reloads).
// Otherwise: leave the previous room, clear list and ledger, join the new
// room, then feed the newest history page through the merger's insert path.
// A live message that lands during the fetch and the page's copy of it
// deduplicate against each other in either arrival order.
func (s *Session) Open(ctx context.Context, target Target) error {
	if err := target.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.current != nil && s.current.Equal(target) {
		s.mu.Unlock()
		s.log.Info("session.open.noop", "room_id", s.room)
		return nil
	}
	prev := s.current
	prevRoom := s.room
	newRoom := s.roomOf(target)
	s.current = &target
	s.room = newRoom
	s.page = 1
	s.mu.Unlock()

	if prev != nil {
		if err := s.deps.Manager.LeaveRoom(ctx, v1.LeaveRoomPayload{
			RoomID: prevRoom,
			UserID: s.deps.SelfID,
		}); err != nil && !errors.Is(err, ErrNotConnected) {
			s.log.Info("session.leave.fail", "room_id", prevRoom, "err", err)
		}
		s.deps.Typing.Reset(prevRoom)
	}

	s.deps.Merger.Reset()

	roomType := v1.RoomTypePrivate
	if target.IsGroup() {
		roomType = v1.RoomTypeGroup
	}
	if err := s.deps.Manager.JoinRoom(ctx, v1.JoinRoomPayload{
		RoomID:   newRoom,
		RoomType: roomType,
		UserID:   s.deps.SelfID,
	}); err != nil {
		// The room stays tracked for re-subscription; history still loads.
		s.log.Info("session.join.deferred", "room_id", newRoom, "err", err)
	}

	s.log.Info("session.open", "room_id", newRoom, "room_type", roomType)
	return s.fetchHistory(ctx, target, 1)
}

// LoadOlder fetches the next older history page for the open conversation
// through the same dedup path.
func (s *Session) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return errors.New("realtime: no open conversation")
	}
	target := *s.current
	s.page++
	page := s.page
	s.mu.Unlock()

	return s.fetchHistory(ctx, target, page)
}

func (s *Session) fetchHistory(ctx context.Context, target Target, page int) error {
	q := HistoryQuery{
		PeerID:  target.UserID,
		GroupID: target.GroupID,
		Page:    page,
		Limit:   s.deps.HistoryPageSize,
	}
	msgs, err := s.deps.History.History(ctx, q)
	if err != nil {
		return fmt.Errorf("history fetch: %w", err)
	}

	for _, m := range msgs {
		s.routeMessage(MessageEvent{Message: m})
	}
	return nil
}

// resync re-fetches the newest history page after a reconnect. There is no
// event replay protocol; whatever was missed during the gap is recovered
// here and anything already present deduplicates.
func (s *Session) resync(ctx context.Context) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return
	}
	target := *s.current
	room := s.room
	s.mu.Unlock()

	s.log.Info("session.resync", "room_id", room)
	if err := s.fetchHistory(ctx, target, 1); err != nil {
		s.log.Info("session.resync.fail", "room_id", room, "err", err)
	}
}

// ---- read-only views ----

// Current returns the open target, if any.
func (s *Session) Current() (Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Target{}, false
	}
	return *s.current, true
}

// RoomID returns the open room id, or "".
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Messages returns a snapshot of the canonical list.
func (s *Session) Messages() []v1.Message { return s.deps.Merger.Snapshot() }

// Updates is the canonical-list snapshot feed.
func (s *Session) Updates() *Feed[[]v1.Message] { return s.deps.Merger.Updates() }

// Cues is the notification sound-cue feed.
func (s *Session) Cues() *Feed[SoundCue] { return s.deps.Merger.Cues() }

// TypingUsers returns the typing set of the open room.
func (s *Session) TypingUsers() []v1.TypingUser {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == "" {
		return nil
	}
	return s.deps.Typing.Snapshot(room)
}

// TypingUpdates is the typing-set feed (all rooms; filter by RoomID).
func (s *Session) TypingUpdates() *Feed[TypingSnapshot] { return s.deps.Typing.Updates() }

// Patch applies a canonical message returned by a REST mutation (e.g. a
// reaction) through the merger's update path.
func (s *Session) Patch(m v1.Message) {
	if m.ID == "" {
		return
	}
	s.deps.Merger.Apply(MessageEvent{Message: m, Updated: true})
}
