package realtime

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"

	v1 "github.com/rama7993/quickchat/contracts/chat/v1"
)

// MessageEvent is one item of the message feed. Exactly one of the three
// shapes is populated:
//   - insert: Message set, Updated and Deleted false
//   - update: Message set, Updated true
//   - delete sentinel: Deleted true, DeletedID set, Message zero
type MessageEvent struct {
	Message   v1.Message
	Updated   bool
	Deleted   bool
	DeletedID string
}

// TypingEvent is one item of the typing feed.
type TypingEvent struct {
	User    v1.TypingUser
	Stopped bool
}

// PresenceKind tags the variant of a PresenceEvent.
type PresenceKind uint8

const (
	// PresenceRoster replaces the whole online-user set.
	PresenceRoster PresenceKind = iota
	// PresenceOnline adds one user.
	PresenceOnline
	// PresenceOffline removes one user.
	PresenceOffline
)

// PresenceEvent is one item of the presence feed.
type PresenceEvent struct {
	Kind   PresenceKind
	Roster []v1.OnlineUser
	User   v1.OnlineUser
	UserID string
}

// UploadEvent is one item of the upload feed, routed from the per-upload
// event names by prefix.
type UploadEvent struct {
	UploadID string
	Progress int
	Complete bool
	Result   v1.Message
	Err      string
}

// Dispatcher demultiplexes the raw envelope stream into four independent
// typed feeds. Payloads are validated and coerced at this boundary;
// malformed payloads are logged and dropped, never propagated downstream.
//
// The dispatcher re-attaches its listeners on every reconnect. Each attach
// cycle removes all existing listeners first and bumps a generation counter
// so a stale handler can never deliver twice.
type Dispatcher struct {
	log *slog.Logger
	gen atomic.Uint64

	messages *Feed[MessageEvent]
	typing   *Feed[TypingEvent]
	presence *Feed[PresenceEvent]
	uploads  *Feed[UploadEvent]
}

// NewDispatcher constructs a dispatcher bound to mgr and attaches its
// listeners, now and after every reconnect.
func NewDispatcher(log *slog.Logger, mgr *Manager) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		log:      log,
		messages: NewFeed[MessageEvent](defaultFeedQueueSize, 0),
		typing:   NewFeed[TypingEvent](defaultFeedQueueSize, 0),
		presence: NewFeed[PresenceEvent](defaultFeedQueueSize, 1),
		uploads:  NewFeed[UploadEvent](defaultFeedQueueSize, 0),
	}
	d.attach(mgr)
	mgr.OnConnected(func() { d.attach(mgr) })
	return d
}

// Messages is the message feed (inserts, updates, delete sentinels).
func (d *Dispatcher) Messages() *Feed[MessageEvent] { return d.messages }

// Typing is the typing-indicator feed.
func (d *Dispatcher) Typing() *Feed[TypingEvent] { return d.typing }

// Presence is the online-user feed. The last roster is replayed to late
// subscribers.
func (d *Dispatcher) Presence() *Feed[PresenceEvent] { return d.presence }

// Uploads is the per-upload progress/completion/error feed.
func (d *Dispatcher) Uploads() *Feed[UploadEvent] { return d.uploads }

// attach wires the typed routes into the manager's listener registry.
// Detach-before-attach: repeated initialization without clearing old
// listeners multiplies event delivery, so the registry is cleared first and
// handlers from earlier generations drop their deliveries.
func (d *Dispatcher) attach(mgr *Manager) {
	mgr.RemoveAllListeners()
	gen := d.gen.Add(1)

	guard := func(fn Listener) Listener {
		return func(env v1.Envelope) {
			if d.gen.Load() != gen {
				return
			}
			d.count(env.Event)
			fn(env)
		}
	}

	mgr.On(v1.EventMessageReceived, guard(d.onMessage))
	mgr.On(v1.EventMessageUpdated, guard(d.onMessageUpdated))
	mgr.On(v1.EventMessageDeleted, guard(d.onMessageDeleted))

	mgr.On(v1.EventUserTyping, guard(d.onTyping(false)))
	mgr.On(v1.EventUserStoppedTyping, guard(d.onTyping(true)))

	mgr.On(v1.EventOnlineUsers, guard(d.onOnlineUsers))
	mgr.On(v1.EventUserOnline, guard(d.onUserOnline))
	mgr.On(v1.EventUserOffline, guard(d.onUserOffline))

	mgr.OnPrefix(v1.EventUploadProgressPrefix, guard(d.onUploadProgress))
	mgr.OnPrefix(v1.EventUploadCompletePrefix, guard(d.onUploadComplete))
	mgr.OnPrefix(v1.EventUploadErrorPrefix, guard(d.onUploadError))
}

func (d *Dispatcher) count(event string) {
	switch {
	case strings.HasPrefix(event, v1.EventUploadProgressPrefix):
		event = "upload_progress"
	case strings.HasPrefix(event, v1.EventUploadCompletePrefix):
		event = "upload_complete"
	case strings.HasPrefix(event, v1.EventUploadErrorPrefix):
		event = "upload_error"
	}
	metricEventsReceived.WithLabelValues(event).Inc()
}

func (d *Dispatcher) decode(env v1.Envelope, out any) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		metricDecodeFailures.Inc()
		d.log.Info("dispatch.decode.fail", "event", env.Event, "err", err)
		return false
	}
	return true
}

// ---- message routes ----

func (d *Dispatcher) onMessage(env v1.Envelope) {
	var msg v1.Message
	if !d.decode(env, &msg) {
		return
	}
	if msg.ID == "" {
		d.log.Info("dispatch.message.no_id", "event", env.Event)
		return
	}
	d.messages.Publish(MessageEvent{Message: msg})
}

func (d *Dispatcher) onMessageUpdated(env v1.Envelope) {
	var msg v1.Message
	if !d.decode(env, &msg) {
		return
	}
	if msg.ID == "" {
		d.log.Info("dispatch.message.no_id", "event", env.Event)
		return
	}
	d.messages.Publish(MessageEvent{Message: msg, Updated: true})
}

func (d *Dispatcher) onMessageDeleted(env v1.Envelope) {
	var p v1.MessageDeletedPayload
	if !d.decode(env, &p) {
		return
	}
	if p.MessageID == "" {
		d.log.Info("dispatch.delete.no_id")
		return
	}
	d.messages.Publish(MessageEvent{Deleted: true, DeletedID: p.MessageID})
}

// ---- typing routes ----

func (d *Dispatcher) onTyping(stopped bool) Listener {
	return func(env v1.Envelope) {
		var u v1.TypingUser
		if !d.decode(env, &u) {
			return
		}
		if u.UserID == "" {
			return
		}
		d.typing.Publish(TypingEvent{User: u, Stopped: stopped})
	}
}

// ---- presence routes ----

func (d *Dispatcher) onOnlineUsers(env v1.Envelope) {
	var roster []v1.OnlineUser
	if !d.decode(env, &roster) {
		return
	}
	d.presence.Publish(PresenceEvent{Kind: PresenceRoster, Roster: roster})
}

func (d *Dispatcher) onUserOnline(env v1.Envelope) {
	var u v1.OnlineUser
	if !d.decode(env, &u) {
		return
	}
	if u.UserID == "" {
		return
	}
	d.presence.Publish(PresenceEvent{Kind: PresenceOnline, User: u})
}

func (d *Dispatcher) onUserOffline(env v1.Envelope) {
	var p v1.UserOfflinePayload
	if !d.decode(env, &p) {
		return
	}
	if p.UserID == "" {
		return
	}
	d.presence.Publish(PresenceEvent{Kind: PresenceOffline, UserID: p.UserID})
}

// ---- upload routes ----

func (d *Dispatcher) onUploadProgress(env v1.Envelope) {
	id := strings.TrimPrefix(env.Event, v1.EventUploadProgressPrefix)
	var p v1.UploadProgressPayload
	if !d.decode(env, &p) {
		return
	}
	d.uploads.Publish(UploadEvent{UploadID: id, Progress: p.Progress})
}

func (d *Dispatcher) onUploadComplete(env v1.Envelope) {
	id := strings.TrimPrefix(env.Event, v1.EventUploadCompletePrefix)
	var p v1.UploadCompletePayload
	if !d.decode(env, &p) {
		return
	}
	d.uploads.Publish(UploadEvent{UploadID: id, Complete: true, Progress: 100, Result: p.Result})
}

func (d *Dispatcher) onUploadError(env v1.Envelope) {
	id := strings.TrimPrefix(env.Event, v1.EventUploadErrorPrefix)
	var p v1.UploadErrorPayload
	if !d.decode(env, &p) {
		return
	}
	if p.Error == "" {
		p.Error = "upload failed"
	}
	d.uploads.Publish(UploadEvent{UploadID: id, Err: p.Error})
}
