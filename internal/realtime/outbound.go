package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	v1 "github.com/rama7993/quickchat/contracts/chat/v1"
)

// ErrUploadTooLarge is returned when an attachment exceeds the single
// emission ceiling.
var ErrUploadTooLarge = errors.New("realtime: upload exceeds size ceiling")

// Reactor is the REST collaborator for reaction mutations. It returns the
// canonical updated message for immediate local patching.
type Reactor interface {
	React(ctx context.Context, messageID, emoji string) (v1.Message, error)
}

// MessagePatcher applies a canonical message to local state; implemented by
// the session controller.
type MessagePatcher interface {
	Patch(m v1.Message)
}

// SendOptions carries the optional fields of a send.
type SendOptions struct {
	// Type defaults to text.
	Type string
	// ReplyTo references the message being replied to.
	ReplyTo string
}

// UploadInput describes one attachment upload.
type UploadInput struct {
	Data        []byte
	FileName    string
	FileType    string
	MessageType string
	Target      Target
}

// UploadHandle tracks one in-flight upload. Events delivers progress until a
// completion or error event, after which the channel is closed. Cancel stops
// tracking (it does not abort the server-side upload).
type UploadHandle struct {
	ID     string
	Events <-chan UploadEvent
	Cancel func()
}

// Gateway translates user intents into stream emissions. It is stateless
// relative to the inbound pipeline: a send never appends locally, the
// server's echo through message_received is the single source of truth.
// The cost is one round-trip of visible latency for the sender's own
// message.
type Gateway struct {
	log      *slog.Logger
	mgr      *Manager
	uploads  *Feed[UploadEvent]
	reactor  Reactor
	patcher  MessagePatcher
	selfID   string
	username string
}

// NewGateway constructs a gateway. reactor and patcher may be nil when
// reactions are not used.
func NewGateway(log *slog.Logger, mgr *Manager, disp *Dispatcher, reactor Reactor, patcher MessagePatcher, selfID, username string) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		log:      log,
		mgr:      mgr,
		uploads:  disp.Uploads(),
		reactor:  reactor,
		patcher:  patcher,
		selfID:   selfID,
		username: username,
	}
}

// Send emits a send_message event. The message appears in the canonical
// list only once the server echoes it back.
func (g *Gateway) Send(ctx context.Context, target Target, content string, opts SendOptions) error {
	if err := target.Validate(); err != nil {
		return err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.New("realtime: empty content")
	}
	if len([]rune(content)) > maxMessageChars {
		return fmt.Errorf("realtime: message too long: max=%d chars", maxMessageChars)
	}

	typ := opts.Type
	if typ == "" {
		typ = v1.MessageTypeText
	}

	return g.mgr.Emit(ctx, v1.EventSendMessage, v1.SendMessagePayload{
		Content:    content,
		ReceiverID: target.UserID,
		GroupID:    target.GroupID,
		Type:       typ,
		ReplyTo:    opts.ReplyTo,
		Timestamp:  time.Now().UTC(),
	})
}

// Edit emits an update_message event; the edited message comes back through
// message_updated.
func (g *Gateway) Edit(ctx context.Context, messageID, content string) error {
	if messageID == "" {
		return errors.New("realtime: missing message id")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.New("realtime: empty content")
	}
	return g.mgr.Emit(ctx, v1.EventUpdateMessage, v1.UpdateMessagePayload{
		MessageID: messageID,
		Content:   content,
		UserID:    g.selfID,
	})
}

// Delete emits a delete_message event; removal happens when the
// message_deleted sentinel comes back.
func (g *Gateway) Delete(ctx context.Context, messageID string) error {
	if messageID == "" {
		return errors.New("realtime: missing message id")
	}
	return g.mgr.Emit(ctx, v1.EventDeleteMessage, v1.DeleteMessagePayload{
		MessageID: messageID,
		UserID:    g.selfID,
	})
}

// MarkRead emits a mark_message_read event.
func (g *Gateway) MarkRead(ctx context.Context, messageID, roomID string) error {
	if messageID == "" || roomID == "" {
		return errors.New("realtime: missing message or room id")
	}
	return g.mgr.Emit(ctx, v1.EventMarkMessageRead, v1.MarkReadPayload{
		MessageID: messageID,
		RoomID:    roomID,
		UserID:    g.selfID,
	})
}

// StartTyping announces the local user is typing to the target.
func (g *Gateway) StartTyping(ctx context.Context, target Target) error {
	return g.emitTyping(ctx, v1.EventStartTyping, target)
}

// StopTyping clears the local user's typing state for the target.
func (g *Gateway) StopTyping(ctx context.Context, target Target) error {
	return g.emitTyping(ctx, v1.EventStopTyping, target)
}

func (g *Gateway) emitTyping(ctx context.Context, event string, target Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	return g.mgr.Emit(ctx, event, v1.TypingPayload{
		ReceiverID: target.UserID,
		GroupID:    target.GroupID,
		UserID:     g.selfID,
		Username:   g.username,
	})
}

// React mutates a reaction over REST and patches the returned canonical
// message into local state immediately; redelivery of the corresponding
// message_updated event later is idempotent.
func (g *Gateway) React(ctx context.Context, messageID, emoji string) (v1.Message, error) {
	if g.reactor == nil {
		return v1.Message{}, errors.New("realtime: no reactor configured")
	}
	if messageID == "" || emoji == "" {
		return v1.Message{}, errors.New("realtime: missing message id or emoji")
	}

	msg, err := g.reactor.React(ctx, messageID, emoji)
	if err != nil {
		return v1.Message{}, fmt.Errorf("react: %w", err)
	}
	if g.patcher != nil {
		g.patcher.Patch(msg)
	}
	return msg, nil
}

// Upload ships an attachment as one base64 emission tagged with a generated
// correlation id, and returns a handle streaming that upload's progress,
// completion, or error events.
func (g *Gateway) Upload(ctx context.Context, in UploadInput) (*UploadHandle, error) {
	if err := in.Target.Validate(); err != nil {
		return nil, err
	}
	if len(in.Data) == 0 {
		return nil, errors.New("realtime: empty upload")
	}
	if len(in.Data) > maxUploadBytes {
		return nil, ErrUploadTooLarge
	}

	roomID := GroupRoomID(in.Target.GroupID)
	if !in.Target.IsGroup() {
		roomID = PrivateRoomID(g.selfID, in.Target.UserID)
	}

	messageType := in.MessageType
	if messageType == "" {
		messageType = v1.MessageTypeFile
	}

	uploadID := uuid.NewString()
	handle := g.trackUpload(uploadID)

	err := g.mgr.Emit(ctx, v1.EventUploadFile, v1.UploadFilePayload{
		UploadID:    uploadID,
		FileData:    base64.StdEncoding.EncodeToString(in.Data),
		FileName:    in.FileName,
		FileSize:    int64(len(in.Data)),
		FileType:    in.FileType,
		RoomID:      roomID,
		MessageType: messageType,
		UserID:      g.selfID,
		IsGroupChat: in.Target.IsGroup(),
	})
	if err != nil {
		handle.Cancel()
		return nil, err
	}

	g.log.Info("upload.start", "upload_id", uploadID, "file", in.FileName, "bytes", len(in.Data))
	return handle, nil
}

// trackUpload filters the shared upload feed down to one correlation id.
// The subscription starts before the emission so no event can be missed.
func (g *Gateway) trackUpload(uploadID string) *UploadHandle {
	events, cancelSub := g.uploads.Subscribe()
	out := make(chan UploadEvent, defaultFeedQueueSize)
	done := make(chan struct{})

	go func() {
		defer cancelSub()
		defer close(out)
		for {
			select {
			case <-done:
				return
			case ev := <-events:
				if ev.UploadID != uploadID {
					continue
				}
				select {
				case out <- ev:
				default:
				}
				if ev.Complete || ev.Err != "" {
					return
				}
			}
		}
	}()

	var closeOnce sync.Once
	return &UploadHandle{
		ID:     uploadID,
		Events: out,
		Cancel: func() {
			closeOnce.Do(func() { close(done) })
		},
	}
}
