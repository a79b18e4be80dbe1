// Package v1 defines the QuickChat realtime wire contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the sync engine and server implementations to keep
// the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Outbound event names (client -> server, wire-stable).
const (
	// EventJoinRoom subscribes the session to a room's event delivery.
	EventJoinRoom = "join_room"
	// EventLeaveRoom removes the session's interest in a room.
	EventLeaveRoom = "leave_room"

	// EventSendMessage requests delivery of a new message.
	EventSendMessage = "send_message"
	// EventUpdateMessage edits an existing message's content.
	EventUpdateMessage = "update_message"
	// EventDeleteMessage soft-deletes a message.
	EventDeleteMessage = "delete_message"
	// EventMarkMessageRead records a read receipt.
	EventMarkMessageRead = "mark_message_read"

	// EventStartTyping announces the local user started typing.
	EventStartTyping = "start_typing"
	// EventStopTyping announces the local user stopped typing.
	EventStopTyping = "stop_typing"

	// EventUploadFile ships a whole attachment in one emission.
	EventUploadFile = "upload_file"
)

// Inbound event names (server -> client, wire-stable).
const (
	EventMessageReceived = "message_received"
	EventMessageUpdated  = "message_updated"
	EventMessageDeleted  = "message_deleted"

	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"

	EventOnlineUsers = "online_users"
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"

	EventAuthenticated       = "authenticated"
	EventAuthenticationError = "authentication_error"
)

// Per-upload event name prefixes. The full event name is the prefix followed
// by the upload correlation id, e.g. "upload_progress_8f14e45f".
const (
	EventUploadProgressPrefix = "upload_progress_"
	EventUploadCompletePrefix = "upload_complete_"
	EventUploadErrorPrefix    = "upload_error_"
)

var knownEvents = map[string]struct{}{
	EventJoinRoom:            {},
	EventLeaveRoom:           {},
	EventSendMessage:         {},
	EventUpdateMessage:       {},
	EventDeleteMessage:       {},
	EventMarkMessageRead:     {},
	EventStartTyping:         {},
	EventStopTyping:          {},
	EventUploadFile:          {},
	EventMessageReceived:     {},
	EventMessageUpdated:      {},
	EventMessageDeleted:      {},
	EventUserTyping:          {},
	EventUserStoppedTyping:   {},
	EventOnlineUsers:         {},
	EventUserOnline:          {},
	EventUserOffline:         {},
	EventAuthenticated:       {},
	EventAuthenticationError: {},
}

// Envelope is the canonical wire wrapper for every event in both directions.
type Envelope struct {
	V       string          `json:"v"`
	Event   string          `json:"event"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Event) == "" {
		return errors.New("missing field: event")
	}
	if _, ok := knownEvents[e.Event]; ok {
		return nil
	}
	if IsUploadEvent(e.Event) {
		return nil
	}
	return fmt.Errorf("unknown event: %q", e.Event)
}

// IsUploadEvent reports whether name is a per-upload event
// (prefix + non-empty correlation id).
func IsUploadEvent(name string) bool {
	for _, p := range []string{EventUploadProgressPrefix, EventUploadCompletePrefix, EventUploadErrorPrefix} {
		if strings.HasPrefix(name, p) && len(name) > len(p) {
			return true
		}
	}
	return false
}

// ---- Handshake ----

// Handshake is the first frame a client writes after the connection opens.
// The server answers with an "authenticated" envelope or an
// "authentication_error" envelope followed by a close.
type Handshake struct {
	Auth Auth `json:"auth"`
}

// Auth carries the opaque bearer token.
type Auth struct {
	Token string `json:"token"`
}

// ---- Outbound payloads ----

// JoinRoomPayload subscribes to a room.
type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	RoomType string `json:"roomType"`
	UserID   string `json:"userId"`
}

// LeaveRoomPayload unsubscribes from a room.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// SendMessagePayload requests a new message. Exactly one of ReceiverID or
// GroupID is set. The server echoes the stored message back through
// "message_received" to every room member, sender included.
type SendMessagePayload struct {
	Content    string    `json:"content"`
	ReceiverID string    `json:"receiverId,omitempty"`
	GroupID    string    `json:"groupId,omitempty"`
	Type       string    `json:"type"`
	ReplyTo    string    `json:"replyTo,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TypingPayload announces typing state for the start_typing and stop_typing
// events. Exactly one of ReceiverID or GroupID is set.
type TypingPayload struct {
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	UserID     string `json:"userId"`
	Username   string `json:"username"`
}

// MarkReadPayload records a read receipt for a message.
type MarkReadPayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
}

// UpdateMessagePayload edits a message's content.
type UpdateMessagePayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
	UserID    string `json:"userId"`
}

// DeleteMessagePayload soft-deletes a message.
type DeleteMessagePayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// UploadFilePayload ships one attachment as a single base64 emission.
// FileData inflates ~33% over the raw bytes; acceptable for chat-sized
// attachments bounded by the engine's upload ceiling.
type UploadFilePayload struct {
	UploadID    string `json:"uploadId"`
	FileData    string `json:"fileData"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	FileType    string `json:"fileType"`
	RoomID      string `json:"roomId"`
	MessageType string `json:"messageType"`
	UserID      string `json:"userId"`
	IsGroupChat bool   `json:"isGroupChat"`
}

// ---- Inbound payloads ----

// MessageDeletedPayload is the sentinel carried by "message_deleted".
type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
	Deleted   bool   `json:"deleted"`
}

// AuthenticatedPayload confirms the handshake.
type AuthenticatedPayload struct {
	User UserRef `json:"user"`
}

// AuthErrorPayload explains a handshake or mid-session rejection.
type AuthErrorPayload struct {
	Error string `json:"error"`
}

// UserOfflinePayload carries only the departing user's id.
type UserOfflinePayload struct {
	UserID string `json:"userId"`
}

// UploadProgressPayload reports upload progress in percent.
type UploadProgressPayload struct {
	Progress int `json:"progress"`
}

// UploadCompletePayload returns the stored message created for the upload.
type UploadCompletePayload struct {
	Result Message `json:"result"`
}

// UploadErrorPayload reports a failed upload.
type UploadErrorPayload struct {
	Error string `json:"error"`
}
