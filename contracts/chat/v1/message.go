package v1

import "time"

// Delivery status values.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Message type values.
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeFile     = "file"
	MessageTypeVoice    = "voice"
	MessageTypeVideo    = "video"
	MessageTypeLocation = "location"
	MessageTypeContact  = "contact"
	MessageTypeSystem   = "system"
)

// Room type values used by join_room.
const (
	RoomTypePrivate = "private"
	RoomTypeGroup   = "group"
)

// UserRef carries the display fields of a user reference.
type UserRef struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photoUrl,omitempty"`
}

// GroupRef carries the display fields of a group reference.
type GroupRef struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Attachment describes one file attached to a message.
type Attachment struct {
	Type      string  `json:"type"`
	URL       string  `json:"url"`
	Filename  string  `json:"filename"`
	Size      int64   `json:"size"`
	MimeType  string  `json:"mimeType"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
}

// ReplyRef is the denormalized snippet of the message being replied to.
type ReplyRef struct {
	ID      string  `json:"_id"`
	Content string  `json:"content"`
	Sender  UserRef `json:"sender"`
}

// Reaction is one (user, emoji, timestamp) tuple. Set semantics; order is
// irrelevant.
type Reaction struct {
	User      UserRef   `json:"user"`
	Emoji     string    `json:"emoji"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadReceipt records that a user read the message.
type ReadReceipt struct {
	User   string    `json:"user"`
	ReadAt time.Time `json:"readAt"`
}

// Message is the canonical chat message shape shared by the REST history
// endpoints and the live stream. Exactly one of Receiver or Group is set.
//
// ID is server-assigned and immutable once assigned; it is stable across the
// REST and stream representations of the same message.
type Message struct {
	ID          string        `json:"_id"`
	Sender      UserRef       `json:"sender"`
	Receiver    *UserRef      `json:"receiver,omitempty"`
	Group       *GroupRef     `json:"group,omitempty"`
	Content     string        `json:"content"`
	MessageType string        `json:"messageType,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	ReplyTo     *ReplyRef     `json:"replyTo,omitempty"`
	Reactions   []Reaction    `json:"reactions,omitempty"`
	Status      string        `json:"status,omitempty"`
	ReadBy      []ReadReceipt `json:"readBy,omitempty"`

	Edited        bool       `json:"edited,omitempty"`
	EditedAt      *time.Time `json:"editedAt,omitempty"`
	Deleted       bool       `json:"deleted,omitempty"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
	Forwarded     bool       `json:"forwarded,omitempty"`
	ForwardedFrom string     `json:"forwardedFrom,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// DisplayTime is the ordering and grouping key: the display timestamp,
// falling back to the creation timestamp when unset.
func (m Message) DisplayTime() time.Time {
	if !m.Timestamp.IsZero() {
		return m.Timestamp
	}
	return m.CreatedAt
}

// Before orders messages ascending by display time, ties broken by id
// string comparison so the order is deterministic on both ends.
func (m Message) Before(o Message) bool {
	a, b := m.DisplayTime(), o.DisplayTime()
	if a.Equal(b) {
		return m.ID < o.ID
	}
	return a.Before(b)
}

// TypingUser is the ephemeral presence fact carried by user_typing and
// user_stopped_typing.
type TypingUser struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	RoomID    string    `json:"roomId"`
	IsTyping  bool      `json:"isTyping"`
	Timestamp time.Time `json:"timestamp"`
}

// OnlineUser is one entry of the presence roster.
type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}
