package chat

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type Chat struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID          uint64    `gorm:"index;not null" json:"-"`
	Title           string    `gorm:"type:varchar(128);not null" json:"title"`
	PreviewImageURL *string   `gorm:"type:varchar(1024)" json:"preview_image_url"`
	CreatedAt       time.Time `json:"created_at"`
}

func (Chat) TableName() string { return "chats" }

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Part is one typed element of a message body.
// Types: "text", "tool-call-input", "tool-call-output".
type Part struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
}

const (
	PartText       = "text"
	PartToolInput  = "tool-call-input"
	PartToolOutput = "tool-call-output"
)

// Message rows are append-only; a chat's transcript is its messages ordered
// by creation time.
type Message struct {
	ID        string                     `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID    string                     `gorm:"type:varchar(36);index;not null" json:"chat_id"`
	Role      string                     `gorm:"type:varchar(16);not null" json:"role"`
	Parts     datatypes.JSONType[[]Part] `gorm:"not null" json:"parts"`
	CreatedAt time.Time                  `gorm:"index" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// Vote holds at most one row per (chat, message); re-voting overwrites.
type Vote struct {
	ChatID    string `gorm:"type:varchar(36);primaryKey" json:"chat_id"`
	MessageID string `gorm:"type:varchar(36);primaryKey" json:"message_id"`
	IsUpvote  bool   `gorm:"not null" json:"is_upvote"`
}

func (Vote) TableName() string { return "votes" }

// Stream is the resumption handle for one in-flight (or recently completed)
// assistant response. Only the most recent per chat is resumable.
type Stream struct {
	ID        string    `gorm:"type:varchar(26);primaryKey" json:"id"` // ULID
	ChatID    string    `gorm:"type:varchar(36);index;not null" json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (Stream) TableName() string { return "streams" }
