package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message types.
const (
	MessageChat         = "chat"
	MessageNotification = "notification"
	MessageFeedback     = "feedback"
)

// Message is an append-only direct message between two users.
type Message struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	SenderID   primitive.ObjectID `json:"sender_id" bson:"sender_id"`
	ReceiverID primitive.ObjectID `json:"receiver_id" bson:"receiver_id"`
	Content    string             `json:"content" bson:"content"`
	Type       string             `json:"type" bson:"type"`
	Timestamp  time.Time          `json:"timestamp" bson:"timestamp"`
}

// Conversation summarises the latest message exchanged with one counterpart.
type Conversation struct {
	CounterpartID primitive.ObjectID `json:"counterpart_id"`
	Counterpart   *User              `json:"counterpart,omitempty"`
	LastMessage   string             `json:"last_message"`
	LastType      string             `json:"last_type"`
	LastTimestamp time.Time          `json:"last_timestamp"`
}

// SendMessageRequest is the payload for POST /messages.
type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id" validate:"required,len=24,hexadecimal"`
	Content    string `json:"content" validate:"required,max=4000"`
	Type       string `json:"type,omitempty" validate:"omitempty,oneof=chat notification feedback"`
}
