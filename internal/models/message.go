package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindSystem MessageKind = "system"
)

const MaxMessageLength = 1000

type Message struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RequestID primitive.ObjectID `bson:"request_id" json:"request_id"`
	SenderID  string             `bson:"sender_id" json:"sender_id"`
	Kind      MessageKind        `bson:"kind" json:"kind"`
	Text      string             `bson:"text" json:"text"`
	Read      bool               `bson:"read" json:"read"`
	ReadAt    *time.Time         `bson:"read_at,omitempty" json:"read_at,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

func (m *Message) Validate() error {
	if m.SenderID == "" || m.RequestID.IsZero() {
		return fmt.Errorf("%w: missing message sender or request", ErrValidation)
	}
	if m.Text == "" {
		return fmt.Errorf("%w: empty message body", ErrValidation)
	}
	if len(m.Text) > MaxMessageLength {
		return fmt.Errorf("%w: message body exceeds %d characters", ErrValidation, MaxMessageLength)
	}
	return nil
}
