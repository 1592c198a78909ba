package domain

import (
	"errors"
	"time"
)

const MaxMessageBytes = 4096

var (
	ErrMessageEmpty    = errors.New("message empty")
	ErrMessageTooLarge = errors.New("message too large")
)

// Message is one chat line. Seq is assigned by the room session owning
// the room and is strictly increasing, gapless per room.
type Message struct {
	RoomID     RoomID    `json:"room_id"`
	SenderID   UserID    `json:"sender_id"`
	SenderName string    `json:"sender"`
	Seq        uint64    `json:"seq"`
	At         time.Time `json:"timestamp"`
	Body       string    `json:"body"`
}

// ValidateBody bounds inbound bodies before they reach a room session.
func ValidateBody(body string, maxBytes int) error {
	if body == "" {
		return ErrMessageEmpty
	}
	if maxBytes <= 0 {
		maxBytes = MaxMessageBytes
	}
	if len(body) > maxBytes {
		return ErrMessageTooLarge
	}
	return nil
}
