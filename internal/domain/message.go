package domain

import "time"

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
)

type MessageDirection string

const (
	DirectionIncoming MessageDirection = "incoming"
	DirectionOutgoing MessageDirection = "outgoing"
)

type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

type Message struct {
	ID              string           `json:"id"`
	AccountID       string           `json:"accountId"`
	ContactID       string           `json:"contactId"`
	Content         string           `json:"content"`
	Type            MessageType      `json:"type"`
	Direction       MessageDirection `json:"direction"`
	Status          MessageStatus    `json:"status"`
	Timestamp       time.Time        `json:"timestamp"`
	MediaURL        string           `json:"mediaUrl,omitempty"`
	QuotedMessageID string           `json:"quotedMessageId,omitempty"`
}

type SendMessagePayload struct {
	AccountID string `json:"accountId" validate:"required"`
	Phone     string `json:"phone" validate:"required,max=32"`
	Message   string `json:"message" validate:"required"`
	MediaURL  string `json:"mediaUrl,omitempty" validate:"omitempty,url"`
}

// BulkMessagePayload DelayBetweenMessages is in milliseconds.
type BulkMessagePayload struct {
	AccountID            string   `json:"accountId" validate:"required"`
	Phones               []string `json:"phones" validate:"required,min=1,dive,required,max=32"`
	Message              string   `json:"message" validate:"required"`
	DelayBetweenMessages int      `json:"delayBetweenMessages,omitempty" validate:"gte=0"`
	MediaURL             string   `json:"mediaUrl,omitempty" validate:"omitempty,url"`
}

type BulkResult struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}
