package model

import (
	"time"
)

// PriceDropEvent is the message published for one recipient of a price drop.
// It shall match the model consumed by downstream delivery workers.
type PriceDropEvent struct {
	EventID      string    `json:"event_id"`
	SubscriberID string    `json:"subscriber_id"`
	Message      string    `json:"message"`
	ParseMode    string    `json:"parse_mode"`
	CreatedAt    time.Time `json:"created_at"`
}
