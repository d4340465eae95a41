// Package events publishes domain events to an external broker.
package events

import (
	"context"
	"time"
)

// Message is a serialized domain event ready for publishing.
type Message struct {
	ID         string
	Type       string
	Key        string
	Payload    []byte
	OccurredAt time.Time
}

// Publisher delivers messages to a broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}
