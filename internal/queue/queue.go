package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned by clients after Close
var ErrClosed = errors.New("queue client closed")

// Message represents a message received from a queue
type Message interface {
	Body() []byte
	// RoutingKey is the key the message was published with, when known
	RoutingKey() string
}

// Client publishes job events and receives plan requests over a broker
type Client interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
	Receive(ctx context.Context, queueName string) (Message, error)
	Ack(ctx context.Context, msg Message) error
	Close() error
}
