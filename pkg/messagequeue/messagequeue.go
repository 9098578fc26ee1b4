package messagequeue

import "context"

// Publisher sends messages to a named queue.
type Publisher interface {
	Publish(queueName string, body []byte) error
}

// MessageQueue defines the interface for message queue services.
type MessageQueue interface {
	Publisher
	// Consume delivers messages to handler until ctx is done or the
	// broker closes the delivery channel.
	Consume(ctx context.Context, queueName string, handler func(body []byte)) error
	Close() error
}
