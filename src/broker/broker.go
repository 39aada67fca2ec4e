// Package broker defines the event bus carrying notifications from the
// background workers to the console front end, with in-memory and
// Redpanda/Kafka implementations.
package broker

import "context"

// Broker abstracts message publishing and consumption. Workers publish;
// whatever drives the UI subscribes. Nothing else crosses the worker
// boundary.
type Broker interface {
	// Publish sends a message to a topic. The key selects the partition
	// for Kafka-compatible brokers and is ignored in memory.
	Publish(ctx context.Context, topic string, key string, value []byte) error

	// Subscribe returns a channel of messages for a topic. groupID is
	// used for consumer group coordination in Kafka and ignored in
	// memory. The channel closes when the broker shuts down.
	Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error)

	// Close shuts down the broker connection gracefully.
	Close() error
}

// Message is one consumed message.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Offset    int64
	Partition int32
	Timestamp int64
}
