package rebus

import (
	"context"
)

// Transport moves messages between this endpoint and a broker. Send stages
// messages on the given transaction context; nothing goes over the wire until
// the context is committed. Receive returns a nil message (and nil error) when
// the input queue is empty within the transport's receive wait.
type Transport interface {
	// Address returns the transport's own input queue, or "" for a
	// send-only transport.
	Address() string
	// CreateQueue ensures the queue behind the given address exists.
	CreateQueue(ctx context.Context, address string) error
	Send(ctx context.Context, destination string, msg *TransportMessage, tx *TransactionContext) error
	Receive(ctx context.Context, tx *TransactionContext) (*TransportMessage, error)
}

// SubscriptionStorage keeps track of which endpoints subscribe to which
// topics. A centralized implementation is a shared broker-side directory:
// every endpoint sees all subscriptions and manages only its own.
type SubscriptionStorage interface {
	IsCentralized() bool
	// GetSubscriberAddresses resolves a topic to the addresses a published
	// message must be sent to.
	GetSubscriberAddresses(ctx context.Context, topic string) ([]string, error)
	RegisterSubscriber(ctx context.Context, topic, subscriberAddress string) error
	UnregisterSubscriber(ctx context.Context, topic, subscriberAddress string) error
}

// Logger is a minimal logging interface. Implementations are optional; all
// call sites tolerate a nil Logger.
type Logger interface {
	Log(v ...any)
	Logf(format string, v ...any)
}

// Marshaler is a simple encoding interface for message bodies. The transport
// itself never touches body contents; the surrounding bus supplies one of
// these where serialization is needed.
type Marshaler interface {
	Marshal(interface{}) ([]byte, error)
	Unmarshal([]byte, interface{}) error
	String() string
}
