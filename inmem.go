package rebus

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

const inMemOutgoingKey = "inmem-outgoing-messages"

// InMemNetwork is a process-local broker shared by InMemTransport instances:
// named queues plus a topic -> subscriber directory. Useful for tests and for
// running a bus without any infrastructure.
type InMemNetwork struct {
	mu          sync.Mutex
	queues      map[string][]*TransportMessage
	subscribers map[string]map[string]struct{}
}

func NewInMemNetwork() *InMemNetwork {
	return &InMemNetwork{
		queues:      make(map[string][]*TransportMessage),
		subscribers: make(map[string]map[string]struct{}),
	}
}

func (n *InMemNetwork) createQueue(address string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.queues[address]; !ok {
		n.queues[address] = nil
	}
}

func (n *InMemNetwork) deliver(address string, msg *TransportMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queues[address] = append(n.queues[address], msg)
}

func (n *InMemNetwork) pop(address string) *TransportMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	q := n.queues[address]
	if len(q) == 0 {
		return nil
	}
	msg := q[0]
	n.queues[address] = q[1:]
	return msg
}

func (n *InMemNetwork) pushFront(address string, msg *TransportMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queues[address] = append([]*TransportMessage{msg}, n.queues[address]...)
}

// Count reports how many messages are waiting in the given queue.
func (n *InMemNetwork) Count(address string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queues[address])
}

// InMemTransport is a Transport and SubscriptionStorage over an InMemNetwork.
// It follows the same staging discipline as the real transports: Send only
// buffers, delivery happens when the transaction context commits.
type InMemTransport struct {
	network *InMemNetwork
	address string
}

var (
	_ Transport           = (*InMemTransport)(nil)
	_ SubscriptionStorage = (*InMemTransport)(nil)
)

// NewInMemTransport creates a transport bound to the given input queue on the
// shared network. An empty address yields a send-only transport.
func NewInMemTransport(network *InMemNetwork, address string) *InMemTransport {
	t := &InMemTransport{network: network, address: address}
	if address != "" {
		network.createQueue(address)
	}
	return t
}

func (t *InMemTransport) Address() string { return t.address }

func (t *InMemTransport) CreateQueue(ctx context.Context, address string) error {
	t.network.createQueue(address)
	return nil
}

func (t *InMemTransport) Send(ctx context.Context, destination string, msg *TransportMessage, tx *TransactionContext) error {
	if destination == "" {
		return fmt.Errorf("inmem: destination must not be empty")
	}

	buf := tx.GetOrAdd(inMemOutgoingKey, func() any {
		b := &[]OutgoingMessage{}
		tx.OnCommit(func(context.Context) error {
			for _, om := range *b {
				t.network.deliver(om.Destination, om.Message)
			}
			return nil
		})
		return b
	}).(*[]OutgoingMessage)

	*buf = append(*buf, OutgoingMessage{Destination: destination, Message: msg.Clone()})
	return nil
}

func (t *InMemTransport) Receive(ctx context.Context, tx *TransactionContext) (*TransportMessage, error) {
	if t.address == "" {
		return nil, fmt.Errorf("inmem: transport is send-only")
	}

	msg := t.network.pop(t.address)
	if msg == nil {
		return nil, nil
	}

	// Aborting puts the message back at the front of the queue, emulating a
	// lock being abandoned.
	tx.OnAborted(func(context.Context) error {
		t.network.pushFront(t.address, msg)
		return nil
	})

	return msg, nil
}

func (t *InMemTransport) IsCentralized() bool { return true }

func (t *InMemTransport) GetSubscriberAddresses(ctx context.Context, topic string) ([]string, error) {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()

	subs := t.network.subscribers[topic]
	addresses := make([]string, 0, len(subs))
	for addr := range subs {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)
	return addresses, nil
}

func (t *InMemTransport) RegisterSubscriber(ctx context.Context, topic, subscriberAddress string) error {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()

	if t.network.subscribers[topic] == nil {
		t.network.subscribers[topic] = make(map[string]struct{})
	}
	t.network.subscribers[topic][subscriberAddress] = struct{}{}
	return nil
}

func (t *InMemTransport) UnregisterSubscriber(ctx context.Context, topic, subscriberAddress string) error {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()

	delete(t.network.subscribers[topic], subscriberAddress)
	return nil
}
