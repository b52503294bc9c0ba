package azureservicebus

import (
	"context"
	"strings"
)

// senderFor resolves a destination to its cached sender. A destination
// carrying the magic prefix is a synthetic publish address: the prefix is
// stripped and the message goes to a topic publisher instead of a queue
// sender.
func (t *Transport) senderFor(ctx context.Context, destination string) (messageSender, error) {
	if topic, ok := strings.CutPrefix(destination, magicSubscriptionPrefix); ok {
		return t.getPublisher(ctx, topic)
	}
	return t.getSender(ctx, destination)
}

// getSender returns the sender for a queue, creating it on first use. One
// sender exists per destination for the transport's lifetime.
func (t *Transport) getSender(ctx context.Context, queue string) (messageSender, error) {
	t.mu.RLock()
	s, ok := t.senders[queue]
	t.mu.RUnlock()
	if ok {
		return s, nil
	}

	// Entity management happens outside the lock; it is idempotent, so two
	// racing callers at worst both verify the queue.
	if err := t.ensureQueue(ctx, queue); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.senders[queue]; ok {
		return s, nil
	}
	s, err := t.newSender(queue)
	if err != nil {
		return nil, err
	}
	t.senders[queue] = s
	t.closers = append(t.closers, closer{name: "sender " + queue, close: s.Close})
	return s, nil
}

// getPublisher returns the sender for a topic, creating the topic and the
// sender on first use.
func (t *Transport) getPublisher(ctx context.Context, topic string) (messageSender, error) {
	topicPath := normalizeEntityName(topic)

	t.mu.RLock()
	p, ok := t.publishers[topicPath]
	t.mu.RUnlock()
	if ok {
		return p, nil
	}

	if err := t.ensureTopic(ctx, topicPath); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.publishers[topicPath]; ok {
		return p, nil
	}
	p, err := t.newSender(topicPath)
	if err != nil {
		return nil, err
	}
	t.publishers[topicPath] = p
	t.closers = append(t.closers, closer{name: "publisher " + topicPath, close: p.Close})
	return p, nil
}
