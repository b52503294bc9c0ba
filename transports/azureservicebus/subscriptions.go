package azureservicebus

import (
	"context"
	"fmt"
	"strings"
)

// IsCentralized is true: the broker itself is the subscription directory, so
// every endpoint sees all registrations without per-node bookkeeping.
func (t *Transport) IsCentralized() bool { return true }

// GetSubscriberAddresses resolves a topic to its synthetic publish address.
// The address is cached per topic; only the first lookup pays for the
// normalization.
func (t *Transport) GetSubscriberAddresses(ctx context.Context, topic string) ([]string, error) {
	t.addrMu.Lock()
	defer t.addrMu.Unlock()

	addr, ok := t.publishAddresses[topic]
	if !ok {
		addr = magicSubscriptionPrefix + normalizeEntityName(topic)
		t.publishAddresses[topic] = addr
	}
	return []string{addr}, nil
}

// RegisterSubscriber subscribes this endpoint to the topic. Each endpoint
// manages only its own subscriptions: a subscriberAddress other than the
// transport's input queue is rejected.
func (t *Transport) RegisterSubscriber(ctx context.Context, topic, subscriberAddress string) error {
	if err := t.checkOwnAddress(subscriberAddress); err != nil {
		return err
	}

	topicPath := normalizeEntityName(topic)
	if err := t.ensureTopic(ctx, topicPath); err != nil {
		return err
	}
	return t.ensureSubscription(ctx, topicPath, subscriptionNameFor(t.inputQueue), t.inputQueue)
}

// UnregisterSubscriber removes this endpoint's subscription from the topic.
// A subscription that is already gone counts as success.
func (t *Transport) UnregisterSubscriber(ctx context.Context, topic, subscriberAddress string) error {
	if err := t.checkOwnAddress(subscriberAddress); err != nil {
		return err
	}

	topicPath := normalizeEntityName(topic)
	name := subscriptionNameFor(t.inputQueue)
	if err := t.admin.DeleteSubscription(ctx, topicPath, name); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete subscription %q on topic %q: %w", name, topicPath, err)
	}
	return nil
}

func (t *Transport) checkOwnAddress(subscriberAddress string) error {
	if t.inputQueue == "" {
		return ErrOneWayTransport
	}
	if !strings.EqualFold(subscriberAddress, t.inputQueue) {
		return fmt.Errorf("%q vs %q: %w", subscriberAddress, t.inputQueue, ErrNotOwnSubscriber)
	}
	return nil
}
