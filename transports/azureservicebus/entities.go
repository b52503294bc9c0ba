package azureservicebus

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
)

// ensureQueue checks that the queue exists with the desired settings,
// creating it when absent and reconciling mutable settings when present.
// "Already exists" from a racing creator counts as success.
func (t *Transport) ensureQueue(ctx context.Context, address string) error {
	if !t.opts.ManageEntities {
		t.logf("transport is not managing entities, skipping existence check for queue %q", address)
		return nil
	}

	existing, err := t.admin.GetQueue(ctx, address)
	if err != nil {
		return fmt.Errorf("get queue %q: %w", address, err)
	}
	if existing == nil {
		if err := t.admin.CreateQueue(ctx, address, t.desiredQueueProperties()); err != nil {
			if isConflict(err) {
				t.logf("queue %q was created concurrently", address)
				return nil
			}
			return fmt.Errorf("create queue %q: %w", address, err)
		}
		return nil
	}
	return t.reconcileQueue(ctx, address, existing)
}

func (t *Transport) desiredQueueProperties() *admin.QueueProperties {
	props := &admin.QueueProperties{}
	if t.opts.Partitioning {
		props.EnablePartitioning = to.Ptr(true)
	}
	if t.opts.DefaultTTL > 0 {
		props.DefaultMessageTimeToLive = to.Ptr(formatISODuration(t.opts.DefaultTTL))
	}
	if t.opts.LockDuration > 0 {
		props.LockDuration = to.Ptr(formatISODuration(t.opts.LockDuration))
	}
	return props
}

// reconcileQueue applies the mutable settings that drifted. Partitioning is
// fixed at creation time: a mismatch there is worth a warning but changing it
// would mean dropping and recreating the queue, which is the operator's call.
func (t *Transport) reconcileQueue(ctx context.Context, address string, live *admin.QueueProperties) error {
	desired := t.desiredQueueProperties()

	changed := false
	if desired.DefaultMessageTimeToLive != nil && !strPtrEqual(live.DefaultMessageTimeToLive, desired.DefaultMessageTimeToLive) {
		live.DefaultMessageTimeToLive = desired.DefaultMessageTimeToLive
		changed = true
	}
	if desired.LockDuration != nil && !strPtrEqual(live.LockDuration, desired.LockDuration) {
		live.LockDuration = desired.LockDuration
		changed = true
	}

	livePartitioned := live.EnablePartitioning != nil && *live.EnablePartitioning
	if livePartitioned != t.opts.Partitioning {
		t.logf("warning: queue %q has partitioning=%v but the transport is configured for %v; partitioning can only be set when the queue is created",
			address, livePartitioned, t.opts.Partitioning)
	}

	if !changed {
		return nil
	}
	if err := t.admin.UpdateQueue(ctx, address, *live); err != nil {
		return fmt.Errorf("update queue %q: %w", address, err)
	}
	return nil
}

func (t *Transport) ensureTopic(ctx context.Context, topicPath string) error {
	if !t.opts.ManageEntities {
		t.logf("transport is not managing entities, skipping existence check for topic %q", topicPath)
		return nil
	}

	existing, err := t.admin.GetTopic(ctx, topicPath)
	if err != nil {
		return fmt.Errorf("get topic %q: %w", topicPath, err)
	}
	if existing != nil {
		return nil
	}
	if err := t.admin.CreateTopic(ctx, topicPath); err != nil {
		if isConflict(err) {
			t.logf("topic %q was created concurrently", topicPath)
			return nil
		}
		return fmt.Errorf("create topic %q: %w", topicPath, err)
	}
	return nil
}

// ensureSubscription creates the subscription with forwarding into forwardTo
// so published messages land directly in the subscriber's input queue.
func (t *Transport) ensureSubscription(ctx context.Context, topicPath, name, forwardTo string) error {
	if !t.opts.ManageEntities {
		t.logf("transport is not managing entities, skipping existence check for subscription %q on %q", name, topicPath)
		return nil
	}

	existing, err := t.admin.GetSubscription(ctx, topicPath, name)
	if err != nil {
		return fmt.Errorf("get subscription %q on topic %q: %w", name, topicPath, err)
	}
	if existing != nil {
		return nil
	}
	props := &admin.SubscriptionProperties{ForwardTo: to.Ptr(forwardTo)}
	if err := t.admin.CreateSubscription(ctx, topicPath, name, props); err != nil {
		if isConflict(err) {
			t.logf("subscription %q on topic %q was created concurrently", name, topicPath)
			return nil
		}
		return fmt.Errorf("create subscription %q on topic %q: %w", name, topicPath, err)
	}
	return nil
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
