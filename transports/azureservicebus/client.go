package azureservicebus

import (
	"context"
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	azsb "github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
)

// Narrow views over the SDK clients so tests can substitute func-field mocks
// without a live namespace.

type messageSender interface {
	SendBatch(ctx context.Context, msgs []*azsb.Message) error
	Close(ctx context.Context) error
}

type messageReceiver interface {
	ReceiveMessages(ctx context.Context, maxMessages int) ([]*azsb.ReceivedMessage, error)
	CompleteMessage(ctx context.Context, msg *azsb.ReceivedMessage) error
	AbandonMessage(ctx context.Context, msg *azsb.ReceivedMessage) error
	DeadLetterMessage(ctx context.Context, msg *azsb.ReceivedMessage, opts *azsb.DeadLetterOptions) error
	RenewMessageLock(ctx context.Context, msg *azsb.ReceivedMessage) error
	Close(ctx context.Context) error
}

type entityClient interface {
	GetQueue(ctx context.Context, name string) (*admin.QueueProperties, error)
	CreateQueue(ctx context.Context, name string, props *admin.QueueProperties) error
	UpdateQueue(ctx context.Context, name string, props admin.QueueProperties) error
	GetTopic(ctx context.Context, name string) (*admin.TopicProperties, error)
	CreateTopic(ctx context.Context, name string) error
	GetSubscription(ctx context.Context, topic, name string) (*admin.SubscriptionProperties, error)
	CreateSubscription(ctx context.Context, topic, name string, props *admin.SubscriptionProperties) error
	DeleteSubscription(ctx context.Context, topic, name string) error
}

// senderWrapper adapts *azservicebus.Sender. The AMQP link imposes a byte cap
// per batch on top of the transport's message-count cap; when a message no
// longer fits, the partial batch is flushed and a new one started.
type senderWrapper struct {
	sender *azsb.Sender
}

func (w *senderWrapper) SendBatch(ctx context.Context, msgs []*azsb.Message) error {
	batch, err := w.sender.NewMessageBatch(ctx, nil)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := batch.AddMessage(m, nil); err != nil {
			if !errors.Is(err, azsb.ErrMessageTooLarge) || batch.NumMessages() == 0 {
				return err
			}
			if err := w.sender.SendMessageBatch(ctx, batch, nil); err != nil {
				return err
			}
			if batch, err = w.sender.NewMessageBatch(ctx, nil); err != nil {
				return err
			}
			if err := batch.AddMessage(m, nil); err != nil {
				return err
			}
		}
	}
	if batch.NumMessages() == 0 {
		return nil
	}
	return w.sender.SendMessageBatch(ctx, batch, nil)
}

func (w *senderWrapper) Close(ctx context.Context) error {
	return w.sender.Close(ctx)
}

type receiverWrapper struct {
	receiver *azsb.Receiver
}

func (w *receiverWrapper) ReceiveMessages(ctx context.Context, maxMessages int) ([]*azsb.ReceivedMessage, error) {
	return w.receiver.ReceiveMessages(ctx, maxMessages, nil)
}

func (w *receiverWrapper) CompleteMessage(ctx context.Context, msg *azsb.ReceivedMessage) error {
	return w.receiver.CompleteMessage(ctx, msg, nil)
}

func (w *receiverWrapper) AbandonMessage(ctx context.Context, msg *azsb.ReceivedMessage) error {
	return w.receiver.AbandonMessage(ctx, msg, nil)
}

func (w *receiverWrapper) DeadLetterMessage(ctx context.Context, msg *azsb.ReceivedMessage, opts *azsb.DeadLetterOptions) error {
	return w.receiver.DeadLetterMessage(ctx, msg, opts)
}

func (w *receiverWrapper) RenewMessageLock(ctx context.Context, msg *azsb.ReceivedMessage) error {
	return w.receiver.RenewMessageLock(ctx, msg, nil)
}

func (w *receiverWrapper) Close(ctx context.Context) error {
	return w.receiver.Close(ctx)
}

// adminWrapper adapts *admin.Client. The Get* calls return nil properties and
// a nil error when the entity does not exist.
type adminWrapper struct {
	client *admin.Client
}

func (w *adminWrapper) GetQueue(ctx context.Context, name string) (*admin.QueueProperties, error) {
	resp, err := w.client.GetQueue(ctx, name, nil)
	if err != nil || resp == nil {
		return nil, err
	}
	return &resp.QueueProperties, nil
}

func (w *adminWrapper) CreateQueue(ctx context.Context, name string, props *admin.QueueProperties) error {
	_, err := w.client.CreateQueue(ctx, name, &admin.CreateQueueOptions{Properties: props})
	return err
}

func (w *adminWrapper) UpdateQueue(ctx context.Context, name string, props admin.QueueProperties) error {
	_, err := w.client.UpdateQueue(ctx, name, props, nil)
	return err
}

func (w *adminWrapper) GetTopic(ctx context.Context, name string) (*admin.TopicProperties, error) {
	resp, err := w.client.GetTopic(ctx, name, nil)
	if err != nil || resp == nil {
		return nil, err
	}
	return &resp.TopicProperties, nil
}

func (w *adminWrapper) CreateTopic(ctx context.Context, name string) error {
	_, err := w.client.CreateTopic(ctx, name, nil)
	return err
}

func (w *adminWrapper) GetSubscription(ctx context.Context, topic, name string) (*admin.SubscriptionProperties, error) {
	resp, err := w.client.GetSubscription(ctx, topic, name, nil)
	if err != nil || resp == nil {
		return nil, err
	}
	return &resp.SubscriptionProperties, nil
}

func (w *adminWrapper) CreateSubscription(ctx context.Context, topic, name string, props *admin.SubscriptionProperties) error {
	_, err := w.client.CreateSubscription(ctx, topic, name, &admin.CreateSubscriptionOptions{Properties: props})
	return err
}

func (w *adminWrapper) DeleteSubscription(ctx context.Context, topic, name string) error {
	_, err := w.client.DeleteSubscription(ctx, topic, name, nil)
	return err
}

// isConflict reports whether err is the management API telling us the entity
// already exists (a concurrent creator won the race).
func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict
}

// isNotFound reports whether err is the management API telling us the entity
// is already gone.
func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
