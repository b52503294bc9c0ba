package azureservicebus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	azsb "github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
)

type testLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *testLogger) Log(v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprint(v...))
}

func (l *testLogger) Logf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf(format, v...))
}

func (l *testLogger) joined() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.entries, "\n")
}

type mockSender struct {
	mu        sync.Mutex
	batches   [][]*azsb.Message
	closed    bool
	sendFunc  func(ctx context.Context, msgs []*azsb.Message) error
	closeFunc func(ctx context.Context) error
}

func (m *mockSender) SendBatch(ctx context.Context, msgs []*azsb.Message) error {
	m.mu.Lock()
	m.batches = append(m.batches, msgs)
	m.mu.Unlock()
	if m.sendFunc != nil {
		return m.sendFunc(ctx, msgs)
	}
	return nil
}

func (m *mockSender) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	if m.closeFunc != nil {
		return m.closeFunc(ctx)
	}
	return nil
}

func (m *mockSender) sentBatches() [][]*azsb.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches
}

type mockReceiver struct {
	mu           sync.Mutex
	completed    []*azsb.ReceivedMessage
	abandoned    []*azsb.ReceivedMessage
	deadLettered []*azsb.DeadLetterOptions
	renews       int
	closed       bool

	receiveFunc    func(ctx context.Context, maxMessages int) ([]*azsb.ReceivedMessage, error)
	completeFunc   func(ctx context.Context, msg *azsb.ReceivedMessage) error
	abandonFunc    func(ctx context.Context, msg *azsb.ReceivedMessage) error
	deadLetterFunc func(ctx context.Context, msg *azsb.ReceivedMessage, opts *azsb.DeadLetterOptions) error
	renewFunc      func(ctx context.Context, msg *azsb.ReceivedMessage) error
	closeFunc      func(ctx context.Context) error
}

func (m *mockReceiver) ReceiveMessages(ctx context.Context, maxMessages int) ([]*azsb.ReceivedMessage, error) {
	if m.receiveFunc != nil {
		return m.receiveFunc(ctx, maxMessages)
	}
	return nil, nil
}

func (m *mockReceiver) CompleteMessage(ctx context.Context, msg *azsb.ReceivedMessage) error {
	m.mu.Lock()
	m.completed = append(m.completed, msg)
	m.mu.Unlock()
	if m.completeFunc != nil {
		return m.completeFunc(ctx, msg)
	}
	return nil
}

func (m *mockReceiver) AbandonMessage(ctx context.Context, msg *azsb.ReceivedMessage) error {
	m.mu.Lock()
	m.abandoned = append(m.abandoned, msg)
	m.mu.Unlock()
	if m.abandonFunc != nil {
		return m.abandonFunc(ctx, msg)
	}
	return nil
}

func (m *mockReceiver) DeadLetterMessage(ctx context.Context, msg *azsb.ReceivedMessage, opts *azsb.DeadLetterOptions) error {
	m.mu.Lock()
	m.deadLettered = append(m.deadLettered, opts)
	m.mu.Unlock()
	if m.deadLetterFunc != nil {
		return m.deadLetterFunc(ctx, msg, opts)
	}
	return nil
}

func (m *mockReceiver) RenewMessageLock(ctx context.Context, msg *azsb.ReceivedMessage) error {
	m.mu.Lock()
	m.renews++
	m.mu.Unlock()
	if m.renewFunc != nil {
		return m.renewFunc(ctx, msg)
	}
	return nil
}

func (m *mockReceiver) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	if m.closeFunc != nil {
		return m.closeFunc(ctx)
	}
	return nil
}

func (m *mockReceiver) renewCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renews
}

func (m *mockReceiver) completedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed)
}

func (m *mockReceiver) abandonedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.abandoned)
}

type mockAdmin struct {
	mu    sync.Mutex
	calls []string

	getQueueFunc           func(ctx context.Context, name string) (*admin.QueueProperties, error)
	createQueueFunc        func(ctx context.Context, name string, props *admin.QueueProperties) error
	updateQueueFunc        func(ctx context.Context, name string, props admin.QueueProperties) error
	getTopicFunc           func(ctx context.Context, name string) (*admin.TopicProperties, error)
	createTopicFunc        func(ctx context.Context, name string) error
	getSubscriptionFunc    func(ctx context.Context, topic, name string) (*admin.SubscriptionProperties, error)
	createSubscriptionFunc func(ctx context.Context, topic, name string, props *admin.SubscriptionProperties) error
	deleteSubscriptionFunc func(ctx context.Context, topic, name string) error
}

func (m *mockAdmin) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockAdmin) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockAdmin) GetQueue(ctx context.Context, name string) (*admin.QueueProperties, error) {
	m.record("GetQueue " + name)
	if m.getQueueFunc != nil {
		return m.getQueueFunc(ctx, name)
	}
	return nil, nil
}

func (m *mockAdmin) CreateQueue(ctx context.Context, name string, props *admin.QueueProperties) error {
	m.record("CreateQueue " + name)
	if m.createQueueFunc != nil {
		return m.createQueueFunc(ctx, name, props)
	}
	return nil
}

func (m *mockAdmin) UpdateQueue(ctx context.Context, name string, props admin.QueueProperties) error {
	m.record("UpdateQueue " + name)
	if m.updateQueueFunc != nil {
		return m.updateQueueFunc(ctx, name, props)
	}
	return nil
}

func (m *mockAdmin) GetTopic(ctx context.Context, name string) (*admin.TopicProperties, error) {
	m.record("GetTopic " + name)
	if m.getTopicFunc != nil {
		return m.getTopicFunc(ctx, name)
	}
	return nil, nil
}

func (m *mockAdmin) CreateTopic(ctx context.Context, name string) error {
	m.record("CreateTopic " + name)
	if m.createTopicFunc != nil {
		return m.createTopicFunc(ctx, name)
	}
	return nil
}

func (m *mockAdmin) GetSubscription(ctx context.Context, topic, name string) (*admin.SubscriptionProperties, error) {
	m.record("GetSubscription " + topic + "/" + name)
	if m.getSubscriptionFunc != nil {
		return m.getSubscriptionFunc(ctx, topic, name)
	}
	return nil, nil
}

func (m *mockAdmin) CreateSubscription(ctx context.Context, topic, name string, props *admin.SubscriptionProperties) error {
	m.record("CreateSubscription " + topic + "/" + name)
	if m.createSubscriptionFunc != nil {
		return m.createSubscriptionFunc(ctx, topic, name, props)
	}
	return nil
}

func (m *mockAdmin) DeleteSubscription(ctx context.Context, topic, name string) error {
	m.record("DeleteSubscription " + topic + "/" + name)
	if m.deleteSubscriptionFunc != nil {
		return m.deleteSubscriptionFunc(ctx, topic, name)
	}
	return nil
}

// newTestTransport builds a transport wired to mocks, bypassing New so no
// connection string is needed.
func newTestTransport(opts ...Option) (*Transport, *mockAdmin) {
	ad := &mockAdmin{}
	t := &Transport{
		inputQueue:       "input-queue",
		opts:             NewOptions(opts...),
		admin:            ad,
		receiveTimeout:   50 * time.Millisecond,
		senders:          make(map[string]messageSender),
		publishers:       make(map[string]messageSender),
		publishAddresses: make(map[string]string),
		batchSize:        maxOutgoingBatchSize,
	}
	t.newSender = func(entity string) (messageSender, error) {
		return &mockSender{}, nil
	}
	t.newReceiver = func(queue string, mode azsb.ReceiveMode) (messageReceiver, error) {
		return &mockReceiver{}, nil
	}
	return t, ad
}
