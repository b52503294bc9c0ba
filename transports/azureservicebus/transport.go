// Package azureservicebus implements the transport over Azure Service Bus.
// Queues carry point-to-point traffic; pub-sub is emulated with topics whose
// subscriptions forward straight into each subscriber's input queue.
package azureservicebus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	azsb "github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
	rebus "github.com/riezebosch/Rebus.AzureServiceBus"
)

const (
	// magicSubscriptionPrefix marks a synthetic publish address: sending to
	// it publishes to the topic named after the prefix instead of a queue.
	magicSubscriptionPrefix = "***Topic***: "

	// maxOutgoingBatchSize is the broker's cap on messages per server-side
	// transaction.
	maxOutgoingBatchSize = 100

	itemKeyOutgoing = "azure-sb-outgoing-messages"
	itemKeyReceived = "azure-sb-received-message"
	itemKeyReceiver = "azure-sb-receiver"
)

var (
	// ErrMissingLockToken means a received message carried no lock token.
	// The transport depends on peek-lock delivery; a missing token points at
	// an incompatible broker or receiver mode and is not recoverable.
	ErrMissingLockToken = errors.New("azureservicebus: received message has no lock token")

	// ErrOneWayTransport is returned by receive-side operations on a
	// transport constructed without an input queue.
	ErrOneWayTransport = errors.New("azureservicebus: transport is send-only")

	// ErrNotOwnSubscriber is returned when an endpoint tries to manage a
	// subscription on behalf of another endpoint.
	ErrNotOwnSubscriber = errors.New("azureservicebus: subscriber address is not this endpoint's input queue")
)

// Transport is a rebus.Transport and rebus.SubscriptionStorage backed by one
// Azure Service Bus namespace. Create it with New, call Initialize before the
// first Receive, and Close it when done.
type Transport struct {
	inputQueue string
	opts       Options

	client *azsb.Client
	admin  entityClient

	// Factories, replaceable in tests.
	newSender   func(entity string) (messageSender, error)
	newReceiver func(queue string, mode azsb.ReceiveMode) (messageReceiver, error)

	receiver       messageReceiver
	receiveTimeout time.Duration // 0 = wait indefinitely

	mu         sync.RWMutex
	senders    map[string]messageSender
	publishers map[string]messageSender
	closers    []closer

	addrMu           sync.Mutex
	publishAddresses map[string]string

	prefetchMu sync.Mutex
	prefetched []*azsb.ReceivedMessage

	batchSize int
}

type closer struct {
	name  string
	close func(context.Context) error
}

var (
	_ rebus.Transport           = (*Transport)(nil)
	_ rebus.SubscriptionStorage = (*Transport)(nil)
)

// New creates a transport bound to the given input queue. An empty inputQueue
// yields a one-way (send-only) transport. The connection string accepts one
// extension key on top of the SDK's: OperationTimeout, a Go duration bounding
// each receive wait ("0" waits indefinitely).
func New(connectionString, inputQueue string, opts ...Option) (*Transport, error) {
	options := NewOptions(opts...)
	if options.AutomaticLockRenewal && options.PrefetchCount > 0 {
		return nil, errors.New("azureservicebus: automatic lock renewal cannot be combined with prefetching")
	}

	sdkConnectionString, csTimeout, hasCSTimeout := splitConnectionString(connectionString)

	client, err := azsb.NewClientFromConnectionString(sdkConnectionString, &azsb.ClientOptions{
		RetryOptions: azsb.RetryOptions{
			MaxRetries:    options.Retry.MaxAttempts,
			RetryDelay:    options.Retry.Delay,
			MaxRetryDelay: options.Retry.MaxDelay,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	adminClient, err := admin.NewClientFromConnectionString(sdkConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create management client: %w", err)
	}

	t := &Transport{
		inputQueue:       inputQueue,
		opts:             options,
		client:           client,
		admin:            &adminWrapper{client: adminClient},
		receiveTimeout:   resolveReceiveTimeout(options, csTimeout, hasCSTimeout),
		senders:          make(map[string]messageSender),
		publishers:       make(map[string]messageSender),
		publishAddresses: make(map[string]string),
		batchSize:        maxOutgoingBatchSize,
	}
	t.newSender = func(entity string) (messageSender, error) {
		s, err := client.NewSender(entity, nil)
		if err != nil {
			return nil, err
		}
		return &senderWrapper{sender: s}, nil
	}
	t.newReceiver = func(queue string, mode azsb.ReceiveMode) (messageReceiver, error) {
		r, err := client.NewReceiverForQueue(queue, &azsb.ReceiverOptions{ReceiveMode: mode})
		if err != nil {
			return nil, err
		}
		return &receiverWrapper{receiver: r}, nil
	}
	return t, nil
}

// Initialize ensures the input queue exists and opens the single inbound
// receiver. No-op for a one-way transport.
func (t *Transport) Initialize(ctx context.Context) error {
	if t.inputQueue == "" {
		return nil
	}
	if err := t.ensureQueue(ctx, t.inputQueue); err != nil {
		return err
	}
	r, err := t.newReceiver(t.inputQueue, azsb.ReceiveModePeekLock)
	if err != nil {
		return fmt.Errorf("create receiver for %q: %w", t.inputQueue, err)
	}
	t.receiver = r
	t.mu.Lock()
	t.closers = append(t.closers, closer{name: "receiver " + t.inputQueue, close: r.Close})
	t.mu.Unlock()
	return nil
}

// Address returns the transport's input queue, or "" when send-only.
func (t *Transport) Address() string { return t.inputQueue }

// CreateQueue ensures the queue behind the given address exists with the
// transport's desired settings.
func (t *Transport) CreateQueue(ctx context.Context, address string) error {
	return t.ensureQueue(ctx, address)
}

// Send stages the message on the transaction context; no I/O happens here.
// All messages staged within one unit of work are dispatched together when
// the context commits, which is what makes sends transactional relative to
// the bus's commit point.
func (t *Transport) Send(ctx context.Context, destination string, msg *rebus.TransportMessage, tx *rebus.TransactionContext) error {
	if destination == "" {
		return errors.New("azureservicebus: destination must not be empty")
	}

	staged := msg.Clone()
	if staged.Headers[rebus.HeaderMessageID] == "" {
		staged.Headers[rebus.HeaderMessageID] = newMessageID()
	}

	buf := t.outgoingBuffer(tx)
	buf.append(rebus.OutgoingMessage{Destination: destination, Message: staged})
	return nil
}

// outgoingBuffer returns the per-transaction staging buffer, creating it and
// registering the flush commit hook on first touch.
func (t *Transport) outgoingBuffer(tx *rebus.TransactionContext) *outgoingBuffer {
	return tx.GetOrAdd(itemKeyOutgoing, func() any {
		b := &outgoingBuffer{}
		tx.OnCommit(func(ctx context.Context) error {
			return t.dispatch(ctx, b)
		})
		return b
	}).(*outgoingBuffer)
}

type outgoingBuffer struct {
	mu   sync.Mutex
	msgs []rebus.OutgoingMessage
}

func (b *outgoingBuffer) append(om rebus.OutgoingMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, om)
}

func (b *outgoingBuffer) drain() []rebus.OutgoingMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.msgs
	b.msgs = nil
	return msgs
}

// dispatch flushes the staged messages: grouped by destination, batches sent
// sequentially within a group to preserve enqueue order, groups dispatched
// concurrently. A failing batch does not undo batches already sent, so
// commit-time dispatch is at-least-once rather than atomic across
// destinations.
func (t *Transport) dispatch(ctx context.Context, buf *outgoingBuffer) error {
	staged := buf.drain()
	if len(staged) == 0 {
		return nil
	}

	var order []string
	groups := make(map[string][]rebus.OutgoingMessage)
	for _, om := range staged {
		if _, ok := groups[om.Destination]; !ok {
			order = append(order, om.Destination)
		}
		groups[om.Destination] = append(groups[om.Destination], om)
	}

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	for _, dest := range order {
		wg.Add(1)
		go func(dest string, group []rebus.OutgoingMessage) {
			defer wg.Done()
			if err := t.dispatchGroup(ctx, dest, group); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(dest, groups[dest])
	}
	wg.Wait()
	return firstErr
}

func (t *Transport) dispatchGroup(ctx context.Context, destination string, group []rebus.OutgoingMessage) error {
	sender, err := t.senderFor(ctx, destination)
	if err != nil {
		return fmt.Errorf("get sender for %q: %w", destination, err)
	}

	for start := 0; start < len(group); start += t.batchSize {
		end := min(start+t.batchSize, len(group))
		batch := make([]*azsb.Message, 0, end-start)
		for _, om := range group[start:end] {
			native, err := toNativeMessage(om.Message)
			if err != nil {
				return fmt.Errorf("map message for %q: %w", destination, err)
			}
			batch = append(batch, native)
		}
		if err := sender.SendBatch(ctx, batch); err != nil {
			return fmt.Errorf("send batch to %q: %w", destination, err)
		}
	}
	return nil
}

// Receive pulls one message from the input queue. A nil message with a nil
// error is the normal empty-queue outcome. On success the transaction context
// gets a completed hook that removes the message, an aborted hook that makes
// it visible again, and, with automatic renewal enabled, a disposed hook that
// stops the renewal task.
func (t *Transport) Receive(ctx context.Context, tx *rebus.TransactionContext) (*rebus.TransportMessage, error) {
	if t.receiver == nil {
		return nil, ErrOneWayTransport
	}

	msg, err := t.receiveOne(ctx)
	if err != nil || msg == nil {
		return nil, err
	}

	if msg.LockToken == [16]byte{} {
		return nil, fmt.Errorf("message %q from %q: %w", msg.MessageID, t.inputQueue, ErrMissingLockToken)
	}

	receiver := t.receiver

	if t.opts.AutomaticLockRenewal && t.opts.PrefetchCount == 0 {
		r := newRenewer(receiver, msg, t.opts.Logger)
		r.start()
		tx.OnDisposed(r.Stop)
	}

	// Stashed for the dead-letter collaborator; see DeadLetter.
	tx.Set(itemKeyReceived, msg)
	tx.Set(itemKeyReceiver, receiver)

	tx.OnCompleted(func(ctx context.Context) error {
		if _, ok := tx.Value(itemKeyReceived); !ok {
			// Settled out of band (dead-lettered).
			return nil
		}
		if err := receiver.CompleteMessage(ctx, msg); err != nil {
			return fmt.Errorf("complete message %q on %q: %w", msg.MessageID, t.inputQueue, err)
		}
		return nil
	})
	tx.OnAborted(func(ctx context.Context) error {
		if _, ok := tx.Value(itemKeyReceived); !ok {
			return nil
		}
		if err := receiver.AbandonMessage(ctx, msg); err != nil {
			return fmt.Errorf("abandon message %q on %q: %w", msg.MessageID, t.inputQueue, err)
		}
		return nil
	})

	return fromNativeMessage(msg), nil
}

func (t *Transport) receiveOne(ctx context.Context) (*azsb.ReceivedMessage, error) {
	if t.opts.PrefetchCount > 0 {
		t.prefetchMu.Lock()
		if len(t.prefetched) > 0 {
			msg := t.prefetched[0]
			t.prefetched = t.prefetched[1:]
			t.prefetchMu.Unlock()
			return msg, nil
		}
		t.prefetchMu.Unlock()
	}

	rctx := ctx
	if t.receiveTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, t.receiveTimeout)
		defer cancel()
	}

	want := 1
	if t.opts.PrefetchCount > 0 {
		want = t.opts.PrefetchCount
	}

	msgs, err := t.receiver.ReceiveMessages(rctx, want)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// Our own wait elapsed: the queue is empty, not broken.
		return nil, nil
	default:
		return nil, fmt.Errorf("receive from %q: %w", t.inputQueue, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	if len(msgs) > 1 {
		t.prefetchMu.Lock()
		t.prefetched = append(t.prefetched, msgs[1:]...)
		t.prefetchMu.Unlock()
	}
	return msgs[0], nil
}

// PurgeInputQueue drains the input queue best-effort using a
// receive-and-delete receiver. Returns once a drain round comes back empty.
func (t *Transport) PurgeInputQueue(ctx context.Context) error {
	if t.inputQueue == "" {
		return ErrOneWayTransport
	}
	r, err := t.newReceiver(t.inputQueue, azsb.ReceiveModeReceiveAndDelete)
	if err != nil {
		return fmt.Errorf("purge %q: %w", t.inputQueue, err)
	}
	defer func() { _ = r.Close(ctx) }()

	purged := 0
	for {
		rctx, cancel := context.WithTimeout(ctx, time.Second)
		msgs, err := r.ReceiveMessages(rctx, maxOutgoingBatchSize)
		cancel()
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			t.logf("purged %d message(s) from %q", purged, t.inputQueue)
			return nil
		default:
			return fmt.Errorf("purge %q: %w", t.inputQueue, err)
		}
		if len(msgs) == 0 {
			t.logf("purged %d message(s) from %q", purged, t.inputQueue)
			return nil
		}
		purged += len(msgs)
	}
}

// Close releases cached senders, publishers and the receiver in reverse
// registration order. Every release is attempted; the first failure is
// reported.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	closers := t.closers
	t.closers = nil
	t.senders = make(map[string]messageSender)
	t.publishers = make(map[string]messageSender)
	t.mu.Unlock()

	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].close(ctx); err != nil {
			t.logf("closing %s: %v", closers[i].name, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("close %s: %w", closers[i].name, err)
			}
		}
	}
	t.receiver = nil

	if t.client != nil {
		if err := t.client.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close client: %w", err)
		}
	}
	return firstErr
}

func (t *Transport) logf(format string, v ...any) {
	if t.opts.Logger != nil {
		t.opts.Logger.Logf(format, v...)
	}
}
