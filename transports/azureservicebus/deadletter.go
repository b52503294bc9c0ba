package azureservicebus

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	azsb "github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	rebus "github.com/riezebosch/Rebus.AzureServiceBus"
)

// The broker caps dead-letter reason and description length.
const maxDeadLetterTextLength = 4096

// ErrNoReceivedMessage means the transaction context holds no raw received
// message, either because nothing was received on it or because the message
// was already settled out of band. Callers should fall back to their own
// poison-message handling.
var ErrNoReceivedMessage = errors.New("azureservicebus: no received message on this transaction context")

// ReceivedMessage returns the raw broker message stashed on the transaction
// context by Receive, if any.
func ReceivedMessage(tx *rebus.TransactionContext) (*azsb.ReceivedMessage, bool) {
	v, ok := tx.Value(itemKeyReceived)
	if !ok {
		return nil, false
	}
	return v.(*azsb.ReceivedMessage), true
}

// DeadLetter moves the message received on this transaction context to the
// broker's native dead-letter sub-queue, carrying the failure reason and
// description (both truncated to the broker's limit) and the original
// headers as dead-letter properties. The stashed message is removed so the
// transport does not also try to complete it when the transaction settles.
func DeadLetter(ctx context.Context, tx *rebus.TransactionContext, reason, description string) error {
	mv, ok := tx.Value(itemKeyReceived)
	if !ok {
		return ErrNoReceivedMessage
	}
	rv, ok := tx.Value(itemKeyReceiver)
	if !ok {
		return ErrNoReceivedMessage
	}
	msg := mv.(*azsb.ReceivedMessage)
	receiver := rv.(messageReceiver)

	var props map[string]any
	if len(msg.ApplicationProperties) > 0 {
		props = make(map[string]any, len(msg.ApplicationProperties))
		for k, v := range msg.ApplicationProperties {
			props[k] = v
		}
	}

	opts := &azsb.DeadLetterOptions{
		Reason:             to.Ptr(truncate(reason, maxDeadLetterTextLength)),
		ErrorDescription:   to.Ptr(truncate(description, maxDeadLetterTextLength)),
		PropertiesToModify: props,
	}
	if err := receiver.DeadLetterMessage(ctx, msg, opts); err != nil {
		return fmt.Errorf("dead-letter message %q: %w", msg.MessageID, err)
	}

	tx.Delete(itemKeyReceived)
	tx.Delete(itemKeyReceiver)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
