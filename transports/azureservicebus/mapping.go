package azureservicebus

import (
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	azsb "github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	rebus "github.com/riezebosch/Rebus.AzureServiceBus"
)

func newMessageID() string {
	return uuid.NewString()
}

// toNativeMessage maps a transport message onto the broker message.
// Recognized headers become native fields and leave the generic header set;
// everything else rides along as string application properties. The body is
// untouched.
func toNativeMessage(tm *rebus.TransportMessage) (*azsb.Message, error) {
	headers := make(map[string]string, len(tm.Headers))
	for k, v := range tm.Headers {
		headers[k] = v
	}

	native := &azsb.Message{Body: tm.Body}

	if v, ok := headers[rebus.HeaderTimeToBeReceived]; ok {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse header %s=%q: %w", rebus.HeaderTimeToBeReceived, v, err)
		}
		native.TimeToLive = &ttl
		delete(headers, rebus.HeaderTimeToBeReceived)
	}
	if v, ok := headers[rebus.HeaderDeferredUntil]; ok {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("parse header %s=%q: %w", rebus.HeaderDeferredUntil, v, err)
		}
		utc := at.UTC()
		native.ScheduledEnqueueTime = &utc
		delete(headers, rebus.HeaderDeferredUntil)
	}
	if v, ok := headers[rebus.HeaderContentType]; ok {
		native.ContentType = to.Ptr(v)
		delete(headers, rebus.HeaderContentType)
	}
	if v, ok := headers[rebus.HeaderCorrelationID]; ok {
		native.CorrelationID = to.Ptr(v)
		delete(headers, rebus.HeaderCorrelationID)
	}

	messageID := headers[rebus.HeaderMessageID]
	if messageID != "" {
		native.MessageID = to.Ptr(messageID)
		delete(headers, rebus.HeaderMessageID)
	}

	native.Subject = to.Ptr(labelFor(tm, messageID))

	if len(headers) > 0 {
		native.ApplicationProperties = make(map[string]any, len(headers))
		for k, v := range headers {
			native.ApplicationProperties[k] = v
		}
	}
	return native, nil
}

// labelFor derives the human-readable broker label shown in management
// tooling: the logical message type when known, otherwise the message id.
func labelFor(tm *rebus.TransportMessage, messageID string) string {
	if typ := tm.Headers[rebus.HeaderType]; typ != "" {
		return typ
	}
	return messageID
}

// fromNativeMessage converts a received broker message back into the generic
// shape, restoring the headers that were mapped to native fields on the way
// out.
func fromNativeMessage(msg *azsb.ReceivedMessage) *rebus.TransportMessage {
	headers := make(map[string]string, len(msg.ApplicationProperties)+4)
	for k, v := range msg.ApplicationProperties {
		if s, ok := v.(string); ok {
			headers[k] = s
		} else {
			headers[k] = fmt.Sprint(v)
		}
	}

	if msg.MessageID != "" {
		headers[rebus.HeaderMessageID] = msg.MessageID
	}
	if msg.CorrelationID != nil {
		headers[rebus.HeaderCorrelationID] = *msg.CorrelationID
	}
	if msg.ContentType != nil {
		headers[rebus.HeaderContentType] = *msg.ContentType
	}
	if msg.TimeToLive != nil {
		headers[rebus.HeaderTimeToBeReceived] = msg.TimeToLive.String()
	}

	return &rebus.TransportMessage{Headers: headers, Body: msg.Body}
}
