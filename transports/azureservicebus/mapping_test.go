package azureservicebus

import (
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	azsb "github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rebus "github.com/riezebosch/Rebus.AzureServiceBus"
)

func TestToNativeMessage_MapsRecognizedHeaders(t *testing.T) {
	tm := rebus.NewTransportMessage(map[string]string{
		rebus.HeaderMessageID:        "msg-1",
		rebus.HeaderCorrelationID:    "corr-1",
		rebus.HeaderContentType:      "application/json",
		rebus.HeaderTimeToBeReceived: "5m",
		rebus.HeaderDeferredUntil:    "2026-08-25T12:00:00Z",
		"custom-header":              "kept",
	}, []byte("body"))

	native, err := toNativeMessage(tm)
	require.NoError(t, err)

	assert.Equal(t, "msg-1", *native.MessageID)
	assert.Equal(t, "corr-1", *native.CorrelationID)
	assert.Equal(t, "application/json", *native.ContentType)
	assert.Equal(t, 5*time.Minute, *native.TimeToLive)
	require.NotNil(t, native.ScheduledEnqueueTime)
	assert.Equal(t, time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC), *native.ScheduledEnqueueTime)
	assert.Equal(t, []byte("body"), native.Body)

	// Mapped headers must not also travel as properties.
	assert.Equal(t, map[string]any{"custom-header": "kept"}, native.ApplicationProperties)
}

func TestToNativeMessage_LabelPrefersType(t *testing.T) {
	t.Run("TypeKnown", func(t *testing.T) {
		tm := rebus.NewTransportMessage(map[string]string{
			rebus.HeaderMessageID: "msg-1",
			rebus.HeaderType:      "OrderPlaced",
		}, nil)
		native, err := toNativeMessage(tm)
		require.NoError(t, err)
		assert.Equal(t, "OrderPlaced", *native.Subject)
	})

	t.Run("TypeUnknown", func(t *testing.T) {
		tm := rebus.NewTransportMessage(map[string]string{
			rebus.HeaderMessageID: "msg-1",
		}, nil)
		native, err := toNativeMessage(tm)
		require.NoError(t, err)
		assert.Equal(t, "msg-1", *native.Subject)
	})
}

func TestToNativeMessage_BadHeaderValues(t *testing.T) {
	t.Run("UnparseableTTL", func(t *testing.T) {
		tm := rebus.NewTransportMessage(map[string]string{
			rebus.HeaderTimeToBeReceived: "soon",
		}, nil)
		_, err := toNativeMessage(tm)
		require.Error(t, err)
		assert.Contains(t, err.Error(), rebus.HeaderTimeToBeReceived)
	})

	t.Run("UnparseableDeferral", func(t *testing.T) {
		tm := rebus.NewTransportMessage(map[string]string{
			rebus.HeaderDeferredUntil: "tomorrow",
		}, nil)
		_, err := toNativeMessage(tm)
		require.Error(t, err)
		assert.Contains(t, err.Error(), rebus.HeaderDeferredUntil)
	})
}

func TestToNativeMessage_DoesNotMutateInput(t *testing.T) {
	tm := rebus.NewTransportMessage(map[string]string{
		rebus.HeaderMessageID:   "msg-1",
		rebus.HeaderContentType: "text/plain",
	}, nil)

	_, err := toNativeMessage(tm)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", tm.Headers[rebus.HeaderMessageID])
	assert.Equal(t, "text/plain", tm.Headers[rebus.HeaderContentType])
}

func TestFromNativeMessage_RestoresHeaders(t *testing.T) {
	ttl := 5 * time.Minute
	msg := &azsb.ReceivedMessage{
		MessageID:     "msg-1",
		CorrelationID: to.Ptr("corr-1"),
		ContentType:   to.Ptr("application/json"),
		TimeToLive:    &ttl,
		ApplicationProperties: map[string]any{
			"custom-header": "kept",
			"numeric":       int64(7),
		},
		Body: []byte("body"),
	}

	tm := fromNativeMessage(msg)

	assert.Equal(t, "msg-1", tm.Headers[rebus.HeaderMessageID])
	assert.Equal(t, "corr-1", tm.Headers[rebus.HeaderCorrelationID])
	assert.Equal(t, "application/json", tm.Headers[rebus.HeaderContentType])
	assert.Equal(t, "5m0s", tm.Headers[rebus.HeaderTimeToBeReceived])
	assert.Equal(t, "kept", tm.Headers["custom-header"])
	assert.Equal(t, "7", tm.Headers["numeric"], "non-string properties are stringified")
	assert.Equal(t, []byte("body"), tm.Body)
}

func TestHeaderRoundTrip(t *testing.T) {
	out := rebus.NewTransportMessage(map[string]string{
		rebus.HeaderMessageID:     "msg-1",
		rebus.HeaderCorrelationID: "corr-1",
		rebus.HeaderContentType:   "application/json",
		rebus.HeaderType:          "OrderPlaced",
		rebus.HeaderReturnAddress: "replies",
	}, []byte(`{"n":1}`))

	native, err := toNativeMessage(out)
	require.NoError(t, err)

	received := &azsb.ReceivedMessage{
		MessageID:             *native.MessageID,
		CorrelationID:         native.CorrelationID,
		ContentType:           native.ContentType,
		ApplicationProperties: native.ApplicationProperties,
		Body:                  native.Body,
	}

	in := fromNativeMessage(received)
	assert.Equal(t, out.Headers, in.Headers)
	assert.Equal(t, out.Body, in.Body)
}
