package rebus

// Wire-level header names. These travel with every message regardless of
// transport; individual transports may map some of them to native broker
// fields instead of carrying them as properties.
const (
	// HeaderMessageID is a unique id for the message. Assigned on send when
	// absent.
	HeaderMessageID = "rbs2-msg-id"

	// HeaderCorrelationID ties a message to the conversation it belongs to.
	HeaderCorrelationID = "rbs2-corr-id"

	// HeaderContentType describes the encoding of the body.
	HeaderContentType = "rbs2-content-type"

	// HeaderType carries the logical message type name.
	HeaderType = "rbs2-msg-type"

	// HeaderTimeToBeReceived is a duration (Go syntax, e.g. "30s") after
	// which an undelivered message may be dropped.
	HeaderTimeToBeReceived = "rbs2-time-to-be-received"

	// HeaderDeferredUntil is an RFC 3339 timestamp before which the message
	// must not be delivered.
	HeaderDeferredUntil = "rbs2-deferred-until"

	// HeaderReturnAddress is the queue replies should be sent to.
	HeaderReturnAddress = "rbs2-return-address"

	// HeaderSenderAddress is the input queue of the sending endpoint.
	HeaderSenderAddress = "rbs2-sender-address"
)
