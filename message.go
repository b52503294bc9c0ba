package rebus

// TransportMessage is a destination-agnostic message: string headers plus an
// opaque payload. Bodies pass through the transport unchanged.
type TransportMessage struct {
	Headers map[string]string
	Body    []byte
}

// NewTransportMessage copies the given headers into a fresh message.
func NewTransportMessage(headers map[string]string, body []byte) *TransportMessage {
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return &TransportMessage{Headers: h, Body: body}
}

// Clone returns a message with its own header map. The body is shared; it is
// treated as immutable once the message is constructed.
func (m *TransportMessage) Clone() *TransportMessage {
	return NewTransportMessage(m.Headers, m.Body)
}

// OutgoingMessage pairs a destination address with a message staged for
// sending. Created on Send, consumed exactly once at commit time.
type OutgoingMessage struct {
	Destination string
	Message     *TransportMessage
}
