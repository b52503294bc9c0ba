package middleware

import (
	"context"

	rebus "github.com/riezebosch/Rebus.AzureServiceBus"
)

// PruneHeaders wraps a transport so the listed headers are stripped from
// every outgoing message before the transport maps it. Useful for headers
// whose information the transport already carries in native message fields,
// where keeping the generic copy would just be redundant wire data.
func PruneHeaders(next rebus.Transport, headers ...string) rebus.Transport {
	drop := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		drop[h] = struct{}{}
	}
	return &pruneTransport{next: next, drop: drop}
}

type pruneTransport struct {
	next rebus.Transport
	drop map[string]struct{}
}

func (t *pruneTransport) Address() string { return t.next.Address() }

func (t *pruneTransport) CreateQueue(ctx context.Context, address string) error {
	return t.next.CreateQueue(ctx, address)
}

func (t *pruneTransport) Send(ctx context.Context, destination string, msg *rebus.TransportMessage, tx *rebus.TransactionContext) error {
	pruned := msg.Clone()
	for h := range t.drop {
		delete(pruned.Headers, h)
	}
	return t.next.Send(ctx, destination, pruned, tx)
}

func (t *pruneTransport) Receive(ctx context.Context, tx *rebus.TransactionContext) (*rebus.TransportMessage, error) {
	return t.next.Receive(ctx, tx)
}
