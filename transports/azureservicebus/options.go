package azureservicebus

import (
	"strings"
	"time"

	rebus "github.com/riezebosch/Rebus.AzureServiceBus"
)

// RetrySettings bound the exponential backoff the underlying client applies
// to transient broker errors.
type RetrySettings struct {
	MaxAttempts int32
	Delay       time.Duration
	MaxDelay    time.Duration
}

// Options contains the transport configuration.
type Options struct {
	// Logger receives diagnostics. May be nil.
	Logger rebus.Logger

	// AutomaticLockRenewal keeps extending the peek lock of a received
	// message until its transaction settles. Cannot be combined with
	// prefetching: prefetched messages sit in a client-side buffer with
	// nobody tracking their leases.
	AutomaticLockRenewal bool

	// Partitioning enables entity partitioning on queues this transport
	// creates. The broker only honors this at creation time.
	Partitioning bool

	// ManageEntities controls whether the transport creates and reconciles
	// queues, topics and subscriptions. When false the transport runs in
	// read-only mode and assumes all entities exist.
	ManageEntities bool

	// DefaultTTL is applied as the default message time-to-live on queues
	// this transport creates. Zero leaves the broker default.
	DefaultTTL time.Duration

	// LockDuration is applied to queues this transport creates. Zero leaves
	// the broker default.
	LockDuration time.Duration

	// PrefetchCount makes the receiver pull up to this many messages per
	// broker round trip, buffering the surplus client-side.
	PrefetchCount int

	// ReceiveTimeout bounds how long a single Receive waits for a message.
	// Zero defers to the OperationTimeout connection-string key (falling
	// back to 2s); a negative value waits indefinitely.
	ReceiveTimeout time.Duration

	// Retry bounds the client's transient-error backoff.
	Retry RetrySettings
}

type Option func(*Options)

func NewOptions(opts ...Option) Options {
	options := Options{
		ManageEntities: true,
		Retry: RetrySettings{
			MaxAttempts: 5,
			Delay:       800 * time.Millisecond,
			MaxDelay:    10 * time.Second,
		},
	}
	for _, o := range opts {
		o(&options)
	}
	return options
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l rebus.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithAutomaticLockRenewal enables background peek-lock renewal for received
// messages.
func WithAutomaticLockRenewal() Option {
	return func(o *Options) {
		o.AutomaticLockRenewal = true
	}
}

// WithPartitioning enables partitioning on newly created queues.
func WithPartitioning() Option {
	return func(o *Options) {
		o.Partitioning = true
	}
}

// WithoutEntityManagement puts the transport in read-only mode: no queues,
// topics or subscriptions are created or updated.
func WithoutEntityManagement() Option {
	return func(o *Options) {
		o.ManageEntities = false
	}
}

// WithDefaultTTL sets the default message time-to-live on created queues.
func WithDefaultTTL(d time.Duration) Option {
	return func(o *Options) {
		o.DefaultTTL = d
	}
}

// WithLockDuration sets the peek-lock duration on created queues.
func WithLockDuration(d time.Duration) Option {
	return func(o *Options) {
		o.LockDuration = d
	}
}

// WithPrefetchCount enables client-side prefetching.
func WithPrefetchCount(n int) Option {
	return func(o *Options) {
		o.PrefetchCount = n
	}
}

// WithReceiveTimeout overrides the receive wait. Negative waits indefinitely.
func WithReceiveTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ReceiveTimeout = d
	}
}

// WithRetry overrides the transient-error retry policy applied by the
// underlying client.
func WithRetry(maxAttempts int32, delay, maxDelay time.Duration) Option {
	return func(o *Options) {
		o.Retry = RetrySettings{MaxAttempts: maxAttempts, Delay: delay, MaxDelay: maxDelay}
	}
}

const defaultReceiveTimeout = 2 * time.Second

// operationTimeoutKey is a transport extension to the connection string: it
// is stripped before the string reaches the SDK.
const operationTimeoutKey = "operationtimeout"

// splitConnectionString separates the OperationTimeout extension from the
// parts the SDK understands. The returned timeout is 0 when a receive should
// wait indefinitely; ok reports whether the key was present at all.
func splitConnectionString(cs string) (sdkConnectionString string, timeout time.Duration, ok bool) {
	var kept []string
	for _, part := range strings.Split(cs, ";") {
		k, v, found := strings.Cut(part, "=")
		if found && strings.EqualFold(strings.TrimSpace(k), operationTimeoutKey) {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				timeout, ok = d, true
			}
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, ";"), timeout, ok
}

// resolveReceiveTimeout combines the programmatic option, the connection
// string knob and the default. The result is 0 for an unbounded wait.
func resolveReceiveTimeout(opts Options, fromConnectionString time.Duration, hasConnectionStringValue bool) time.Duration {
	switch {
	case opts.ReceiveTimeout < 0:
		return 0
	case opts.ReceiveTimeout > 0:
		return opts.ReceiveTimeout
	case hasConnectionStringValue:
		if fromConnectionString <= 0 {
			return 0
		}
		return fromConnectionString
	default:
		return defaultReceiveTimeout
	}
}
