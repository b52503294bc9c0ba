package azureservicebus

import (
	"context"
	"errors"
	"sync"
	"time"

	azsb "github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	rebus "github.com/riezebosch/Rebus.AzureServiceBus"
)

const (
	// renewalFraction of the remaining lease is waited out before renewing,
	// leaving enough slack to survive one failed attempt.
	renewalFraction = 0.7

	minRenewalInterval  = 10 * time.Millisecond
	renewalRetryBackoff = 5 * time.Second
)

// renewer keeps one received message's peek lock alive until stopped. It is
// registered as a disposed hook on the owning transaction context, so it is
// cancelled on every exit path, committed or not.
type renewer struct {
	receiver messageReceiver
	msg      *azsb.ReceivedMessage
	logger   rebus.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newRenewer(receiver messageReceiver, msg *azsb.ReceivedMessage, logger rebus.Logger) *renewer {
	return &renewer{
		receiver: receiver,
		msg:      msg,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (r *renewer) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)
}

func (r *renewer) run(ctx context.Context) {
	defer close(r.done)

	timer := time.NewTimer(renewalDelay(r.msg.LockedUntil, time.Now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := r.receiver.RenewMessageLock(ctx, r.msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			var sbErr *azsb.Error
			if errors.As(err, &sbErr) && sbErr.Code == azsb.CodeLockLost {
				// The lock moved on without us, most likely because the
				// message was settled or the lease ran out and another
				// receiver took over. Either way the message is handled
				// through another path; nothing to propagate.
				r.logf("lock for message %q was lost before it could be renewed: %v", r.msg.MessageID, err)
				return
			}
			r.logf("could not renew lock for message %q: %v", r.msg.MessageID, err)
			timer.Reset(renewalRetryBackoff)
			continue
		}

		// RenewMessageLock refreshed LockedUntil in place.
		timer.Reset(renewalDelay(r.msg.LockedUntil, time.Now()))
	}
}

// Stop cancels the renewal task and waits for it to finish. Idempotent.
func (r *renewer) Stop() {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		<-r.done
	})
}

func (r *renewer) logf(format string, v ...any) {
	if r.logger != nil {
		r.logger.Logf(format, v...)
	}
}

// renewalDelay computes how long to wait before the next renewal attempt.
func renewalDelay(lockedUntil *time.Time, now time.Time) time.Duration {
	if lockedUntil == nil {
		return minRenewalInterval
	}
	d := time.Duration(renewalFraction * float64(lockedUntil.Sub(now)))
	if d < minRenewalInterval {
		return minRenewalInterval
	}
	return d
}
