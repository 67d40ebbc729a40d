package messaging

import (
	"context"
	"time"

	"github.com/geocoder89/tripadmin/internal/breaker"
)

type ProtectedNotifierConfig struct {
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// ProtectedNotifier bounds every send with a timeout and stops calling a failing provider.
type ProtectedNotifier struct {
	inner   Notifier
	breaker *breaker.Breaker
}

func NewProtectedNotifier(inner Notifier, cfg ProtectedNotifierConfig) *ProtectedNotifier {
	return &ProtectedNotifier{
		inner: inner,
		breaker: breaker.New(breaker.Config{
			Timeout:          cfg.Timeout,
			FailureThreshold: cfg.FailureThreshold,
			Cooldown:         cfg.Cooldown,
		}),
	}
}

func (n *ProtectedNotifier) Send(ctx context.Context, msg Message) (string, error) {
	var id string
	err := n.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		id, err = n.inner.Send(ctx, msg)
		return err
	})
	return id, err
}
