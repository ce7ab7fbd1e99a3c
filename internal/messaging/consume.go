package messaging

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Binding pairs a subscription with its handler.
type Binding struct {
	Subscription
	Handler Handler
}

// Run starts one consumer loop per binding and blocks until ctx is done or
// one of the loops fails.
func Run(ctx context.Context, s Subscriber, bindings ...Binding) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, b := range bindings {
		b := b
		g.Go(func() error {
			return s.Subscribe(ctx, b.Subscription, b.Handler)
		})
	}
	return g.Wait()
}
