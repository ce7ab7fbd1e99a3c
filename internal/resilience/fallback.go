package resilience

import "context"

// Fallback runs fn under p. When the failure satisfies when, it returns the
// placeholder from fb with degraded set instead of the error.
func Fallback[T any](
	ctx context.Context,
	p Policy,
	fn func(ctx context.Context) (T, error),
	when func(error) bool,
	fb func(err error) T,
) (v T, degraded bool, err error) {
	v, err = Do(ctx, p, fn)
	if err != nil && when(err) {
		return fb(err), true, nil
	}
	return v, false, err
}
