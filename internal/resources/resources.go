// Package resources adapts the daemon's dependencies to lifecycle.Resource
// so the shutdown coordinator can release them in order.
package resources

import "context"

// closeWithContext runs fn in the background and stops waiting when ctx is done.
// fn itself keeps running; its late result is dropped.
func closeWithContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
