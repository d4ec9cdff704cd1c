package batchz

import (
	"golang.org/x/sync/errgroup"
)

// Handle tracks an engine started with Start.
type Handle struct {
	group  errgroup.Group
	done   <-chan struct{}
	cancel func()
}

func newHandle(done <-chan struct{}, cancel func()) *Handle {
	return &Handle{
		done:   done,
		cancel: cancel,
	}
}

// Done is closed when the engine has fully stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the engine stops and returns its terminal error: nil
// after a graceful shutdown, the cancellation error otherwise.
func (h *Handle) Wait() error {
	return h.group.Wait()
}

// Cancel aborts the engine without flushing the pending batch.
func (h *Handle) Cancel() {
	h.cancel()
}
