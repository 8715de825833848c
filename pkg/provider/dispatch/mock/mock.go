// Package mock provides a test double for the dispatch.Dispatcher interface.
package mock

import (
	"context"
	"sync"

	"github.com/oasis-home/earshot/pkg/provider/dispatch"
)

// Compile-time assertion that Dispatcher implements dispatch.Dispatcher.
var _ dispatch.Dispatcher = (*Dispatcher)(nil)

// Dispatcher is a mock implementation of dispatch.Dispatcher.
// Set Receipt or Err before use; inspect Calls after.
type Dispatcher struct {
	mu sync.Mutex

	// Receipt is returned when Err is nil. Defaults to an accepting receipt.
	Receipt *dispatch.Receipt

	// Err, if non-nil, is returned from every Dispatch call.
	Err error

	// Block, when non-nil, makes Dispatch wait until the channel is closed
	// or ctx expires; useful for timeout tests.
	Block chan struct{}

	// Calls records every dispatched command in order.
	Calls []dispatch.Command
}

// Dispatch implements dispatch.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd dispatch.Command) (*dispatch.Receipt, error) {
	d.mu.Lock()
	d.Calls = append(d.Calls, cmd)
	block := d.Block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.Err != nil {
		return nil, d.Err
	}
	if d.Receipt != nil {
		return d.Receipt, nil
	}
	return &dispatch.Receipt{Accepted: true}, nil
}

// CallCount returns the number of recorded Dispatch calls.
func (d *Dispatcher) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}
