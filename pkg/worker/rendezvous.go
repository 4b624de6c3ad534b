package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zamerlab/avitofleet/pkg/avito"
)

// errTraversalFinished unblocks a late RequestPage after the host has torn
// the rendezvous down.
var errTraversalFinished = errors.New("catalog traversal finished")

// Rendezvous is the strict request/supply handoff between the catalog
// traversal and the coordinator. One single-slot channel in each direction:
// the traversal blocks until a page is supplied, the coordinator blocks
// until a request arrives. The channels never leak to callers.
type Rendezvous struct {
	reqCh    chan avito.PageRequest
	supplyCh chan avito.Page
	done     chan struct{}
	once     sync.Once
}

func NewRendezvous() *Rendezvous {
	return &Rendezvous{
		reqCh:    make(chan avito.PageRequest, 1),
		supplyCh: make(chan avito.Page, 1),
		done:     make(chan struct{}),
	}
}

// RequestPage is the traversal-side half: publish the failure and block
// until the coordinator supplies a replacement page.
func (r *Rendezvous) RequestPage(ctx context.Context, req avito.PageRequest) (avito.Page, error) {
	select {
	case r.reqCh <- req:
	case <-r.done:
		return nil, errTraversalFinished
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case page := <-r.supplyCh:
		return page, nil
	case <-r.done:
		return nil, errTraversalFinished
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait is the coordinator-side half. ok is false when the traversal
// finished (Finish was called) or nothing arrived within timeout; both mean
// the coordinator should exit cleanly.
func (r *Rendezvous) Wait(ctx context.Context, timeout time.Duration) (avito.PageRequest, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case req := <-r.reqCh:
		return req, true
	case <-r.done:
		return avito.PageRequest{}, false
	case <-timer.C:
		return avito.PageRequest{}, false
	case <-ctx.Done():
		return avito.PageRequest{}, false
	}
}

// Supply hands a page to the blocked traversal. Non-blocking into the
// single slot; a second Supply before the traversal consumed the first
// would be a protocol violation and is dropped.
func (r *Rendezvous) Supply(page avito.Page) {
	select {
	case r.supplyCh <- page:
	default:
	}
}

// Finish releases both sides. Called by the host once the traversal
// returned.
func (r *Rendezvous) Finish() {
	r.once.Do(func() { close(r.done) })
}
