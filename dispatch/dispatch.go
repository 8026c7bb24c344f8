// Package dispatch serializes mutations on a single background worker
// and models the "main thread" requirement of the engine's public entry
// points as an explicit handle, since Go exposes no public goroutine
// identity to check against at runtime.
package dispatch

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"

	"github.com/mozilla-services/cert-storage/certerr"
	"github.com/mozilla-services/cert-storage/securitystate"
)

// Handle is a token identifying the goroutine that constructed a
// Dispatcher. Operations documented as main-thread-only take a Handle and
// return certerr.ErrWrongThread if it doesn't match the one captured at
// construction.
type Handle struct {
	id string
}

func newHandle() Handle {
	id, err := uuid.GenerateUUID()
	if err != nil {
		// uuid generation failure here means the host's entropy source is
		// broken; the handle then carries an empty id, the same id as a
		// zero-value Handle.
		id = ""
	}
	return Handle{id: id}
}

// task is a single unit of work queued to the serial worker.
type task struct {
	run  func() error
	done chan error
}

// Dispatcher owns the single serial worker goroutine that runs every
// mutating operation against a securitystate.State in submission order.
// Read-only operations bypass the worker entirely and run synchronously
// on the calling goroutine, as the engine's concurrency model allows.
type Dispatcher struct {
	state  *securitystate.State
	log    hclog.Logger
	handle Handle
	tasks  chan task
	done   chan struct{}
}

// New constructs a Dispatcher bound to the calling goroutine's Handle,
// submits the background delta-load task first (so it is always ordered
// ahead of any caller mutation), and starts the serial worker.
func New(state *securitystate.State, log hclog.Logger) (*Dispatcher, Handle) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	d := &Dispatcher{
		state:  state,
		log:    log,
		handle: newHandle(),
		tasks:  make(chan task, 64),
		done:   make(chan struct{}),
	}
	go d.run()

	// The background delta loader runs as part of State.EnsureOpen, which
	// every operation below calls before touching the store; submitting
	// an explicit open-ensuring task first guarantees it happens before
	// any caller-submitted mutation, mirroring the engine's ordering
	// guarantee without requiring callers to know about it.
	d.submit(func() error { return state.EnsureOpen() })

	return d, d.handle
}

func (d *Dispatcher) run() {
	for {
		select {
		case t := <-d.tasks:
			err := t.run()
			if t.done != nil {
				t.done <- err
			}
		case <-d.done:
			return
		}
	}
}

// submit enqueues fn on the serial worker and blocks until it completes,
// decrementing the outstanding-op counter on the way out. New uses it for
// the initial open task; the completion-callback API goes through
// submitAsync instead.
func (d *Dispatcher) submit(fn func() error) error {
	d.state.IncrementOutstandingOps()
	defer d.state.DecrementOutstandingOps()

	done := make(chan error, 1)
	d.tasks <- task{run: fn, done: done}
	return <-done
}

// Callback is invoked on completion of an asynchronous mutation with the
// task's error, nil on success. It carries no result value.
type Callback func(err error)

// submitAsync enqueues fn and invokes cb with its result once the serial
// worker completes it. The caller must be on the Dispatcher's handle.
func (d *Dispatcher) submitAsync(handle Handle, fn func() error, cb Callback) error {
	if handle.id != d.handle.id {
		return certerr.ErrWrongThread
	}
	d.state.IncrementOutstandingOps()
	go func() {
		defer d.state.DecrementOutstandingOps()
		done := make(chan error, 1)
		d.tasks <- task{run: fn, done: done}
		err := <-done
		if cb != nil {
			cb(err)
		}
	}()
	return nil
}

// Shutdown stops the serial worker. It does not wait for in-flight tasks;
// callers should poll RemainingOps (main-thread only) until it reaches
// zero first, per the engine's shutdown-coordination design note.
func (d *Dispatcher) Shutdown(handle Handle) error {
	if handle.id != d.handle.id {
		return certerr.ErrWrongThread
	}
	close(d.done)
	return nil
}

// RemainingOps is main-thread-only, matching the original's exposure of
// the outstanding-operation count for shutdown coordination and testing.
func (d *Dispatcher) RemainingOps(handle Handle) (int32, error) {
	if handle.id != d.handle.id {
		return 0, certerr.ErrWrongThread
	}
	return d.state.RemainingOps(), nil
}

// SetBatchRevocationStateAsync queues a revocation batch write on the
// serial worker and invokes cb on completion. Must be called from the
// Dispatcher's handle.
func (d *Dispatcher) SetBatchRevocationStateAsync(ctx context.Context, handle Handle, fn func() error, cb Callback) error {
	return d.submitAsync(handle, func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return fn()
	}, cb)
}

// GetRevocationState is a read-only query: it may be called from any
// goroutine and runs synchronously, taking State's shared lock directly
// rather than going through the serial worker.
func (d *Dispatcher) GetRevocationState(issuer, serial, subject, pubkey []byte) (int16, error) {
	state, err := d.state.GetRevocationState(issuer, serial, subject, pubkey)
	return int16(state), err
}
