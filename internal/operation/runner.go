package operation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
	"github.com/SimplyPrint/sign-agent/internal/logging"
)

// Invocation is a deferred call: an operation kind, its parameters and a
// label for whoever triggered it.
type Invocation struct {
	ID     uuid.UUID
	Kind   Kind
	Params []any
	Label  string
}

// NewInvocation creates an invocation with a fresh ID.
func NewInvocation(kind Kind, label string, params ...any) Invocation {
	return Invocation{ID: uuid.New(), Kind: kind, Params: params, Label: label}
}

// Call performs the invocation synchronously.
func (inv Invocation) Call(ctx context.Context, f *Factory) Result {
	return f.Call(ctx, inv.Kind, inv.Params...)
}

// Event reports a finished invocation.
type Event struct {
	Invocation Invocation
	Result     Result
	Started    time.Time
	Finished   time.Time
}

// DefaultEventBuffer is the Events channel capacity used when none is given.
const DefaultEventBuffer = 16

// Runner performs invocations in the background and reports completions on a
// single channel. Events must be drained until it is closed.
type Runner struct {
	factory *Factory
	events  chan Event
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner creates a runner. buffer <= 0 means DefaultEventBuffer.
func NewRunner(f *Factory, buffer int) *Runner {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{factory: f, events: make(chan Event, buffer), ctx: ctx, cancel: cancel}
}

// Events delivers one Event per submitted invocation. It is closed by Close.
func (r *Runner) Events() <-chan Event { return r.events }

// Submit schedules inv and returns its ID.
func (r *Runner) Submit(inv Invocation) (uuid.UUID, error) {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return uuid.Nil, apperr.New(apperr.KindConfiguration, "operation.runner_closed", inv.Kind)
	}
	r.wg.Add(1)
	r.mu.Unlock()

	logging.Debug(logging.CatOperation, "Invocation submitted", map[string]any{
		"id":    inv.ID.String(),
		"kind":  inv.Kind,
		"label": inv.Label,
	})

	go func() {
		defer r.wg.Done()
		started := time.Now()
		res := inv.Call(r.ctx, r.factory)
		r.events <- Event{Invocation: inv, Result: res, Started: started, Finished: time.Now()}
	}()
	return inv.ID, nil
}

// Close stops accepting invocations, waits for running ones to report and
// closes Events. If ctx ends first the running operations are cancelled.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		r.cancel()
		<-done
		err = ctx.Err()
	}
	r.cancel()
	close(r.events)
	return err
}
