// Package operation separates what the agent does from how it is triggered.
// Trigger code (tray menu, local server) names an operation kind and its
// parameters; a Factory resolves that to an Operation through a fixed dispatch
// table and turns every outcome, including panics, into a Result.
package operation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
	"github.com/SimplyPrint/sign-agent/internal/logging"
	"github.com/SimplyPrint/sign-agent/internal/metrics"
)

// Kind names an operation.
type Kind string

const (
	KindListCards      Kind = "list_cards"
	KindGetCertificate Kind = "get_certificate"
	KindSign           Kind = "sign"
	KindSyncDevices    Kind = "sync_devices"
	KindProcessRequest Kind = "process_request"
)

// Operation is a resolved, ready-to-run unit of work.
// Execute returns an error for exceptional failures; non-exceptional outcomes
// such as a missing card are reported through the Result.
type Operation interface {
	Kind() Kind
	Execute(ctx context.Context) (Result, error)
}

// Builder constructs an operation from parameters already checked for arity.
type Builder func(deps *Deps, params []any) (Operation, error)

type entry struct {
	arity int
	build Builder
}

// Factory resolves operation kinds and performs them.
type Factory struct {
	deps    *Deps
	table   map[Kind]entry
	metrics *metrics.Metrics
}

// NewFactory creates a factory with the built-in operations registered.
func NewFactory(deps *Deps, m *metrics.Metrics) *Factory {
	f := &Factory{deps: deps, table: make(map[Kind]entry), metrics: m}
	f.Register(KindListCards, 0, buildListCards)
	f.Register(KindGetCertificate, 1, buildGetCertificate)
	f.Register(KindSign, 4, buildSign)
	f.Register(KindSyncDevices, 0, buildSyncDevices)
	f.Register(KindProcessRequest, 1, buildProcessRequest)
	return f
}

// Register adds or replaces the builder for kind.
func (f *Factory) Register(kind Kind, arity int, build Builder) {
	f.table[kind] = entry{arity: arity, build: build}
}

// Kinds returns the registered kinds, sorted.
func (f *Factory) Kinds() []Kind {
	kinds := make([]Kind, 0, len(f.table))
	for k := range f.table {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Resolve builds the operation for kind. Unknown kinds and parameter
// mismatches are KindConfiguration errors.
func (f *Factory) Resolve(kind Kind, params ...any) (Operation, error) {
	e, ok := f.table[kind]
	if !ok {
		return nil, apperr.New(apperr.KindConfiguration, "operation.unknown_kind", kind)
	}
	if len(params) != e.arity {
		return nil, apperr.New(apperr.KindConfiguration, "operation.arity_mismatch", kind, e.arity, len(params))
	}
	return e.build(f.deps, params)
}

// Perform runs op on the calling goroutine. It never panics and never returns
// an error: failures become StatusException results.
func (f *Factory) Perform(ctx context.Context, op Operation) (res Result) {
	if op == nil {
		return Exception(apperr.New(apperr.KindConfiguration, "operation.nil_operation"))
	}
	start := time.Now()
	kind := op.Kind()

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logging.CapturePanic(r, stack, "operation:"+string(kind))
			logging.Error(logging.CatOperation, "Operation panicked", map[string]any{
				"kind":  kind,
				"panic": fmt.Sprintf("%v", r),
				"stack": string(stack),
			})
			res = Exception(apperr.New(apperr.KindInternal, "operation.panic", kind, fmt.Sprintf("%v", r)))
		}
		f.metrics.ObserveOperation(string(kind), string(res.Status), time.Since(start))
	}()

	res, err := op.Execute(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return WithStatus(StatusUserCancelled, "cancelled")
		}
		logging.Warn(logging.CatOperation, "Operation failed", map[string]any{
			"kind":  kind,
			"error": err.Error(),
		})
		if apperr.KindOf(err) == apperr.KindInternal {
			logging.CaptureError(err, "operation:"+string(kind), nil)
		}
		return Exception(err)
	}
	if res.Status == "" {
		res.Status = StatusSuccess
	}

	logging.Info(logging.CatOperation, "Operation completed", map[string]any{
		"kind":     kind,
		"status":   res.Status,
		"duration": time.Since(start).String(),
	})
	return res
}

// Call resolves and performs kind. Resolution failures become StatusException results.
func (f *Factory) Call(ctx context.Context, kind Kind, params ...any) Result {
	op, err := f.Resolve(kind, params...)
	if err != nil {
		logging.Warn(logging.CatOperation, "Operation could not be resolved", map[string]any{
			"kind":  kind,
			"error": err.Error(),
		})
		f.metrics.ObserveOperation(string(kind), string(StatusException), 0)
		return Exception(err)
	}
	return f.Perform(ctx, op)
}

// param returns params[i] as a T.
func param[T any](kind Kind, params []any, i int) (T, error) {
	v, ok := params[i].(T)
	if !ok {
		var zero T
		return zero, apperr.New(apperr.KindConfiguration, "operation.param_type", kind, i,
			fmt.Sprintf("%T", zero), fmt.Sprintf("%T", params[i]))
	}
	return v, nil
}
