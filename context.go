/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package interposer

// CallKind distinguishes ordinary call sites from constructor call sites.
// Constructor outcomes are always rewrapped so that later interactions
// with the produced value remain interceptable.
type CallKind int

const (
	KindFunction CallKind = iota
	KindConstructor
)

// reserved Meta key used to request rewrapping of the call outcome
const metaRewrap = "rewrap"

// CallContext describes a single invocation.  It is created fresh for
// every call and discarded afterwards.
//
// Call is the identity of the entity being invoked.  It may be any value
// that serializes cleanly (typically a string such as "S3Client.ListBuckets"),
// or a value that does not, in which case the content addresser substitutes
// a normalized textual signature for it.
//
// Meta is temporary storage for the duration of the call.  Handlers may
// stash whatever they need in it; only the addresser's reserved "tape"
// namespace participates in call identity.
type CallContext struct {
	Call   interface{}
	Args   []interface{}
	KWArgs map[string]interface{}
	Meta   map[string]interface{}
	Kind   CallKind
}

// NewCallContext builds a context for a function-kind call.
func NewCallContext(call interface{}, args ...interface{}) *CallContext {
	return &CallContext{
		Call: call,
		Args: args,
		Meta: map[string]interface{}{},
	}
}

// MarkRewrap flags the outcome of the call for rewrapping.  Handlers call
// this from their hooks for factory-style calls whose results should stay
// observable.  Flags from multiple handlers merge by logical OR.
func (cc *CallContext) MarkRewrap() {
	cc.Meta[metaRewrap] = true
}

// RewrapRequested reports whether the outcome must be rewrapped, either
// because the call site is a constructor or because a handler asked for it.
func (cc *CallContext) RewrapRequested() bool {
	if cc.Kind == KindConstructor {
		return true
	}
	flagged, _ := cc.Meta[metaRewrap].(bool)
	return flagged
}

// CallBypass provides an alternate result for a call.  When a handler
// returns one from OnCallBegin, the real call never executes.
type CallBypass struct {
	Result interface{}
}

// CallHandler observes, short-circuits, or transforms a call.  Handlers are
// consulted in order, outermost first.  A handler must tolerate being
// invoked at both the begin and end of the same call, but is never invoked
// concurrently for one pipeline.
type CallHandler interface {
	// OnCallBegin is invoked before the actual call is made.  The args in
	// the context belong to the original caller, so treat them as read-only.
	// Returning a non-nil CallBypass stops the chain and prevents the real
	// call; the bypass result is used instead.  Returning an error aborts
	// the call and the error propagates to the caller verbatim.
	OnCallBegin(cc *CallContext) (*CallBypass, error)

	// OnCallResult is invoked after a successful call.  The returned value
	// feeds the next handler, and the final value is returned to the caller,
	// so implementations may transform the result.
	OnCallResult(cc *CallContext, result interface{}) (interface{}, error)

	// OnCallError is invoked after a failed call.  Returning nil leaves the
	// current error in place; returning a non-nil error replaces it for the
	// next handler and ultimately for the caller.  The framework never
	// swallows the error: something is always returned to the caller.
	OnCallError(cc *CallContext, callErr error) error
}

// NoopHandler is a passthrough CallHandler, suitable for embedding when an
// implementation only cares about a subset of the hooks.
type NoopHandler struct{}

func (NoopHandler) OnCallBegin(*CallContext) (*CallBypass, error) {
	return nil, nil
}

func (NoopHandler) OnCallResult(_ *CallContext, result interface{}) (interface{}, error) {
	return result, nil
}

func (NoopHandler) OnCallError(*CallContext, error) error {
	return nil
}
