/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package interposer records real interactions with an external dependency
// once and deterministically replays them later, eliminating hand-written
// mocks while remaining faithful to real responses.
//
// The package is built from two pieces.  The interception pipeline runs an
// ordered chain of CallHandlers around a real call; any handler may observe
// the call, short-circuit it with a CallBypass, or transform its outcome.
// The tapedeck subpackage provides the deterministic, content-addressed
// record/playback store those handlers typically delegate to.
//
// Call sites are designated explicitly: the caller wraps an entity with
// Wrap or WrapConstructor and binds the methods it wants intercepted.
// There is no reflective discovery of reachable call sites; an allow-list
// of wrapped entities trades automatic coverage for static safety.
package interposer

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Func is the shape of a real call.  During playback the function may be
// nil as long as a handler bypasses the call.
type Func func(args ...interface{}) (interface{}, error)

// Pipeline orchestrates a handler chain around a real call.  It keeps no
// state beyond the single call; handler-internal state is the handler's
// own responsibility.
type Pipeline struct {
	handlers []CallHandler
	logger   Logger
}

// NewPipeline assembles a pipeline over the given handlers.  Handlers are
// consulted in argument order, outermost first.
func NewPipeline(handlers ...CallHandler) *Pipeline {
	return &Pipeline{
		handlers: handlers,
		logger:   zap.NewNop(),
	}
}

// WithLogger overrides the no-op default logger.
func (p *Pipeline) WithLogger(logger Logger) *Pipeline {
	p.logger = logger
	return p
}

// Invoke runs one call through the handler chain.
//
// Begin hooks run in order; the first bypass stops the chain and the real
// call never executes.  Otherwise the real call runs and its outcome is
// folded through the end hooks: results feed from one handler to the next,
// errors may be replaced but never suppressed.  Errors raised by the hooks
// themselves propagate to the caller verbatim.
func (p *Pipeline) Invoke(cc *CallContext, call Func) (interface{}, error) {
	for _, handler := range p.handlers {
		bypass, err := handler.OnCallBegin(cc)
		if err != nil {
			return nil, err
		}
		if bypass != nil {
			p.logger.Debug("call bypassed", zap.String("call", fmt.Sprint(cc.Call)))
			return bypass.Result, nil
		}
	}

	if call == nil {
		return nil, errors.Errorf("no handler bypassed %v and no real call was supplied", cc.Call)
	}

	result, callErr := call(cc.Args...)
	if callErr != nil {
		for _, handler := range p.handlers {
			if replacement := handler.OnCallError(cc, callErr); replacement != nil {
				callErr = replacement
			}
		}
		return nil, callErr
	}

	for _, handler := range p.handlers {
		var err error
		result, err = handler.OnCallResult(cc, result)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// Interposed is an explicitly designated interceptable entity: a callable,
// a constructor, or a value produced by one.  All children created via Bind
// or rewrapping share the parent's handler chain.
type Interposed struct {
	pipeline *Pipeline
	entity   interface{}
	name     string
	kind     CallKind
}

// Wrap designates an entity as interceptable under the given handler chain.
// The name is the entity's identity for recording purposes and should be
// stable across runs.
func Wrap(name string, entity interface{}, handlers ...CallHandler) *Interposed {
	return &Interposed{
		pipeline: NewPipeline(handlers...),
		entity:   entity,
		name:     name,
	}
}

// WrapConstructor designates a constructor call site.  Calling it returns
// an *Interposed wrapping the constructed value, so later interactions with
// the value stay observable under the same handler chain.
func WrapConstructor(name string, fn Func, handlers ...CallHandler) *Interposed {
	w := Wrap(name, fn, handlers...)
	w.kind = KindConstructor
	return w
}

// IsInterposed reports whether a value is a wrapped entity.
func IsInterposed(entity interface{}) bool {
	_, ok := entity.(*Interposed)
	return ok
}

// Unwrap returns the underlying entity.
func (w *Interposed) Unwrap() interface{} {
	return w.entity
}

// Name returns the registered identity of the wrapped entity.
func (w *Interposed) Name() string {
	return w.name
}

// Bind designates a callable attribute of the wrapped entity as
// interceptable.  The bound call site shares this entity's handler chain
// and its identity is "<entity>.<method>".
func (w *Interposed) Bind(method string, fn Func) *Interposed {
	return &Interposed{
		pipeline: w.pipeline,
		entity:   fn,
		name:     w.name + "." + method,
	}
}

// Call invokes the wrapped entity through the pipeline.  The entity must
// have been wrapped around a Func (or be bypassed by a handler during
// playback).  If the call site is a constructor, or any handler flagged the
// context for rewrap, the outcome is returned wrapped in an *Interposed.
func (w *Interposed) Call(args ...interface{}) (interface{}, error) {
	return w.CallKW(nil, args...)
}

// CallKW is Call with named arguments, for call sites whose identity
// includes name→value options.
func (w *Interposed) CallKW(kwargs map[string]interface{}, args ...interface{}) (interface{}, error) {
	cc := NewCallContext(w.name, args...)
	cc.KWArgs = kwargs
	cc.Kind = w.kind

	result, err := w.pipeline.Invoke(cc, w.callable())
	if err != nil {
		return nil, err
	}

	if cc.RewrapRequested() {
		// register the outcome so its own interactions stay observable
		return &Interposed{
			pipeline: w.pipeline,
			entity:   result,
			name:     w.name,
		}, nil
	}
	return result, nil
}

func (w *Interposed) callable() Func {
	switch fn := w.entity.(type) {
	case Func:
		return fn
	case func(args ...interface{}) (interface{}, error):
		return fn
	default:
		return nil
	}
}
