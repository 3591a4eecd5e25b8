/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package recorder bridges the interception pipeline to a tape deck.  Its
// Handler records every intercepted call while recording and bypasses the
// real call with the taped outcome while playing back.  The Fixture wires a
// deck into a go test, selecting the mode from the environment so the same
// test exercises the real dependency occasionally and the recording always.
package recorder

import (
	"github.com/interposer-io/interposer"
	"github.com/interposer-io/interposer/tapedeck"
)

// Handler is a CallHandler backed by a tape deck.  Calls flow into the
// channel given at construction, so one deck can hold multiple independent
// call streams.
type Handler struct {
	deck    *tapedeck.TapeDeck
	channel string
}

// NewHandler builds a handler recording to, or playing back from, the given
// channel of an open deck.
func NewHandler(deck *tapedeck.TapeDeck, channel string) *Handler {
	return &Handler{
		deck:    deck,
		channel: channel,
	}
}

// OnCallBegin bypasses the real call with the taped outcome during
// playback.  A recorded fault surfaces as the returned error, which the
// pipeline propagates to the caller verbatim.
func (h *Handler) OnCallBegin(cc *interposer.CallContext) (*interposer.CallBypass, error) {
	if h.deck.Mode() != tapedeck.Playback {
		return nil, nil
	}
	result, err := h.deck.Playback(cc, h.channel)
	if err != nil {
		return nil, err
	}
	return &interposer.CallBypass{Result: result}, nil
}

// OnCallResult records a successful outcome.  Playback bypasses the real
// call, so this only runs while recording.
func (h *Handler) OnCallResult(cc *interposer.CallContext, result interface{}) (interface{}, error) {
	if err := h.deck.Record(cc, result, nil, h.channel); err != nil {
		return nil, err
	}
	return result, nil
}

// OnCallError records a failed outcome.  The original error is kept; the
// handler never substitutes its own.
func (h *Handler) OnCallError(cc *interposer.CallContext, callErr error) error {
	if err := h.deck.Record(cc, nil, callErr, h.channel); err != nil {
		return err
	}
	return nil
}
