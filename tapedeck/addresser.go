/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package tapedeck

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/interposer-io/interposer"
)

// Reserved names inside the context's "tape" metadata namespace.  Channel
// and ordinal are stamped before the context is hashed; the hash is stamped
// after, purely for diagnostics.
const (
	LabelTape    = "tape"
	LabelChannel = "channel"
	LabelOrdinal = "ordinal"
	LabelHash    = "hash"
)

// volatileAddress matches the hexadecimal pointers Go prints for values
// with no literal syntax, such as funcs and channels.
var volatileAddress = regexp.MustCompile(`0x[0-9a-fA-F]+`)

// fixedAddressToken replaces volatile addresses in normalized signatures so
// the same logical call hashes identically across independent runs.
const fixedAddressToken = "0xdecafc0ffee"

func normalizeSignature(signature string) string {
	return volatileAddress.ReplaceAllString(signature, fixedAddressToken)
}

// advance moves the deck onto the next call for a channel.  It consumes the
// channel's next ordinal, stamps channel and ordinal into the reserved tape
// namespace of the context, and hashes the redacted canonical serialization
// of the context into the entry key.  Because the ordinal participates in
// the key, any drift between the recorded and replayed call order shows up
// as a missing key rather than a wrong match.
func (d *TapeDeck) advance(cc *interposer.CallContext, channel string) (string, error) {
	ordinal := d.ordinals[channel]
	d.ordinals[channel] = ordinal + 1

	tapeMeta := map[string]interface{}{
		LabelChannel: channel,
		LabelOrdinal: ordinal,
	}
	cc.Meta[LabelTape] = tapeMeta

	raw, err := d.canonicalize(cc, tapeMeta)
	if err != nil {
		return "", err
	}
	raw = d.redactions.apply(raw)

	if d.debugDir != "" {
		d.dumpRawCall(raw, channel, ordinal)
	}

	sum := sha256.Sum256(raw)
	key := hex.EncodeToString(sum[:])
	tapeMeta[LabelHash] = key

	if d.callLog != nil {
		if err := d.callLog.append(callRecord{
			Channel: channel,
			Ordinal: ordinal,
			Call:    d.normalize(fmt.Sprint(cc.Call)),
			Hash:    key,
			Mode:    strings.ToLower(d.mode.String()),
		}); err != nil {
			return "", errors.WithMessage(err, "could not append to the diagnostic call log")
		}
	}

	return key, nil
}

// canonicalize produces the canonical byte form of the hashable identity of
// a call: the call target, its ordered args, its named args, and the
// reserved tape namespace.  Handler-added metadata outside that namespace
// is deliberately excluded.
//
// A call target that cannot be serialized verbatim is replaced, for that
// value only, by its normalized textual signature and serialization is
// retried.  Two distinct runtime targets with equal normalized signature
// and equal arguments produce the same key on purpose: they are the same
// effective call.  Disambiguate via channel if that matters.
func (d *TapeDeck) canonicalize(cc *interposer.CallContext, tapeMeta map[string]interface{}) ([]byte, error) {
	callJSON, err := json.Marshal(cc.Call)
	if err != nil {
		callJSON, err = json.Marshal(d.normalize(fmt.Sprint(cc.Call)))
		if err != nil {
			return nil, errors.WithMessage(err, "could not serialize the normalized call signature")
		}
	}

	view := map[string]interface{}{
		"call":   json.RawMessage(callJSON),
		"args":   cc.Args,
		"kwargs": cc.KWArgs,
		"kind":   int(cc.Kind),
		LabelTape: map[string]interface{}{
			LabelChannel: tapeMeta[LabelChannel],
			LabelOrdinal: tapeMeta[LabelOrdinal],
		},
	}

	raw, err := json.Marshal(view)
	if err != nil {
		return nil, errors.WithMessage(err, "call context cannot be serialized")
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, errors.WithMessage(err, "could not canonicalize call context")
	}
	return canonical, nil
}

// dumpRawCall writes the raw canonical bytes for one call to the debug
// directory, named {mode}-{channel}-{ordinal}, for offline diagnosis of
// hash mismatches.  Failures are logged, not fatal: the dump is a debugging
// aid, never part of the recording.
func (d *TapeDeck) dumpRawCall(raw []byte, channel string, ordinal uint64) {
	if err := os.MkdirAll(d.debugDir, 0755); err != nil {
		d.logger.Warn("could not create debug directory", zap.Error(err))
		return
	}
	name := fmt.Sprintf("%s-%s-%d", strings.ToLower(d.mode.String()), channel, ordinal)
	if err := ioutil.WriteFile(filepath.Join(d.debugDir, name), raw, 0644); err != nil {
		d.logger.Warn("could not write raw call bytes", zap.Error(err))
	}
}
