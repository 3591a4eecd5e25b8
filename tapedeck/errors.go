/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package tapedeck

import (
	"errors"
	"fmt"
)

// ErrAlreadyOpen is returned by Open when the deck is already open.  It is
// a fatal programming error, distinct from Close which is idempotent.
var ErrAlreadyOpen = errors.New("the tape deck is already open")

// CallNotFoundError is returned by Playback when the computed key has no
// recorded entry: either the call was never recorded, or the call sequence
// desynchronized somewhere upstream.  It is not retryable; the recording
// needs to be regenerated.
type CallNotFoundError struct {
	Channel string
	Ordinal uint64
	Key     string
	Call    string
}

func (e *CallNotFoundError) Error() string {
	return fmt.Sprintf(
		"could not find call %s (channel=%s ordinal=%d key=%s); regenerate your recording",
		e.Call, e.Channel, e.Ordinal, e.Key)
}

// FormatTooOldError is returned on Playback open when the persisted file
// format predates the earliest supported one.  It is not retryable; the
// recording needs to be regenerated.
type FormatTooOldError struct {
	FileFormat int
	Earliest   int
	Current    int
}

func (e *FormatTooOldError) Error() string {
	return fmt.Sprintf(
		"recording file format is too old; file=%d, accepted=%d:%d",
		e.FileFormat, e.Earliest, e.Current)
}

// UnknownRedactionError is returned by Redact during playback when the
// identifier is absent from the persisted redaction table.  It signals a
// mismatch between the recording and the playback code.
type UnknownRedactionError struct {
	Identifier string
}

func (e *UnknownRedactionError) Error() string {
	return fmt.Sprintf("redaction identifier %q is not part of this recording", e.Identifier)
}

// RedactionConflictError is returned by Redact during recording when an
// identifier is reused with a different secret.  It is a fatal programming
// error.
type RedactionConflictError struct {
	Identifier string
}

func (e *RedactionConflictError) Error() string {
	return fmt.Sprintf("redaction identifier %q is already registered for a different secret", e.Identifier)
}

// ReplayedError is the playback form of a recorded call error.  Kind is the
// normalized type of the original error and Message is its exact text.
type ReplayedError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *ReplayedError) Error() string {
	return e.Message
}
