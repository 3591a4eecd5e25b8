/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package tapedeck

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/gowebpki/jcs"
	"github.com/pkg/errors"
)

// redaction associates a session-unique identifier with a secret and the
// placeholder that stands in for it everywhere in the persisted artifact.
// The placeholder is derived purely from the identifier and is exactly as
// long as the secret, so length-sensitive application logic behaves
// identically during recording and playback.  Only identifier→placeholder
// is ever persisted; the secret stays in memory for the session.
type redaction struct {
	secret      string
	placeholder string
}

type redactionTable struct {
	entries map[string]redaction
}

func newRedactionTable() *redactionTable {
	return &redactionTable{entries: map[string]redaction{}}
}

// register adds an identifier→placeholder association during recording.
// Re-registering the same identifier/secret pair is idempotent; reusing an
// identifier with a different secret is an error.
func (t *redactionTable) register(identifier, secret string) (string, error) {
	if identifier == "" {
		return "", errors.Errorf("redaction identifier must not be empty")
	}
	if existing, ok := t.entries[identifier]; ok {
		if existing.secret == secret {
			return existing.placeholder, nil
		}
		return "", &RedactionConflictError{Identifier: identifier}
	}

	placeholder := derivePlaceholder(identifier, secret)
	t.entries[identifier] = redaction{secret: secret, placeholder: placeholder}
	return placeholder, nil
}

// lookup resolves an identifier against a loaded table during playback.
func (t *redactionTable) lookup(identifier string) (string, error) {
	entry, ok := t.entries[identifier]
	if !ok {
		return "", &UnknownRedactionError{Identifier: identifier}
	}
	return entry.placeholder, nil
}

// apply replaces every occurrence of a registered secret in a canonical
// JSON document with its placeholder.  Secrets are matched in their
// canonical escaped form: inside a JSON string a secret containing a quote,
// backslash, or control byte does not appear as its raw bytes, and matching
// the raw form would let it through.  Identifiers are visited in sorted
// order so the replacement is deterministic when one secret is a substring
// of another's placeholder.
func (t *redactionTable) apply(raw []byte) []byte {
	identifiers := make([]string, 0, len(t.entries))
	for identifier := range t.entries {
		identifiers = append(identifiers, identifier)
	}
	sort.Strings(identifiers)

	for _, identifier := range identifiers {
		entry := t.entries[identifier]
		if entry.secret == "" {
			continue
		}
		raw = bytes.ReplaceAll(raw, canonicalStringBytes(entry.secret), canonicalStringBytes(entry.placeholder))
	}
	return raw
}

// canonicalStringBytes returns the bytes a string contributes to a
// canonical JSON document, without the surrounding quotes.
func canonicalStringBytes(s string) []byte {
	raw, err := json.Marshal(s)
	if err != nil {
		return []byte(s)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return raw[1 : len(raw)-1]
	}
	return canonical[1 : len(canonical)-1]
}

// placeholders returns the persistable identifier→placeholder form.
func (t *redactionTable) placeholders() map[string]string {
	result := make(map[string]string, len(t.entries))
	for identifier, entry := range t.entries {
		result[identifier] = entry.placeholder
	}
	return result
}

// load populates the table from a persisted identifier→placeholder map.
// Secrets are unknown during playback and stay empty.
func (t *redactionTable) load(persisted map[string]string) {
	for identifier, placeholder := range persisted {
		t.entries[identifier] = redaction{placeholder: placeholder}
	}
}

// derivePlaceholder builds a placeholder of exactly len(secret) bytes by
// repeating the identifier.  The placeholder must never equal or begin with
// the secret itself, so the leading byte is swapped out if the derivation
// would collide.
func derivePlaceholder(identifier, secret string) string {
	if len(secret) == 0 {
		return ""
	}

	buf := make([]byte, len(secret))
	for i := range buf {
		buf[i] = identifier[i%len(identifier)]
	}
	if buf[0] == secret[0] {
		if secret[0] == '^' {
			buf[0] = '~'
		} else {
			buf[0] = '^'
		}
	}
	return string(buf)
}
