/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package recorder

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/interposer-io/interposer/tapedeck"
)

// TapesDirectory is where fixtures keep their recordings, relative to the
// directory the fixture is rooted at (conventionally the package's
// testdata directory).
const TapesDirectory = "tapes"

// Fixture runs a test against a recording.  When the RECORDING environment
// variable is set the fixture records what the test does; otherwise the
// test runs in playback mode against the stored tape.  One tape per fixture
// name; channels split the tape between the tests sharing it.
type Fixture struct {
	deck *tapedeck.TapeDeck
}

// NewFixture opens a deck named after the test under dir/tapes, in the mode
// selected by the environment.  Callers should defer Close.
func NewFixture(dir, name string, opts ...tapedeck.DeckOpt) (*Fixture, error) {
	mode := tapedeck.ModeFromEnv()
	path := filepath.Join(dir, TapesDirectory, name)

	if mode == tapedeck.Recording {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.WithMessage(err, "could not create the tapes directory")
		}
	}

	deck := tapedeck.New(path, mode, opts...)
	if err := deck.Open(); err != nil {
		return nil, errors.WithMessagef(err, "could not open tape %s", path)
	}
	return &Fixture{deck: deck}, nil
}

// Deck exposes the underlying tape deck, mostly for Redact calls.
func (f *Fixture) Deck() *tapedeck.TapeDeck {
	return f.deck
}

// Mode reports whether the fixture is recording or playing back.
func (f *Fixture) Mode() tapedeck.Mode {
	return f.deck.Mode()
}

// Channel returns a handler recording to (or playing back from) the named
// channel.  Conventionally the channel is the test name.
func (f *Fixture) Channel(name string) *Handler {
	return NewHandler(f.deck, name)
}

// Close finalizes the recording or playback session.  Idempotent.
func (f *Fixture) Close() error {
	return f.deck.Close()
}
