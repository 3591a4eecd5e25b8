/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package tapedeck is a content-addressed call recording and playback
// store.  By recording your interaction with a third party library you can
// prove actual behavior occasionally, and generate a recording that can be
// used to replay the behavior later.  This allows unit tests to run against
// data from the actual source rather than hand-produced mocks.
//
// Recordings eliminate the need to produce and maintain mocks, but they
// need to be regenerated when the surrounding logic changes or when the
// third party changes.  Two failure signals mean exactly that: a call that
// was never recorded, and a recording whose file format is too old.
// Neither is retryable and neither is ever silently downgraded.
//
// Known limitations:
//
//  1. All arguments, results, and errors must be JSON-serializable; a call
//     target that is not serializable falls back to a normalized textual
//     signature.
//  2. A deck is a single synchronous session.  Ordinal counters and the
//     redaction table are unsynchronized session state, so concurrent use
//     of one open deck is unsupported; callers needing concurrency should
//     use one deck per worker.
package tapedeck

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/interposer-io/interposer"
)

// Mode is the running mode of the tape deck.  In Recording mode calls get
// recorded; in Playback mode calls get played back.
type Mode int

const (
	Playback Mode = iota
	Recording
)

func (m Mode) String() string {
	if m == Recording {
		return "Recording"
	}
	return "Playback"
}

// ModeFromEnv selects Recording when the RECORDING environment variable is
// set to anything non-empty, Playback otherwise.  The mode switch belongs
// to the surrounding tooling, not to the deck itself.
func ModeFromEnv() Mode {
	if os.Getenv("RECORDING") != "" {
		return Recording
	}
	return Playback
}

// Recording file format history:
//   - 1: initial format
const (
	CurrentFileFormat           = 1
	EarliestFileFormatSupported = 1
)

// DefaultChannel is used when callers have no reason to split their calls
// into separate streams.
const DefaultChannel = "default"

// Artifact header keys.  Everything else in the store is a 64-hex-char
// content hash key holding one recorded outcome.
const (
	labelFileFormat = "_file_format"
	labelSession    = "_session"
	labelRedactions = "_redactions"
	labelCallLog    = "_call_log"
)

// journalSuffix names the diagnostic wal sidecar beside the artifact.
const journalSuffix = "-journal"

type DeckOpt interface{}

type loggerOpt struct{ logger interposer.Logger }

// WithLogger overrides the no-op default logger.
func WithLogger(logger interposer.Logger) DeckOpt {
	return loggerOpt{logger: logger}
}

type callLogOpt struct{}

// WithCallLog enables the diagnostic ordinal table: every addressed call is
// appended to a sidecar log and, on a recording deck, the folded table is
// persisted into the artifact at close for offline inspection via Dump.
func WithCallLog() DeckOpt {
	return callLogOpt{}
}

type debugDirOpt string

// WithDebugDir additionally writes each call's raw canonical bytes to the
// given directory, named {mode}-{channel}-{ordinal}, for offline diagnosis
// of hash mismatches between a recording and a playback run.
func WithDebugDir(dir string) DeckOpt {
	return debugDirOpt(dir)
}

type inMemoryOpt struct{}

// WithInMemory backs the deck with an in-memory store.  Nothing survives
// Close, which makes it suitable for exercising recording logic in tests.
func WithInMemory() DeckOpt {
	return inMemoryOpt{}
}

type normalizerOpt func(string) string

// WithNormalizer overrides how volatile substrings are scrubbed from the
// textual signature of a non-serializable call target.  What counts as
// volatile is host-specific, so the normalization is injectable.
func WithNormalizer(normalize func(string) string) DeckOpt {
	return normalizerOpt(normalize)
}

// tapeEntry is the stored form of one recorded outcome.  Exactly one of
// Result and Fault is populated.
type tapeEntry struct {
	Result json.RawMessage `json:"result,omitempty"`
	Fault  *ReplayedError  `json:"fault,omitempty"`
}

// TapeDeck is one recording or playback session over one artifact path.
//
// Open acquires the backing store and Close releases it deterministically;
// Close is idempotent so it is safe to defer alongside explicit error-path
// calls.  During recording all entry writes are buffered in memory and
// flushed once at Close, after secret redaction, so the persisted artifact
// never holds a secret even transiently.
type TapeDeck struct {
	path       string
	mode       Mode
	logger     interposer.Logger
	normalize  func(string) string
	inMemory   bool
	debugDir   string
	logCalls   bool
	fileFormat int

	sessionID     string
	db            *badger.DB
	ordinals      map[string]uint64
	redactions    *redactionTable
	pending       map[string][]byte
	callLog       *callLog
	loadedCallLog []callRecord
	opened        bool
}

// New prepares a deck over the artifact at path.  Nothing touches the
// filesystem until Open.
func New(path string, mode Mode, opts ...DeckOpt) *TapeDeck {
	d := &TapeDeck{
		path:      path,
		mode:      mode,
		logger:    zap.NewNop(),
		normalize: normalizeSignature,
	}

	for _, opt := range opts {
		switch v := opt.(type) {
		case loggerOpt:
			d.logger = v.logger
		case callLogOpt:
			d.logCalls = true
		case debugDirOpt:
			d.debugDir = string(v)
		case inMemoryOpt:
			d.inMemory = true
		case normalizerOpt:
			d.normalize = v
		}
	}

	return d
}

// Mode returns the deck's operational mode.
func (d *TapeDeck) Mode() Mode {
	return d.mode
}

// Path returns the artifact path.
func (d *TapeDeck) Path() string {
	return d.path
}

// Open acquires the backing store for the session.
//
// A recording deck creates (or truncates) the artifact and writes the
// file format header immediately.  A playback deck opens the artifact
// read-only, validates the file format before reading anything else, and
// loads the persisted redaction and diagnostic tables.  Per-channel
// ordinals reset to zero on every successful open.
func (d *TapeDeck) Open() error {
	if d.opened {
		return ErrAlreadyOpen
	}

	d.ordinals = map[string]uint64{}
	d.redactions = newRedactionTable()
	d.pending = map[string][]byte{}
	d.loadedCallLog = nil

	if d.mode == Recording {
		if err := d.openRecording(); err != nil {
			return err
		}
	} else {
		if err := d.openPlayback(); err != nil {
			return err
		}
	}

	if d.logCalls {
		logPath := ""
		if !d.inMemory {
			logPath = d.path + journalSuffix
		}
		cl, err := openCallLog(logPath)
		if err != nil {
			d.releaseDB()
			return err
		}
		d.callLog = cl
	}

	d.opened = true
	d.logger.Debug("opened tape deck",
		zap.String("path", d.path),
		zap.Stringer("mode", d.mode),
		zap.Int("fileFormat", d.fileFormat),
		zap.String("session", d.sessionID),
	)
	return nil
}

func (d *TapeDeck) openRecording() error {
	var badgerOpts badger.Options
	if d.inMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.RemoveAll(d.path); err != nil {
			return errors.WithMessage(err, "could not truncate existing recording")
		}
		if err := os.RemoveAll(d.path + journalSuffix); err != nil {
			return errors.WithMessage(err, "could not truncate existing call journal")
		}
		badgerOpts = badger.DefaultOptions(d.path).WithSyncWrites(false).WithTruncate(true)
	}

	db, err := badger.Open(badgerOpts.WithLogger(nil))
	if err != nil {
		return errors.WithMessage(err, "could not open backing db")
	}

	d.sessionID = uuid.New().String()
	err = db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(labelFileFormat), []byte(strconv.Itoa(CurrentFileFormat))); err != nil {
			return err
		}
		return txn.Set([]byte(labelSession), []byte(d.sessionID))
	})
	if err != nil {
		db.Close()
		return errors.WithMessage(err, "could not write the file format header")
	}

	d.db = db
	d.fileFormat = CurrentFileFormat
	return nil
}

func (d *TapeDeck) openPlayback() error {
	var badgerOpts badger.Options
	if d.inMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(d.path).WithReadOnly(true)
	}

	db, err := badger.Open(badgerOpts.WithLogger(nil))
	if err != nil {
		return errors.WithMessage(err, "could not open backing db")
	}

	fileFormat := 0
	sessionID := ""
	persistedRedactions := map[string]string{}
	var persistedCallLog []callRecord

	err = db.View(func(txn *badger.Txn) error {
		rawFormat, err := headerValue(txn, labelFileFormat)
		if err != nil {
			return err
		}
		if rawFormat != nil {
			fileFormat, err = strconv.Atoi(string(rawFormat))
			if err != nil {
				return errors.WithMessage(err, "unreadable file format header")
			}
		}
		if fileFormat < EarliestFileFormatSupported {
			return &FormatTooOldError{
				FileFormat: fileFormat,
				Earliest:   EarliestFileFormatSupported,
				Current:    CurrentFileFormat,
			}
		}

		rawSession, err := headerValue(txn, labelSession)
		if err != nil {
			return err
		}
		sessionID = string(rawSession)

		rawRedactions, err := headerValue(txn, labelRedactions)
		if err != nil {
			return err
		}
		if rawRedactions != nil {
			if err := json.Unmarshal(rawRedactions, &persistedRedactions); err != nil {
				return errors.WithMessage(err, "unreadable redaction table")
			}
		}

		rawCallLog, err := headerValue(txn, labelCallLog)
		if err != nil {
			return err
		}
		if rawCallLog != nil {
			if err := json.Unmarshal(rawCallLog, &persistedCallLog); err != nil {
				return errors.WithMessage(err, "unreadable diagnostic call log")
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}

	d.db = db
	d.fileFormat = fileFormat
	d.sessionID = sessionID
	d.redactions.load(persistedRedactions)
	d.loadedCallLog = persistedCallLog
	return nil
}

func headerValue(txn *badger.Txn, label string) ([]byte, error) {
	item, err := txn.Get([]byte(label))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "could not read header %s", label)
	}
	return item.ValueCopy(nil)
}

// Close finalizes the session and releases the backing store.  A recording
// deck redacts and flushes its buffered entries, then persists the
// redaction table and the optional diagnostic call log.  Close is safe to
// call repeatedly; only the first call does any work.
func (d *TapeDeck) Close() error {
	if !d.opened {
		return nil
	}
	d.opened = false

	var firstErr error
	keep := func(err error) {
		if firstErr == nil && err != nil {
			firstErr = err
		}
	}

	if d.mode == Recording {
		keep(d.flush())
	}
	if d.callLog != nil {
		keep(d.callLog.close())
		d.callLog = nil
	}
	d.releaseDB()

	d.logger.Debug("closed tape deck",
		zap.String("path", d.path),
		zap.Stringer("mode", d.mode),
		zap.Int("fileFormat", d.fileFormat),
	)
	return firstErr
}

func (d *TapeDeck) releaseDB() {
	if d.db != nil {
		d.db.Close()
		d.db = nil
	}
}

// flush applies secret redaction to every buffered entry and writes the
// final artifact: entries, redaction table, diagnostic table.  Entries are
// whole values at content-hash keys; a re-recorded key overwrites fully,
// partial writes cannot happen.
func (d *TapeDeck) flush() error {
	for key, raw := range d.pending {
		redacted := d.redactions.apply(raw)
		err := d.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(key), redacted)
		})
		if err != nil {
			return errors.WithMessagef(err, "could not flush entry %s", key)
		}
	}
	d.pending = map[string][]byte{}

	tableJSON, err := json.Marshal(d.redactions.placeholders())
	if err != nil {
		return errors.WithMessage(err, "could not encode the redaction table")
	}
	err = d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(labelRedactions), tableJSON)
	})
	if err != nil {
		return errors.WithMessage(err, "could not persist the redaction table")
	}

	if d.callLog != nil && len(d.callLog.records) > 0 {
		logJSON, err := json.Marshal(d.callLog.records)
		if err != nil {
			return errors.WithMessage(err, "could not encode the diagnostic call log")
		}
		logJSON, err = jcs.Transform(logJSON)
		if err != nil {
			return errors.WithMessage(err, "could not canonicalize the diagnostic call log")
		}
		logJSON = d.redactions.apply(logJSON)
		err = d.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(labelCallLog), logJSON)
		})
		if err != nil {
			return errors.WithMessage(err, "could not persist the diagnostic call log")
		}
	}

	if !d.inMemory {
		if err := d.db.Sync(); err != nil {
			return errors.WithMessage(err, "could not sync backing db")
		}
	}
	return nil
}

// Record captures one call outcome on a channel.  It consumes the channel's
// next ordinal, computes the content hash of the redacted context, and
// buffers {result, fault} at that key, overwriting any prior entry there.
// Exactly one of result and callErr is stored.
func (d *TapeDeck) Record(cc *interposer.CallContext, result interface{}, callErr error, channel string) error {
	if !d.opened {
		return errors.Errorf("the tape deck is not open")
	}
	if d.mode != Recording {
		return errors.Errorf("record requires Recording mode")
	}

	key, err := d.advance(cc, channel)
	if err != nil {
		return err
	}

	entry := tapeEntry{}
	if callErr != nil {
		entry.Fault = &ReplayedError{
			Kind:    fmt.Sprintf("%T", callErr),
			Message: callErr.Error(),
		}
	} else {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return errors.WithMessage(err, "result cannot be serialized")
		}
		entry.Result = resultJSON
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.WithMessage(err, "entry cannot be serialized")
	}
	// canonical form, so redaction at flush matches escaped secrets
	raw, err = jcs.Transform(raw)
	if err != nil {
		return errors.WithMessage(err, "entry cannot be canonicalized")
	}
	d.pending[key] = raw

	d.logger.Debug("recorded call",
		zap.String("channel", channel),
		zap.String("key", key),
		zap.Bool("fault", entry.Fault != nil),
	)
	return nil
}

// Playback replays a previously recorded call on a channel.  The key is
// computed exactly as Record computes it, consuming the channel's next
// ordinal, so a replayed sequence must match the recorded one call for
// call.  A key with no entry returns a CallNotFoundError.  A recorded fault
// is returned as a *ReplayedError; otherwise the recorded result is
// returned.
func (d *TapeDeck) Playback(cc *interposer.CallContext, channel string) (interface{}, error) {
	if !d.opened {
		return nil, errors.Errorf("the tape deck is not open")
	}
	if d.mode != Playback {
		return nil, errors.Errorf("playback requires Playback mode")
	}

	key, err := d.advance(cc, channel)
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, &CallNotFoundError{
			Channel: channel,
			Ordinal: d.ordinals[channel] - 1,
			Key:     key,
			Call:    d.normalize(fmt.Sprint(cc.Call)),
		}
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "could not read entry %s", key)
	}

	entry := tapeEntry{}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, errors.WithMessagef(err, "unreadable entry %s", key)
	}

	if entry.Fault != nil {
		d.logger.Debug("playing back fault",
			zap.String("channel", channel),
			zap.String("key", key),
		)
		return nil, entry.Fault
	}

	var result interface{}
	if err := json.Unmarshal(entry.Result, &result); err != nil {
		return nil, errors.WithMessagef(err, "unreadable result in entry %s", key)
	}
	d.logger.Debug("playing back result",
		zap.String("channel", channel),
		zap.String("key", key),
	)
	return result, nil
}

// Redact tracks a secret for redaction under a session-unique identifier.
//
// During recording the secret is returned unchanged so the live call still
// works, and every occurrence of it is replaced by the placeholder
// before anything is persisted.  During playback the secret argument is
// ignored and the persisted placeholder is returned, so the replayed
// context hashes to the recorded key.  The placeholder has exactly the
// secret's length in both modes.
func (d *TapeDeck) Redact(secret, identifier string) (string, error) {
	if !d.opened {
		return "", errors.Errorf("the tape deck is not open")
	}
	if d.mode == Recording {
		if _, err := d.redactions.register(identifier, secret); err != nil {
			return "", err
		}
		return secret, nil
	}
	return d.redactions.lookup(identifier)
}

// Dump writes the diagnostic ordinal table, grouped by channel and ordered
// by ordinal, as YAML.  On a recording deck it reflects the live session;
// on a playback deck it reflects the table persisted by the recording run.
// Decks opened without WithCallLog have nothing to dump while recording.
func (d *TapeDeck) Dump(w io.Writer) error {
	return d.DumpChannels(w)
}

// DumpChannels is Dump restricted to the named channels.  With no names it
// dumps everything.
func (d *TapeDeck) DumpChannels(w io.Writer, channels ...string) error {
	var records []callRecord
	if d.mode == Recording {
		if d.callLog != nil {
			records = d.callLog.records
		}
	} else {
		records = d.loadedCallLog
	}

	if len(channels) > 0 {
		wanted := map[string]bool{}
		for _, channel := range channels {
			wanted[channel] = true
		}
		filtered := make([]callRecord, 0, len(records))
		for _, record := range records {
			if wanted[record.Channel] {
				filtered = append(filtered, record)
			}
		}
		records = filtered
	}

	return dumpRecords(w, records)
}
