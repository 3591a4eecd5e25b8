/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package tapedeck

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/tidwall/wal"
	"gopkg.in/yaml.v3"
)

// callRecord is one line of the diagnostic ordinal table: which call was
// addressed, on which channel, at which ordinal, and the key it hashed to.
// The call signature is normalized and redacted before it gets here.
type callRecord struct {
	Channel string `json:"channel" yaml:"channel"`
	Ordinal uint64 `json:"ordinal" yaml:"ordinal"`
	Call    string `json:"call" yaml:"call"`
	Hash    string `json:"hash" yaml:"hash"`
	Mode    string `json:"mode" yaml:"mode"`
}

// callLog is the per-session diagnostic log.  Records are kept in memory
// for dumping and, when the deck is disk-backed, additionally appended to a
// write-ahead log beside the artifact so the trail survives a crashed
// recording run.
type callLog struct {
	records   []callRecord
	log       *wal.Log
	nextIndex uint64
}

func openCallLog(path string) (*callLog, error) {
	cl := &callLog{}
	if path == "" {
		return cl, nil
	}

	log, err := wal.Open(path, &wal.Options{
		NoSync: true,
		NoCopy: true,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "could not open diagnostic call log")
	}

	lastIndex, err := log.LastIndex()
	if err != nil {
		log.Close()
		return nil, errors.WithMessage(err, "could not read diagnostic call log index")
	}

	cl.log = log
	cl.nextIndex = lastIndex + 1
	return cl, nil
}

func (cl *callLog) append(record callRecord) error {
	cl.records = append(cl.records, record)
	if cl.log == nil {
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return errors.WithMessage(err, "could not encode call record")
	}
	if err := cl.log.Write(cl.nextIndex, data); err != nil {
		return errors.WithMessagef(err, "could not write call record %d", cl.nextIndex)
	}
	cl.nextIndex++
	return nil
}

func (cl *callLog) close() error {
	if cl.log == nil {
		return nil
	}
	err := cl.log.Close()
	cl.log = nil
	return err
}

// dumpRecords writes a channel-grouped, ordinal-ordered YAML rendering of a
// diagnostic table for offline inspection.
func dumpRecords(w io.Writer, records []callRecord) error {
	grouped := map[string][]callRecord{}
	for _, record := range records {
		grouped[record.Channel] = append(grouped[record.Channel], record)
	}
	for channel := range grouped {
		group := grouped[channel]
		sort.Slice(group, func(i, j int) bool {
			return group[i].Ordinal < group[j].Ordinal
		})
	}

	data, err := yaml.Marshal(grouped)
	if err != nil {
		return errors.WithMessage(err, "could not render call records")
	}
	if _, err := w.Write(data); err != nil {
		return errors.WithMessage(err, "could not write call records")
	}
	return nil
}
