/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// tapecat is a utility for reviewing tape deck recordings.  It opens a
// recording read-only and prints its diagnostic call table, grouped by
// channel and ordered by ordinal, as YAML.  Recordings made without the
// diagnostic call log enabled have an empty table.
package main

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/interposer-io/interposer/tapedeck"
)

type arguments struct {
	input    string
	channels []string
}

func (a *arguments) execute(out io.Writer) error {
	deck := tapedeck.New(a.input, tapedeck.Playback)
	if err := deck.Open(); err != nil {
		return err
	}
	defer deck.Close()

	return deck.DumpChannels(out, a.channels...)
}

func parseArgs(args []string) (*arguments, error) {
	app := kingpin.New("tapecat", "Utility for inspecting tape deck recordings.")
	input := app.Flag("input", "The recording directory to read.").Required().ExistingDir()
	channels := app.Flag("channel", "Report calls from this channel only, may be repeated.").Strings()

	_, err := app.Parse(args)
	if err != nil {
		return nil, err
	}

	return &arguments{
		input:    *input,
		channels: *channels,
	}, nil
}

func main() {
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("%s, try --help", err)
	}

	if err := args.execute(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "tapecat: %s\n", err)
		os.Exit(1)
	}
}
