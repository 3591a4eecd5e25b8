/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package tapedeck_test

import (
	"bytes"
	"io/ioutil"
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/wal"
	"gopkg.in/yaml.v3"

	"github.com/interposer-io/interposer"
	"github.com/interposer-io/interposer/tapedeck"
)

type dumpedRecord struct {
	Channel string `yaml:"channel"`
	Ordinal uint64 `yaml:"ordinal"`
	Call    string `yaml:"call"`
	Hash    string `yaml:"hash"`
	Mode    string `yaml:"mode"`
}

func parseDump(raw []byte) map[string][]dumpedRecord {
	dumped := map[string][]dumpedRecord{}
	Expect(yaml.Unmarshal(raw, &dumped)).To(Succeed())
	return dumped
}

var _ = Describe("Diagnostic call log", func() {
	var (
		tmpDir   string
		tapePath string
		deck     *tapedeck.TapeDeck
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = ioutil.TempDir("", "calllog-test-*")
		Expect(err).NotTo(HaveOccurred())
		tapePath = tmpDir + "/tape"

		deck = tapedeck.New(tapePath, tapedeck.Recording, tapedeck.WithCallLog())
		Expect(deck.Open()).To(Succeed())

		Expect(deck.Record(interposer.NewCallContext("greet", "sam"), "hello sam", nil, "greetings")).To(Succeed())
		Expect(deck.Record(interposer.NewCallContext("greet", "bob"), "hello bob", nil, "greetings")).To(Succeed())
		Expect(deck.Record(interposer.NewCallContext("forecast"), "sunny", nil, "weather")).To(Succeed())
	})

	AfterEach(func() {
		if deck != nil {
			deck.Close()
			deck = nil
		}
		os.RemoveAll(tmpDir)
	})

	It("groups the live session by channel and orders by ordinal", func() {
		var out bytes.Buffer
		Expect(deck.Dump(&out)).To(Succeed())

		dumped := parseDump(out.Bytes())
		Expect(dumped).To(HaveLen(2))
		Expect(dumped["greetings"]).To(HaveLen(2))
		Expect(dumped["greetings"][0].Ordinal).To(Equal(uint64(0)))
		Expect(dumped["greetings"][1].Ordinal).To(Equal(uint64(1)))
		Expect(dumped["weather"]).To(HaveLen(1))
		Expect(dumped["weather"][0].Call).To(Equal("forecast"))
		Expect(dumped["weather"][0].Hash).To(HaveLen(64))
		Expect(dumped["weather"][0].Mode).To(Equal("recording"))
	})

	It("persists the table for playback sessions", func() {
		Expect(deck.Close()).To(Succeed())

		deck = tapedeck.New(tapePath, tapedeck.Playback)
		Expect(deck.Open()).To(Succeed())

		var out bytes.Buffer
		Expect(deck.Dump(&out)).To(Succeed())

		dumped := parseDump(out.Bytes())
		Expect(dumped["greetings"]).To(HaveLen(2))
		Expect(dumped["weather"]).To(HaveLen(1))
	})

	It("filters the dump by channel", func() {
		var out bytes.Buffer
		Expect(deck.DumpChannels(&out, "weather")).To(Succeed())

		dumped := parseDump(out.Bytes())
		Expect(dumped).To(HaveLen(1))
		Expect(dumped["weather"]).To(HaveLen(1))
	})

	It("truncates the journal sidecar when re-recording", func() {
		Expect(deck.Close()).To(Succeed())

		deck = tapedeck.New(tapePath, tapedeck.Recording, tapedeck.WithCallLog())
		Expect(deck.Open()).To(Succeed())
		Expect(deck.Record(interposer.NewCallContext("forecast"), "rainy", nil, "weather")).To(Succeed())
		Expect(deck.Close()).To(Succeed())

		journal, err := wal.Open(tapePath+"-journal", nil)
		Expect(err).NotTo(HaveOccurred())
		defer journal.Close()

		first, err := journal.FirstIndex()
		Expect(err).NotTo(HaveOccurred())
		last, err := journal.LastIndex()
		Expect(err).NotTo(HaveOccurred())
		Expect(last - first).To(Equal(uint64(0)))
	})

	It("logs signatures through the injected normalizer", func() {
		d := tapedeck.New("", tapedeck.Recording,
			tapedeck.WithInMemory(),
			tapedeck.WithCallLog(),
			tapedeck.WithNormalizer(func(string) string { return "scrubbed-target" }),
		)
		Expect(d.Open()).To(Succeed())
		defer d.Close()

		target := func(args ...interface{}) (interface{}, error) { return nil, nil }
		Expect(d.Record(interposer.NewCallContext(target), "ok", nil, "weather")).To(Succeed())

		var out bytes.Buffer
		Expect(d.Dump(&out)).To(Succeed())

		dumped := parseDump(out.Bytes())
		Expect(dumped["weather"][0].Call).To(Equal("scrubbed-target"))
	})
})
