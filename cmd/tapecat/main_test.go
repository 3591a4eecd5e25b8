/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/interposer-io/interposer"
	"github.com/interposer-io/interposer/tapedeck"
)

var _ = Describe("Parsing", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = ioutil.TempDir("", "tapecat-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("parses a fully populated command line", func() {
		args, err := parseArgs([]string{
			"--input", tmpDir,
			"--channel", "alpha",
			"--channel", "beta",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(args.input).To(Equal(tmpDir))
		Expect(args.channels).To(Equal([]string{"alpha", "beta"}))
	})

	When("the input is missing", func() {
		It("returns an error", func() {
			_, err := parseArgs([]string{"--channel", "alpha"})
			Expect(err).To(HaveOccurred())
		})
	})

	When("the input does not exist", func() {
		It("returns an error", func() {
			_, err := parseArgs([]string{
				"--input", filepath.Join(tmpDir, "no-such-tape"),
			})
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("Execution", func() {
	var (
		tmpDir   string
		tapePath string
		output   *bytes.Buffer
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = ioutil.TempDir("", "tapecat-test-*")
		Expect(err).NotTo(HaveOccurred())
		tapePath = filepath.Join(tmpDir, "tape")
		output = &bytes.Buffer{}

		deck := tapedeck.New(tapePath, tapedeck.Recording, tapedeck.WithCallLog())
		Expect(deck.Open()).To(Succeed())
		Expect(deck.Record(interposer.NewCallContext("greet", "sam"), "hello sam", nil, "greetings")).To(Succeed())
		Expect(deck.Record(interposer.NewCallContext("forecast"), "sunny", nil, "weather")).To(Succeed())
		Expect(deck.Close()).To(Succeed())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("reads the recording and renders the call table", func() {
		args := &arguments{input: tapePath}
		Expect(args.execute(output)).To(Succeed())
		Expect(output.String()).To(ContainSubstring("greetings:"))
		Expect(output.String()).To(ContainSubstring("weather:"))
		Expect(output.String()).To(ContainSubstring("call: greet"))
	})

	It("restricts the table to the requested channels", func() {
		args := &arguments{input: tapePath, channels: []string{"weather"}}
		Expect(args.execute(output)).To(Succeed())
		Expect(output.String()).To(ContainSubstring("weather:"))
		Expect(output.String()).NotTo(ContainSubstring("greetings:"))
	})
})
