/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package tapedeck

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("derivePlaceholder", func() {
	It("always matches the secret's length", func() {
		Expect(derivePlaceholder("id", "s")).To(HaveLen(1))
		Expect(derivePlaceholder("id", "a much longer secret value")).To(HaveLen(26))
		Expect(derivePlaceholder("a-very-long-identifier", "abc")).To(HaveLen(3))
	})

	It("derives deterministically from the identifier", func() {
		Expect(derivePlaceholder("token", "0123456789")).To(Equal(derivePlaceholder("token", "9876543210")))
	})

	It("never starts with the secret's first byte", func() {
		Expect(derivePlaceholder("hunter-id", "hunter2")[0]).To(Equal(byte('^')))
		Expect(derivePlaceholder("^caret", "^secret")[0]).To(Equal(byte('~')))
	})

	It("is empty for an empty secret", func() {
		Expect(derivePlaceholder("id", "")).To(Equal(""))
	})
})
