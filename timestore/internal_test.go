// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package timestore

import (
	"fmt"
	"os"
	"testing"

	"github.com/bitmark-inc/logger"
)

// shared setup for tests of the unexported internals

const internalTestDirectory = "testing-internal.d"

func internalSetup(t *testing.T) {
	internalRemoveFiles()
	err := os.MkdirAll(internalTestDirectory, 0700)
	if nil != err {
		t.Fatalf("mkdir error: %s", err)
	}

	logging := logger.Configuration{
		Directory: internalTestDirectory,
		File:      "test.log",
		Size:      1048576,
		Count:     10,
		Console:   false,
		Levels: map[string]string{
			logger.DefaultTag: "critical",
		},
	}
	_ = logger.Initialise(logging)
}

func internalTeardown() {
	logger.Finalise()
	internalRemoveFiles()
}

func internalRemoveFiles() {
	_ = os.RemoveAll(internalTestDirectory)
}

func internalKey(n int) Key {
	var k Key
	copy(k[:], fmt.Sprintf("internal test key %08d padding padding", n))
	return k
}
