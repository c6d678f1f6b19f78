// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package timestore_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/sha3"

	"github.com/bitmark-inc/logger"

	"github.com/veridian-net/veridiand/timestore"
)

// common test setup routines

const testingDirName = "testing.d"

// remove all files created by test
func removeFiles() {
	_ = os.RemoveAll(testingDirName)
}

// configure for testing: a throwaway logger plus a data directory
func setup(t *testing.T) string {
	removeFiles()
	err := os.MkdirAll(testingDirName, 0700)
	if nil != err {
		t.Fatalf("mkdir error: %s", err)
	}

	logging := logger.Configuration{
		Directory: testingDirName,
		File:      "test.log",
		Size:      1048576,
		Count:     10,
		Console:   false,
		Levels: map[string]string{
			logger.DefaultTag: "critical",
		},
	}
	_ = logger.Initialise(logging)

	return filepath.Join(testingDirName, "data")
}

// post test cleanup
func teardown(t *testing.T) {
	logger.Finalise()
	removeFiles()
}

// content keys the way the node makes transaction digests
func makeKey(n int) timestore.Key {
	return timestore.Key(sha3.Sum256([]byte(fmt.Sprintf("content %d", n))))
}

func makeNamedKey(name string) timestore.Key {
	return timestore.Key(sha3.Sum256([]byte(name)))
}

// an initialised store over a fresh data directory
func newTestStore(t *testing.T, codec timestore.Codec) (*timestore.Store, string) {
	dataDirectory := setup(t)
	store := timestore.New(codec, nil)
	err := store.Initialise(dataDirectory)
	if nil != err {
		t.Fatalf("initialise error: %s", err)
	}
	return store, dataDirectory
}

// total size of all chunk data files
func chunkFileSizes(t *testing.T, dataDirectory string) map[string]int64 {
	matches, err := filepath.Glob(filepath.Join(dataDirectory, "chunk-*.dat"))
	if nil != err {
		t.Fatalf("glob error: %s", err)
	}
	sizes := make(map[string]int64, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if nil != err {
			t.Fatalf("stat error: %s", err)
		}
		sizes[filepath.Base(m)] = info.Size()
	}
	return sizes
}
