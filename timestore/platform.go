// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package timestore

import (
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/veridian-net/veridiand/fault"
)

// minimumAvailableSpace - refuse to run the store below this
const minimumAvailableSpace = 100 * 1024 * 1024

// lockFileName - advisory lock inside the data directory
const lockFileName = ".lock"

// Platform - filesystem capability injected into Initialise
//
// kept behind an interface so tests can fail individual calls without
// touching a real filesystem
type Platform interface {
	MakeDirectory(path string) error
	AvailableSpace(path string) (uint64, error)
	LockDirectory(path string) (io.Closer, error)
}

// NativePlatform - the production implementation
func NativePlatform() Platform { return nativePlatform{} }

type nativePlatform struct{}

func (nativePlatform) MakeDirectory(path string) error {
	return os.MkdirAll(path, 0700)
}

func (nativePlatform) AvailableSpace(path string) (uint64, error) {
	var fs unix.Statfs_t
	err := unix.Statfs(path, &fs)
	if nil != err {
		return 0, err
	}
	return fs.Bavail * uint64(fs.Bsize), nil
}

type directoryLock struct {
	file *os.File
}

func (l *directoryLock) Close() error {
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}

// take an exclusive advisory lock on the data directory
//
// a second store instance on the same directory fails immediately
// instead of corrupting the chunk files
func (nativePlatform) LockDirectory(path string) (io.Closer, error) {
	f, err := os.OpenFile(filepath.Join(path, lockFileName), os.O_RDWR|os.O_CREATE, 0600)
	if nil != err {
		return nil, fault.ErrDataDirectory
	}
	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if nil != err {
		f.Close()
		return nil, fault.ErrDirectoryLocked
	}
	return &directoryLock{file: f}, nil
}
