// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fault

// GenericError - error base
type GenericError string

// to allow for different classes of errors
type ConfigError GenericError
type CorruptionError GenericError
type IOError GenericError
type NotFoundError GenericError
type ProcessError GenericError

// common errors - keep in alphabetic order
var (
	ErrAlreadyFinalised     = ProcessError("already finalised")
	ErrAlreadyInitialised   = ProcessError("already initialised")
	ErrCannotDecompress     = CorruptionError("cannot decompress chunk")
	ErrChunkNotFound        = NotFoundError("chunk not found")
	ErrCorruptChunk         = CorruptionError("corrupt chunk data")
	ErrCorruptManifest      = CorruptionError("corrupt manifest")
	ErrDataDirectory        = ConfigError("data directory cannot be created")
	ErrDirectoryLocked      = ConfigError("data directory is locked by another process")
	ErrInsufficientSpace    = IOError("insufficient disk space")
	ErrInvalidConfiguration = ConfigError("configuration file must return a table")
	ErrKeyNotFound          = NotFoundError("key not found")
	ErrNotDirectory         = ConfigError("data path is not a directory")
	ErrNotInitialised       = ProcessError("not initialised")
	ErrShortChunkWrite      = IOError("short chunk write")
	ErrStaleChunkLocation   = NotFoundError("stale chunk location")
	ErrWriteFailed          = IOError("write failed")
	ErrWrongChecksum        = CorruptionError("wrong checksum")
	ErrWrongManifestVersion = CorruptionError("wrong manifest version")
)

// Error - the error interface base method
func (e GenericError) Error() string { return string(e) }

// the error interface methods
func (e ConfigError) Error() string     { return string(e) }
func (e CorruptionError) Error() string { return string(e) }
func (e IOError) Error() string         { return string(e) }
func (e NotFoundError) Error() string   { return string(e) }
func (e ProcessError) Error() string    { return string(e) }

// determine the class of an error
func IsErrConfig(e error) bool     { _, ok := e.(ConfigError); return ok }
func IsErrCorruption(e error) bool { _, ok := e.(CorruptionError); return ok }
func IsErrIO(e error) bool         { _, ok := e.(IOError); return ok }
func IsErrNotFound(e error) bool   { _, ok := e.(NotFoundError); return ok }
func IsErrProcess(e error) bool    { _, ok := e.(ProcessError); return ok }
