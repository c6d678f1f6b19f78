// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package timestore

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/bitmark-inc/logger"

	"github.com/veridian-net/veridiand/fault"
)

// store lifecycle: uninitialised -> initialised -> finalised (terminal)
type storeState int

const (
	stateUninitialised storeState = iota
	stateInitialised
	stateFinalised
)

// FlushError - bucket numbers whose flush failed
//
// the buckets listed stay dirty and are retried on the next Flush;
// all other buckets of the same call are durable regardless
type FlushError []int64

func (e FlushError) Error() string {
	return fmt.Sprintf("flush failed for %d bucket(s): %v", len(e), []int64(e))
}

// Store - the storage engine facade
//
// safe for concurrent Update/Retrieve from multiple goroutines with
// at most one flush in flight; collaborators receive an instance by
// constructor injection, there is no process-wide registry
type Store struct {
	sync.RWMutex // guards state transitions against data operations

	state     storeState
	codec     Codec
	platform  Platform
	directory string

	buffer *writeBuffer
	index  *chunkIndex
	chunks *chunkStore
	cache  *chunkCache
	lock   io.Closer

	flushMutex sync.Mutex // serialises flush cycles
	log        *logger.L
}

// New - create a store in the uninitialised state
//
// nil arguments select the plain codec and the native filesystem
func New(codec Codec, platform Platform) *Store {
	if nil == codec {
		codec = PlainCodec()
	}
	if nil == platform {
		platform = NativePlatform()
	}
	return &Store{
		codec:    codec,
		platform: platform,
	}
}

// Initialise - open the data directory and load or rebuild the manifest
//
// on any failure the store remains uninitialised and nothing is held open
func (s *Store) Initialise(directory string) error {
	s.Lock()
	defer s.Unlock()

	switch s.state {
	case stateInitialised:
		return fault.ErrAlreadyInitialised
	case stateFinalised:
		return fault.ErrAlreadyFinalised
	}

	log := logger.New("timestore")
	log.Infof("initialise: %s", directory)

	ok := false
	defer func() {
		if !ok {
			s.release()
		}
	}()

	err := s.platform.MakeDirectory(directory)
	if nil != err {
		return fault.ErrDataDirectory
	}
	info, err := os.Stat(directory)
	if nil != err {
		return fault.ErrDataDirectory
	}
	if !info.IsDir() {
		return fault.ErrNotDirectory
	}

	available, err := s.platform.AvailableSpace(directory)
	if nil != err {
		return fault.ErrDataDirectory
	}
	if available < minimumAvailableSpace {
		log.Criticalf("available space: %d below minimum: %d", available, minimumAvailableSpace)
		return fault.ErrInsufficientSpace
	}

	s.lock, err = s.platform.LockDirectory(directory)
	if nil != err {
		return err
	}

	s.chunks, err = openChunkStore(directory, s.platform, log)
	if nil != err {
		return err
	}

	s.index, err = openChunkIndex(directory, log)
	if nil != err {
		return err
	}

	// recovery path: chunk data exists but the manifest does not
	if s.index.empty() {
		err = s.rebuildIndex()
		if nil != err {
			return err
		}
	}

	s.directory = directory
	s.buffer = newWriteBuffer()
	s.cache = newChunkCache()
	s.log = log
	s.state = stateInitialised

	ok = true
	return nil
}

// re-derive every descriptor by scanning the chunk files
//
// scan order is file then offset, so the latest copy of a bucket
// wins; unindexed garbage after a crash is simply re-indexed or
// ignored at a torn tail
func (s *Store) rebuildIndex() error {
	rebuilt := 0
	err := s.chunks.scan(func(bucketNumber int64, location Location) error {
		rebuilt += 1
		return s.index.put(bucketNumber, location)
	})
	if nil != err {
		return err
	}
	if 0 != rebuilt {
		logger.Criticalf("timestore: manifest rebuilt from %d chunk(s)", rebuilt)
	}
	return nil
}

// Update - stage one record; visible to Retrieve immediately
//
// no disk I/O happens on this path
func (s *Store) Update(timestamp int64, key Key, value []byte) error {
	s.RLock()
	defer s.RUnlock()

	if stateInitialised != s.state {
		return fault.ErrNotInitialised
	}
	s.buffer.update(timestamp, key, value)
	return nil
}

// Retrieve - read one record
//
// checks the write buffer first, then cached decoded chunks, then
// disk; fault.ErrKeyNotFound is the ordinary absent outcome
//
// this returns the stored value - copy the result if it must be preserved
func (s *Store) Retrieve(timestamp int64, key Key) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()

	if stateInitialised != s.state {
		return nil, fault.ErrNotInitialised
	}

	if value, ok := s.buffer.lookup(timestamp, key); ok {
		return value, nil
	}

	bucketNumber := BucketOf(timestamp)

	if records, ok := s.cache.get(bucketNumber); ok {
		if value, ok := records[key]; ok {
			return value, nil
		}
		return nil, fault.ErrKeyNotFound
	}

	// a flush can supersede the chunk while it is being decoded; the
	// generation check stops the stale decode being installed over
	// the flushed data
	generation := s.cache.generation(bucketNumber)

	records, err := s.readBucket(bucketNumber)
	if fault.ErrChunkNotFound == err {
		return nil, fault.ErrKeyNotFound
	} else if nil != err {
		return nil, err
	}

	s.cache.setIfCurrent(bucketNumber, generation, records)
	if value, ok := records[key]; ok {
		return value, nil
	}
	return nil, fault.ErrKeyNotFound
}

// load and decode a bucket's chunk from disk
//
// a concurrent flush can supersede the chunk between the descriptor
// fetch and the read; one retry with a fresh descriptor resolves it
func (s *Store) readBucket(bucketNumber int64) (map[Key][]byte, error) {
	stale := false

	for {
		location, err := s.index.get(bucketNumber)
		if nil != err {
			return nil, err
		}

		data, err := s.chunks.read(location)
		if nil == err {
			return decoderFor(location.Compressed).Decode(data)
		}
		if !stale && (fault.ErrStaleChunkLocation == err || fault.ErrWrongChecksum == err) {
			stale = true
			continue
		}
		return nil, err
	}
}

// Flush - move dirty buckets to durable chunk storage
//
// per-bucket atomicity only: a failing bucket stays dirty for the
// next Flush and is reported in the returned FlushError; buckets
// already persisted in the same call stay durable
func (s *Store) Flush() error {
	s.RLock()
	defer s.RUnlock()

	if stateInitialised != s.state {
		return fault.ErrNotInitialised
	}
	return s.flushAll()
}

func (s *Store) flushAll() error {
	s.flushMutex.Lock()
	defer s.flushMutex.Unlock()

	snapshots := s.buffer.snapshotDirty()
	if 0 == len(snapshots) {
		return nil
	}

	// deterministic flush order
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].bucketNumber < snapshots[j].bucketNumber
	})

	failed := FlushError{}
	for _, snapshot := range snapshots {
		err := s.flushBucket(snapshot)
		if nil != err {
			s.log.Errorf("flush bucket: %d error: %s", snapshot.bucketNumber, err)
			failed = append(failed, snapshot.bucketNumber)
		}
	}

	if 0 != len(failed) {
		return failed
	}
	return nil
}

// flush one bucket: merge over the existing chunk, encode, append a
// replacement chunk, index it, then clear exactly the snapshotted
// entries
func (s *Store) flushBucket(snapshot bucketSnapshot) error {
	records := snapshot.entries

	_, err := s.index.get(snapshot.bucketNumber)
	if nil == err {
		// bucket already has a chunk: fold the old records in
		// underneath the new ones
		existing, readErr := s.readBucket(snapshot.bucketNumber)
		if nil == readErr {
			for k, v := range existing {
				if _, ok := records[k]; !ok {
					records[k] = v
				}
			}
		} else {
			// the old chunk is unreadable, its records are
			// already lost; flush the snapshot as a fresh chunk
			// rather than wedging the bucket
			s.log.Criticalf("bucket: %d merge read failed: %s", snapshot.bucketNumber, readErr)
		}
	} else if fault.ErrChunkNotFound != err {
		return err
	}

	data, err := s.codec.Encode(records)
	if nil != err {
		return err
	}

	newLocation, err := s.chunks.write(snapshot.bucketNumber, data, s.codec.Compressed(), uint32(len(records)))
	if nil != err {
		return err
	}

	// descriptor strictly after the chunk bytes are durable
	err = s.index.put(snapshot.bucketNumber, newLocation)
	if nil != err {
		return err
	}

	s.buffer.clearThrough(snapshot.bucketNumber, snapshot.seq)
	s.cache.invalidate(snapshot.bucketNumber)
	return nil
}

// RemoveAll - full reset, e.g. for resynchronisation from scratch
//
// drops the write buffer, the manifest and every chunk file; the
// store stays initialised and usable
func (s *Store) RemoveAll() error {
	s.Lock()
	defer s.Unlock()

	if stateInitialised != s.state {
		return fault.ErrNotInitialised
	}

	s.flushMutex.Lock()
	defer s.flushMutex.Unlock()

	s.log.Warn("remove all")

	s.buffer.clear()
	s.cache.clear()

	// chunk files go before the manifest: a crash in between leaves
	// dangling descriptors, not data files a later manifest rebuild
	// would resurrect
	err := s.chunks.removeAll()
	if nil != err {
		return err
	}
	return s.index.clear()
}

// Finalise - best-effort flush then release all resources
//
// the store cannot be used afterwards
func (s *Store) Finalise() error {
	s.Lock()
	defer s.Unlock()

	if stateInitialised != s.state {
		return fault.ErrNotInitialised
	}

	err := s.flushAll()
	if nil != err {
		s.log.Errorf("final flush: %s", err)
	}

	s.state = stateFinalised
	s.release()
	return nil
}

// close whatever has been opened so far
func (s *Store) release() {
	if nil != s.index {
		s.index.close()
		s.index = nil
	}
	if nil != s.chunks {
		s.chunks.close()
		s.chunks = nil
	}
	if nil != s.lock {
		s.lock.Close()
		s.lock = nil
	}
	s.buffer = nil
	s.cache = nil
}
