// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package timestore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bitmark-inc/logger"

	"github.com/veridian-net/veridiand/fault"
)

const (
	chunkFilePrefix = "chunk-"
	chunkFileSuffix = ".dat"

	// roll to a new data file beyond this size
	maximumChunkFileSize = 128 * 1024 * 1024

	// chunk header: bucket ++ flags ++ count ++ length ++ checksum
	chunkHeaderLength = 8 + 1 + 4 + 4 + 4

	flagCompressed = 0x01
)

// CRC-32C, the same polynomial leveldb uses for its blocks
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// physical storage of encoded chunk payloads
//
// multiple chunks are packed into one data file; writes only ever
// append, so bytes that were once synced are never touched again and
// a superseded chunk simply becomes unindexed garbage
type chunkStore struct {
	sync.RWMutex
	directory     string
	platform      Platform
	maximumSize   uint64
	currentNumber uint32
	current       *os.File
	currentSize   uint64
	log           *logger.L
}

func chunkFileName(directory string, number uint32) string {
	return filepath.Join(directory, fmt.Sprintf("%s%06d%s", chunkFilePrefix, number, chunkFileSuffix))
}

// list existing chunk file numbers in ascending order
func chunkFileNumbers(directory string) ([]uint32, error) {
	matches, err := filepath.Glob(filepath.Join(directory, chunkFilePrefix+"*"+chunkFileSuffix))
	if nil != err {
		return nil, err
	}
	numbers := make([]uint32, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		var n uint32
		_, err := fmt.Sscanf(base, chunkFilePrefix+"%06d"+chunkFileSuffix, &n)
		if nil != err {
			continue // not one of ours
		}
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers, nil
}

// open the chunk store over a directory, resuming the highest
// numbered data file
func openChunkStore(directory string, platform Platform, log *logger.L) (*chunkStore, error) {
	s := &chunkStore{
		directory:   directory,
		platform:    platform,
		maximumSize: maximumChunkFileSize,
		log:         log,
	}

	numbers, err := chunkFileNumbers(directory)
	if nil != err {
		return nil, fault.ErrDataDirectory
	}
	if 0 != len(numbers) {
		s.currentNumber = numbers[len(numbers)-1]
	}

	err = s.openCurrent()
	if nil != err {
		return nil, err
	}
	return s, nil
}

func (s *chunkStore) openCurrent() error {
	f, err := os.OpenFile(chunkFileName(s.directory, s.currentNumber), os.O_RDWR|os.O_CREATE, 0600)
	if nil != err {
		return fault.ErrDataDirectory
	}
	info, err := f.Stat()
	if nil != err {
		f.Close()
		return fault.ErrDataDirectory
	}
	s.current = f
	s.currentSize = uint64(info.Size())
	return nil
}

func packChunkHeader(bucketNumber int64, compressed bool, count uint32, data []byte) []byte {
	header := make([]byte, chunkHeaderLength)
	binary.BigEndian.PutUint64(header[0:], uint64(bucketNumber))
	if compressed {
		header[8] = flagCompressed
	}
	binary.BigEndian.PutUint32(header[9:], count)
	binary.BigEndian.PutUint32(header[13:], uint32(len(data)))
	binary.BigEndian.PutUint32(header[17:], crc32.Checksum(data, castagnoli))
	return header
}

// write - persist one encoded chunk and return its location
//
// strictly append-only: a replacement for an already stored bucket is
// written after the old bytes, never over them, so a crash or write
// failure part way through cannot damage anything already durable;
// the superseded bytes stay behind as garbage until a RemoveAll
//
// on success the bytes have been fsynced
func (s *chunkStore) write(bucketNumber int64, data []byte, compressed bool, count uint32) (Location, error) {
	s.Lock()
	defer s.Unlock()

	if nil == s.current {
		return Location{}, fault.ErrNotInitialised
	}

	total := uint64(chunkHeaderLength + len(data))

	// detect disk full before accepting the write
	available, err := s.platform.AvailableSpace(s.directory)
	if nil != err {
		return Location{}, fault.ErrWriteFailed
	}
	if available < total+minimumAvailableSpace {
		return Location{}, fault.ErrInsufficientSpace
	}

	if 0 != s.currentSize && s.currentSize+total > s.maximumSize {
		err := s.roll()
		if nil != err {
			return Location{}, err
		}
	}

	offset := s.currentSize
	header := packChunkHeader(bucketNumber, compressed, count, data)
	n, err := s.current.WriteAt(append(header, data...), int64(offset))
	if nil != err {
		return Location{}, fault.ErrWriteFailed
	}
	if n != chunkHeaderLength+len(data) {
		return Location{}, fault.ErrShortChunkWrite
	}
	err = s.current.Sync()
	if nil != err {
		return Location{}, fault.ErrWriteFailed
	}
	s.currentSize = offset + total

	return Location{
		File:       s.currentNumber,
		Offset:     offset,
		Length:     uint32(len(data)),
		Compressed: compressed,
		Count:      count,
	}, nil
}

// close out the current file and start the next one
func (s *chunkStore) roll() error {
	err := s.current.Sync()
	if nil != err {
		return fault.ErrWriteFailed
	}
	s.current.Close()
	s.current = nil

	s.currentNumber += 1
	s.currentSize = 0
	s.log.Infof("roll to chunk file: %d", s.currentNumber)
	return s.openCurrent()
}

// read - fetch and verify one chunk payload
func (s *chunkStore) read(location Location) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()

	if nil == s.current {
		return nil, fault.ErrNotInitialised
	}

	f := s.current
	if location.File != s.currentNumber {
		other, err := os.Open(chunkFileName(s.directory, location.File))
		if nil != err {
			return nil, fault.ErrChunkNotFound
		}
		defer other.Close()
		f = other
	}

	header := make([]byte, chunkHeaderLength)
	_, err := f.ReadAt(header, int64(location.Offset))
	if nil != err {
		return nil, fault.ErrStaleChunkLocation
	}
	length := binary.BigEndian.Uint32(header[13:17])
	if length != location.Length {
		return nil, fault.ErrStaleChunkLocation
	}

	data := make([]byte, length)
	_, err = f.ReadAt(data, int64(location.Offset)+chunkHeaderLength)
	if nil != err {
		return nil, fault.ErrStaleChunkLocation
	}

	checksum := binary.BigEndian.Uint32(header[17:21])
	if crc32.Checksum(data, castagnoli) != checksum {
		return nil, fault.ErrWrongChecksum
	}
	return data, nil
}

// scan - walk every chunk in file and offset order
//
// used to rebuild a lost manifest; a later chunk for the same bucket
// supersedes an earlier one, so the walk order makes the last write
// win; a torn record at the tail of a file (crash during append)
// terminates the scan of that file
func (s *chunkStore) scan(fn func(bucketNumber int64, location Location) error) error {
	s.RLock()
	defer s.RUnlock()

	numbers, err := chunkFileNumbers(s.directory)
	if nil != err {
		return fault.ErrDataDirectory
	}

	for _, number := range numbers {
		f, err := os.Open(chunkFileName(s.directory, number))
		if nil != err {
			return fault.ErrChunkNotFound
		}

		offset := uint64(0)
	fileScan:
		for {
			header := make([]byte, chunkHeaderLength)
			_, err := f.ReadAt(header, int64(offset))
			if nil != err {
				break fileScan // end of file
			}
			bucketNumber := int64(binary.BigEndian.Uint64(header[0:8]))
			compressed := 0 != header[8]&flagCompressed
			count := binary.BigEndian.Uint32(header[9:13])
			length := binary.BigEndian.Uint32(header[13:17])
			checksum := binary.BigEndian.Uint32(header[17:21])

			data := make([]byte, length)
			_, err = f.ReadAt(data, int64(offset)+chunkHeaderLength)
			if nil != err || crc32.Checksum(data, castagnoli) != checksum {
				s.log.Warnf("torn chunk in file: %d at offset: %d", number, offset)
				break fileScan
			}

			err = fn(bucketNumber, Location{
				File:       number,
				Offset:     offset,
				Length:     length,
				Compressed: compressed,
				Count:      count,
			})
			if nil != err {
				f.Close()
				return err
			}
			offset += chunkHeaderLength + uint64(length)
		}
		f.Close()
	}
	return nil
}

// removeAll - delete every chunk file and restart at file zero
func (s *chunkStore) removeAll() error {
	s.Lock()
	defer s.Unlock()

	if nil != s.current {
		s.current.Close()
		s.current = nil
	}

	numbers, err := chunkFileNumbers(s.directory)
	if nil != err {
		return fault.ErrDataDirectory
	}
	for _, number := range numbers {
		err := os.Remove(chunkFileName(s.directory, number))
		if nil != err {
			return fault.ErrWriteFailed
		}
	}

	s.currentNumber = 0
	return s.openCurrent()
}

// close - release the current file handle
func (s *chunkStore) close() {
	s.Lock()
	if nil != s.current {
		s.current.Sync()
		s.current.Close()
		s.current = nil
	}
	s.Unlock()
}
