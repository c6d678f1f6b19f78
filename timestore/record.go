// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package timestore

import (
	"encoding/binary"

	"github.com/veridian-net/veridiand/fault"
)

// KeyLength - number of bytes in a content hash key
const KeyLength = 32

// Key - fixed width content hash identifying a record within a bucket
type Key [KeyLength]byte

// BucketWidth - width of one time bucket
//
// one hour of second-granularity timestamps; bounds the chunk file
// count while keeping a single chunk cheap to decode on a point lookup
const BucketWidth = 3600

// BucketOf - derive the bucket number for a timestamp
//
// floor division so that the mapping stays monotonic for negative
// timestamps as well
func BucketOf(timestamp int64) int64 {
	bucketNumber := timestamp / BucketWidth
	if timestamp%BucketWidth < 0 {
		bucketNumber -= 1
	}
	return bucketNumber
}

// Location - where a bucket's chunk currently lives
//
// owned by the manifest; the chunk store never retains these
type Location struct {
	File       uint32 // chunk file number
	Offset     uint64 // byte offset of the chunk header
	Length     uint32 // payload length excluding the header
	Compressed bool   // payload is compressed
	Count      uint32 // number of records in the chunk
}

// packed big endian: file ++ offset ++ length ++ flags ++ count
const locationLength = 4 + 8 + 4 + 1 + 4

// Pack - serialise a location for the manifest
func (l Location) Pack() []byte {
	buffer := make([]byte, locationLength)
	binary.BigEndian.PutUint32(buffer[0:], l.File)
	binary.BigEndian.PutUint64(buffer[4:], l.Offset)
	binary.BigEndian.PutUint32(buffer[12:], l.Length)
	if l.Compressed {
		buffer[16] = 0x01
	}
	binary.BigEndian.PutUint32(buffer[17:], l.Count)
	return buffer
}

// UnpackLocation - inverse of Pack
func UnpackLocation(buffer []byte) (Location, error) {
	if locationLength != len(buffer) {
		return Location{}, fault.ErrCorruptManifest
	}
	l := Location{
		File:       binary.BigEndian.Uint32(buffer[0:]),
		Offset:     binary.BigEndian.Uint64(buffer[4:]),
		Length:     binary.BigEndian.Uint32(buffer[12:]),
		Compressed: 0 != buffer[16],
		Count:      binary.BigEndian.Uint32(buffer[17:]),
	}
	return l, nil
}
