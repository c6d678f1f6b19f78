// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package timestore

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/golang/snappy"

	"github.com/veridian-net/veridiand/fault"
	"github.com/veridian-net/veridiand/util"
)

// Codec - convert a bucket's records to a chunk payload and back
//
// the variant is selected once when the store is constructed; chunks
// written by either variant can always be read back because the
// compressed flag travels with the chunk
type Codec interface {
	Encode(records map[Key][]byte) ([]byte, error)
	Decode(data []byte) (map[Key][]byte, error)
	Compressed() bool
}

// PlainCodec - deterministic serialisation, no transformation
func PlainCodec() Codec { return plainCodec{} }

// SnappyCodec - serialise then snappy compress
func SnappyCodec() Codec { return snappyCodec{} }

// plain chunk payload layout, all integers big endian:
//
//	count                = uint32
//	count x table entry  = key (32 bytes) ++ record offset (uint32)
//	record section       = per record: Varint64 length ++ value bytes
//
// table entries are sorted by key and record offsets are relative to
// the start of the record section, so a point lookup needs only the
// table and encoding the same record set twice gives identical bytes

type plainCodec struct{}

func (plainCodec) Compressed() bool { return false }

func (plainCodec) Encode(records map[Key][]byte) ([]byte, error) {
	keys := make([]Key, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})

	section := []byte{}
	offsets := make([]uint32, len(keys))
	for i, k := range keys {
		offsets[i] = uint32(len(section))
		value := records[k]
		section = append(section, util.ToVarint64(uint64(len(value)))...)
		section = append(section, value...)
	}

	buffer := make([]byte, 0, 4+len(keys)*(KeyLength+4)+len(section))
	countBuffer := make([]byte, 4)
	binary.BigEndian.PutUint32(countBuffer, uint32(len(keys)))
	buffer = append(buffer, countBuffer...)
	for i, k := range keys {
		buffer = append(buffer, k[:]...)
		binary.BigEndian.PutUint32(countBuffer, offsets[i])
		buffer = append(buffer, countBuffer...)
	}
	buffer = append(buffer, section...)
	return buffer, nil
}

func (plainCodec) Decode(data []byte) (map[Key][]byte, error) {
	if len(data) < 4 {
		return nil, fault.ErrCorruptChunk
	}
	count := int(binary.BigEndian.Uint32(data[0:4]))
	tableLength := count * (KeyLength + 4)
	if len(data) < 4+tableLength {
		return nil, fault.ErrCorruptChunk
	}
	section := data[4+tableLength:]

	records := make(map[Key][]byte, count)
	for i := 0; i < count; i += 1 {
		entry := data[4+i*(KeyLength+4):]
		var key Key
		copy(key[:], entry[:KeyLength])
		offset := binary.BigEndian.Uint32(entry[KeyLength : KeyLength+4])
		if uint32(len(section)) < offset {
			return nil, fault.ErrCorruptChunk
		}
		length, used := util.FromVarint64(section[offset:])
		if 0 == used {
			return nil, fault.ErrCorruptChunk
		}
		// bound the length before allocating anything and reject
		// arithmetic wrap around
		if uint64(len(section)) < length {
			return nil, fault.ErrCorruptChunk
		}
		start := uint64(offset) + uint64(used)
		end := start + length
		if end < start || uint64(len(section)) < end {
			return nil, fault.ErrCorruptChunk
		}
		if _, ok := records[key]; ok {
			return nil, fault.ErrCorruptChunk
		}
		value := make([]byte, length)
		copy(value, section[start:end])
		records[key] = value
	}
	return records, nil
}

type snappyCodec struct{}

func (snappyCodec) Compressed() bool { return true }

func (snappyCodec) Encode(records map[Key][]byte) ([]byte, error) {
	plain, err := plainCodec{}.Encode(records)
	if nil != err {
		return nil, err
	}
	return snappy.Encode(nil, plain), nil
}

func (snappyCodec) Decode(data []byte) (map[Key][]byte, error) {
	plain, err := snappy.Decode(nil, data)
	if nil != err {
		return nil, fault.ErrCannotDecompress
	}
	return plainCodec{}.Decode(plain)
}

// pick the decoder matching a stored chunk's compressed flag
func decoderFor(compressed bool) Codec {
	if compressed {
		return snappyCodec{}
	}
	return plainCodec{}
}
