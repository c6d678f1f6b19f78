// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package timestore

import (
	"sync"
)

// in-memory staging area for records not yet flushed to disk
//
// every update is stamped with a per-bucket sequence number so that a
// flush can later clear exactly the entries its snapshot covered and
// nothing newer

type bufferEntry struct {
	value []byte
	seq   uint64
}

type bufferBucket struct {
	sync.Mutex
	entries map[Key]bufferEntry
	seq     uint64 // last assigned sequence number
}

type writeBuffer struct {
	sync.RWMutex // guards the bucket map, not the buckets
	buckets      map[int64]*bufferBucket
}

func newWriteBuffer() *writeBuffer {
	return &writeBuffer{
		buckets: make(map[int64]*bufferBucket),
	}
}

// fetch or create the bucket for a timestamp
func (wb *writeBuffer) bucket(bucketNumber int64, create bool) *bufferBucket {
	wb.RLock()
	b := wb.buckets[bucketNumber]
	wb.RUnlock()
	if nil != b || !create {
		return b
	}

	wb.Lock()
	b = wb.buckets[bucketNumber]
	if nil == b {
		b = &bufferBucket{
			entries: make(map[Key]bufferEntry),
		}
		wb.buckets[bucketNumber] = b
	}
	wb.Unlock()
	return b
}

// upsert a record; marks its bucket dirty; never performs I/O
func (wb *writeBuffer) update(timestamp int64, key Key, value []byte) {
	b := wb.bucket(BucketOf(timestamp), true)

	stored := make([]byte, len(value))
	copy(stored, value)

	b.Lock()
	b.seq += 1
	b.entries[key] = bufferEntry{
		value: stored,
		seq:   b.seq,
	}
	b.Unlock()
}

// read the freshest in-memory state
//
// this returns the stored value - copy the result if it must be preserved
func (wb *writeBuffer) lookup(timestamp int64, key Key) ([]byte, bool) {
	b := wb.bucket(BucketOf(timestamp), false)
	if nil == b {
		return nil, false
	}

	b.Lock()
	e, ok := b.entries[key]
	b.Unlock()
	if !ok {
		return nil, false
	}
	return e.value, true
}

// point-in-time copy of one dirty bucket
type bucketSnapshot struct {
	bucketNumber int64
	seq          uint64
	entries      map[Key][]byte
}

// copy all dirty buckets for a flush
//
// updates arriving after the copy carry higher sequence numbers and
// survive the subsequent clearThrough
func (wb *writeBuffer) snapshotDirty() []bucketSnapshot {
	wb.RLock()
	numbers := make([]int64, 0, len(wb.buckets))
	for n := range wb.buckets {
		numbers = append(numbers, n)
	}
	wb.RUnlock()

	snapshots := make([]bucketSnapshot, 0, len(numbers))
	for _, n := range numbers {
		b := wb.bucket(n, false)
		if nil == b {
			continue
		}
		b.Lock()
		if 0 != len(b.entries) {
			entries := make(map[Key][]byte, len(b.entries))
			for k, e := range b.entries {
				entries[k] = e.value
			}
			snapshots = append(snapshots, bucketSnapshot{
				bucketNumber: n,
				seq:          b.seq,
				entries:      entries,
			})
		}
		b.Unlock()
	}
	return snapshots
}

// drop entries covered by a successfully flushed snapshot
//
// entries updated after the snapshot was taken stay dirty; the bucket
// itself stays in the map so that a concurrent update holding its
// pointer is never orphaned
func (wb *writeBuffer) clearThrough(bucketNumber int64, seq uint64) {
	b := wb.bucket(bucketNumber, false)
	if nil == b {
		return
	}
	b.Lock()
	for k, e := range b.entries {
		if e.seq <= seq {
			delete(b.entries, k)
		}
	}
	b.Unlock()
}

// drop everything
func (wb *writeBuffer) clear() {
	wb.Lock()
	wb.buckets = make(map[int64]*bufferBucket)
	wb.Unlock()
}
