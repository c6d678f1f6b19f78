// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package timestore

import (
	"encoding/binary"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_errors "github.com/syndtr/goleveldb/leveldb/errors"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
	ldb_util "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/bitmark-inc/logger"

	"github.com/veridian-net/veridiand/fault"
)

// ManifestName - the manifest database inside the data directory
const ManifestName = "manifest.leveldb"

// DescriptorPrefix - manifest key prefix for location descriptors
const DescriptorPrefix = byte('L')

const currentManifestVersion = 0x100

// for manifest version
var versionKey = []byte{0x00, 'V', 'E', 'R', 'S', 'I', 'O', 'N'}

// every descriptor write is synced; the manifest must never get
// ahead of or survive without its chunk bytes
var syncWrite = &ldb_opt.WriteOptions{Sync: true}

// durable directory of where each bucket's chunk currently lives
type chunkIndex struct {
	db  *leveldb.DB
	log *logger.L
}

// open the manifest, recovering a damaged leveldb in place
func openChunkIndex(directory string, log *logger.L) (*chunkIndex, error) {
	name := filepath.Join(directory, ManifestName)

	db, err := leveldb.OpenFile(name, nil)
	if ldb_errors.IsCorrupted(err) {
		log.Criticalf("manifest corrupt, recovering: %s", name)
		db, err = leveldb.RecoverFile(name, nil)
	}
	if nil != err {
		return nil, fault.ErrCorruptManifest
	}

	ok := false
	defer func() {
		if !ok {
			db.Close()
		}
	}()

	// ensure no manifest downgrade
	versionValue, err := db.Get(versionKey, nil)
	if leveldb.ErrNotFound == err {
		buffer := make([]byte, 4)
		binary.BigEndian.PutUint32(buffer, currentManifestVersion)
		err = db.Put(versionKey, buffer, syncWrite)
		if nil != err {
			return nil, fault.ErrWriteFailed
		}
	} else if nil != err {
		return nil, fault.ErrCorruptManifest
	} else {
		if 4 != len(versionValue) {
			return nil, fault.ErrCorruptManifest
		}
		if binary.BigEndian.Uint32(versionValue) > currentManifestVersion {
			return nil, fault.ErrWrongManifestVersion
		}
	}

	ok = true
	return &chunkIndex{
		db:  db,
		log: log,
	}, nil
}

// prepend the prefix onto a bucket number
func descriptorKey(bucketNumber int64) []byte {
	key := make([]byte, 9)
	key[0] = DescriptorPrefix
	binary.BigEndian.PutUint64(key[1:], uint64(bucketNumber))
	return key
}

// BucketFromDescriptorKey - inverse of the manifest key packing
//
// exposed for the storectl dump command
func BucketFromDescriptorKey(key []byte) (int64, bool) {
	if 9 != len(key) || DescriptorPrefix != key[0] {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(key[1:])), true
}

// fetch a bucket's descriptor
func (ix *chunkIndex) get(bucketNumber int64) (Location, error) {
	value, err := ix.db.Get(descriptorKey(bucketNumber), nil)
	if leveldb.ErrNotFound == err {
		return Location{}, fault.ErrChunkNotFound
	} else if nil != err {
		return Location{}, fault.ErrCorruptManifest
	}
	return UnpackLocation(value)
}

// record a bucket's descriptor
//
// called strictly after the chunk bytes are durable; overwrites any
// prior descriptor, orphaning the old bytes
func (ix *chunkIndex) put(bucketNumber int64, location Location) error {
	err := ix.db.Put(descriptorKey(bucketNumber), location.Pack(), syncWrite)
	if nil != err {
		return fault.ErrWriteFailed
	}
	return nil
}

// true if no descriptors are stored
func (ix *chunkIndex) empty() bool {
	iter := ix.db.NewIterator(ldb_util.BytesPrefix([]byte{DescriptorPrefix}), nil)
	defer iter.Release()
	return !iter.Next()
}

// drop all descriptors
func (ix *chunkIndex) clear() error {
	batch := new(leveldb.Batch)
	iter := ix.db.NewIterator(ldb_util.BytesPrefix([]byte{DescriptorPrefix}), nil)
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	iter.Release()
	err := iter.Error()
	if nil != err {
		return fault.ErrCorruptManifest
	}
	err = ix.db.Write(batch, syncWrite)
	if nil != err {
		return fault.ErrWriteFailed
	}
	return nil
}

func (ix *chunkIndex) close() {
	ix.db.Close()
}
