// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package timestore

import (
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
	ldb_util "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/veridian-net/veridiand/fault"
)

// DumpManifest - walk the manifest of an offline store
//
// read-only debugging access for storectl; an initialised store holds
// the manifest open, so use this only while the store is closed
func DumpManifest(directory string, fn func(bucketNumber int64, location Location) error) error {
	opt := &ldb_opt.Options{
		ErrorIfMissing: true,
		ReadOnly:       true,
	}
	db, err := leveldb.OpenFile(filepath.Join(directory, ManifestName), opt)
	if nil != err {
		return fault.ErrCorruptManifest
	}
	defer db.Close()

	iter := db.NewIterator(ldb_util.BytesPrefix([]byte{DescriptorPrefix}), nil)
	defer iter.Release()

	for iter.Next() {
		bucketNumber, ok := BucketFromDescriptorKey(iter.Key())
		if !ok {
			continue
		}
		location, err := UnpackLocation(iter.Value())
		if nil != err {
			return err
		}
		err = fn(bucketNumber, location)
		if nil != err {
			return err
		}
	}
	return iter.Error()
}
