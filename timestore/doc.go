// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package timestore - time-indexed content-addressed record store
//
// records are keyed by a timestamp and a 32 byte content hash; all
// records whose timestamps fall into the same fixed-width bucket are
// persisted together as one encoded chunk
//
// on-disk layout inside the data directory:
//
//	manifest.leveldb/  -> bucket number -> packed chunk location
//	chunk-NNNNNN.dat   -> concatenated encoded chunks, rolled at a
//	                     size threshold
//	.lock              -> advisory lock, one store per directory
//
// each chunk is preceded by a fixed header:
//
//	bucket number  = big endian int64 (8 bytes)
//	flags          = 1 byte (0x01 = compressed)
//	record count   = big endian uint32 (4 bytes)
//	payload length = big endian uint32 (4 bytes)
//	checksum       = big endian uint32 CRC-32C of payload (4 bytes)
//
// the headers are self-describing so a lost manifest can be rebuilt
// by scanning the chunk files
package timestore
