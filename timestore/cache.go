// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package timestore

import (
	"strconv"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// keep recently decoded chunks for a while so repeated point lookups
// into the same bucket do not hit disk every time

const (
	defaultTimeout    = 1 * time.Minute
	defaultExpiration = 2 * time.Minute
)

// each bucket carries a generation number bumped on every invalidate;
// a reader samples the generation before decoding from disk and the
// install is refused if a flush moved it in the meantime, so a stale
// decode can never mask flushed records
type chunkCache struct {
	sync.Mutex
	cache       *cache.Cache
	generations map[int64]uint64
}

func newChunkCache() *chunkCache {
	return &chunkCache{
		cache:       cache.New(defaultTimeout, defaultExpiration),
		generations: make(map[int64]uint64),
	}
}

func cacheKey(bucketNumber int64) string {
	return strconv.FormatInt(bucketNumber, 10)
}

func (c *chunkCache) get(bucketNumber int64) (map[Key][]byte, bool) {
	obj, found := c.cache.Get(cacheKey(bucketNumber))
	if !found {
		return nil, false
	}
	return obj.(map[Key][]byte), true
}

// sample before reading the bucket from disk
func (c *chunkCache) generation(bucketNumber int64) uint64 {
	c.Lock()
	g := c.generations[bucketNumber]
	c.Unlock()
	return g
}

// install decoded records unless the bucket's chunk moved since the
// generation was sampled
func (c *chunkCache) setIfCurrent(bucketNumber int64, generation uint64, records map[Key][]byte) {
	c.Lock()
	if generation == c.generations[bucketNumber] {
		c.cache.Set(cacheKey(bucketNumber), records, defaultExpiration)
	}
	c.Unlock()
}

// must be called whenever a bucket's chunk is superseded
func (c *chunkCache) invalidate(bucketNumber int64) {
	c.Lock()
	c.generations[bucketNumber] += 1
	c.cache.Delete(cacheKey(bucketNumber))
	c.Unlock()
}

func (c *chunkCache) clear() {
	c.Lock()
	c.generations = make(map[int64]uint64)
	c.cache.Flush()
	c.Unlock()
}
