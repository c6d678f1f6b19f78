// SPDX-License-Identifier: ISC
// Copyright (c) 2018-2020 Veridian Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package timestore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitmark-inc/logger"

	"github.com/veridian-net/veridiand/fault"
)

func openTestChunkStore(t *testing.T) *chunkStore {
	dir := filepath.Join(internalTestDirectory, "chunks")
	err := os.MkdirAll(dir, 0700)
	if nil != err {
		t.Fatalf("mkdir error: %s", err)
	}
	s, err := openChunkStore(dir, NativePlatform(), logger.New("chunkstore-test"))
	if nil != err {
		t.Fatalf("open chunk store error: %s", err)
	}
	return s
}

func TestChunkWriteRead(t *testing.T) {
	internalSetup(t)
	defer internalTeardown()

	s := openTestChunkStore(t)
	defer s.close()

	data := []byte("some encoded chunk payload")
	location, err := s.write(7, data, false, 3)
	if nil != err {
		t.Fatalf("write error: %s", err)
	}
	if 0 != location.File || 0 != location.Offset {
		t.Fatalf("unexpected location: %+v", location)
	}
	if uint32(len(data)) != location.Length || 3 != location.Count || location.Compressed {
		t.Fatalf("descriptor mismatch: %+v", location)
	}

	read, err := s.read(location)
	if nil != err {
		t.Fatalf("read error: %s", err)
	}
	if !bytes.Equal(data, read) {
		t.Fatalf("read back: %q expected: %q", read, data)
	}
}

func TestChunkChecksum(t *testing.T) {
	internalSetup(t)
	defer internalTeardown()

	s := openTestChunkStore(t)
	defer s.close()

	location, err := s.write(1, []byte("checksummed"), false, 1)
	if nil != err {
		t.Fatalf("write error: %s", err)
	}

	// corrupt one payload byte behind the store's back
	name := chunkFileName(s.directory, location.File)
	f, err := os.OpenFile(name, os.O_RDWR, 0600)
	if nil != err {
		t.Fatalf("open error: %s", err)
	}
	_, err = f.WriteAt([]byte{0xff}, int64(location.Offset)+chunkHeaderLength)
	f.Close()
	if nil != err {
		t.Fatalf("corrupt error: %s", err)
	}

	_, err = s.read(location)
	if fault.ErrWrongChecksum != err {
		t.Fatalf("read corrupt chunk: %v expected: %v", err, fault.ErrWrongChecksum)
	}
}

func TestChunkSupersede(t *testing.T) {
	internalSetup(t)
	defer internalTeardown()

	s := openTestChunkStore(t)
	defer s.close()

	first, err := s.write(5, []byte("first version of bucket five"), false, 1)
	if nil != err {
		t.Fatalf("write error: %s", err)
	}

	// a replacement appends after the old bytes, never over them
	second, err := s.write(5, []byte("second version, a bit longer"), false, 2)
	if nil != err {
		t.Fatalf("write error: %s", err)
	}
	if second.File != first.File || second.Offset <= first.Offset {
		t.Fatalf("expected append after %+v, got %+v", first, second)
	}

	// the superseded chunk remains intact and readable
	read, err := s.read(first)
	if nil != err || !bytes.Equal([]byte("first version of bucket five"), read) {
		t.Fatalf("superseded chunk damaged: %q, %v", read, err)
	}
	read, err = s.read(second)
	if nil != err || !bytes.Equal([]byte("second version, a bit longer"), read) {
		t.Fatalf("read replacement: %q, %v", read, err)
	}

	// a rebuild scan visits both in order, so the last write wins
	var last Location
	err = s.scan(func(bucketNumber int64, l Location) error {
		if 5 == bucketNumber {
			last = l
		}
		return nil
	})
	if nil != err {
		t.Fatalf("scan error: %s", err)
	}
	if last != second {
		t.Fatalf("scan last: %+v expected: %+v", last, second)
	}
}

func TestChunkFileRoll(t *testing.T) {
	internalSetup(t)
	defer internalTeardown()

	s := openTestChunkStore(t)
	defer s.close()
	s.maximumSize = 128 // force frequent rolls

	payload := bytes.Repeat([]byte("x"), 100)
	locations := make([]Location, 0, 4)
	for i := int64(0); i < 4; i += 1 {
		l, err := s.write(i, payload, false, 1)
		if nil != err {
			t.Fatalf("write %d error: %s", i, err)
		}
		locations = append(locations, l)
	}

	if locations[3].File == locations[0].File {
		t.Fatalf("no roll happened: %+v", locations)
	}

	// chunks in rolled-away files stay readable
	for i, l := range locations {
		read, err := s.read(l)
		if nil != err || !bytes.Equal(payload, read) {
			t.Fatalf("read %d error: %v", i, err)
		}
	}
}

func TestChunkScan(t *testing.T) {
	internalSetup(t)
	defer internalTeardown()

	s := openTestChunkStore(t)
	defer s.close()
	s.maximumSize = 128

	expected := map[int64]uint32{}
	for i := int64(0); i < 5; i += 1 {
		l, err := s.write(i, bytes.Repeat([]byte("y"), 50+int(i)), false, uint32(i+1))
		if nil != err {
			t.Fatalf("write %d error: %s", i, err)
		}
		expected[i] = l.Length
	}

	found := map[int64]uint32{}
	err := s.scan(func(bucketNumber int64, l Location) error {
		found[bucketNumber] = l.Length
		return nil
	})
	if nil != err {
		t.Fatalf("scan error: %s", err)
	}
	if len(expected) != len(found) {
		t.Fatalf("scan found %d chunks expected: %d", len(found), len(expected))
	}
	for b, length := range expected {
		if found[b] != length {
			t.Errorf("bucket %d length: %d expected: %d", b, found[b], length)
		}
	}
}

func TestChunkScanTornTail(t *testing.T) {
	internalSetup(t)
	defer internalTeardown()

	s := openTestChunkStore(t)

	_, err := s.write(1, []byte("complete chunk"), false, 1)
	if nil != err {
		t.Fatalf("write error: %s", err)
	}
	torn, err := s.write(2, []byte("gets torn off"), false, 1)
	if nil != err {
		t.Fatalf("write error: %s", err)
	}
	s.close()

	// simulate a crash part way through the second append
	name := chunkFileName(s.directory, torn.File)
	err = os.Truncate(name, int64(torn.Offset)+chunkHeaderLength+4)
	if nil != err {
		t.Fatalf("truncate error: %s", err)
	}

	s2, err := openChunkStore(s.directory, NativePlatform(), logger.New("chunkstore-test"))
	if nil != err {
		t.Fatalf("reopen error: %s", err)
	}
	defer s2.close()

	buckets := []int64{}
	err = s2.scan(func(bucketNumber int64, l Location) error {
		buckets = append(buckets, bucketNumber)
		return nil
	})
	if nil != err {
		t.Fatalf("scan error: %s", err)
	}
	if 1 != len(buckets) || 1 != buckets[0] {
		t.Fatalf("scan after torn tail: %v expected: [1]", buckets)
	}
}

func TestChunkRemoveAll(t *testing.T) {
	internalSetup(t)
	defer internalTeardown()

	s := openTestChunkStore(t)
	defer s.close()

	location, err := s.write(1, []byte("doomed"), false, 1)
	if nil != err {
		t.Fatalf("write error: %s", err)
	}
	err = s.removeAll()
	if nil != err {
		t.Fatalf("removeAll error: %s", err)
	}

	_, err = s.read(location)
	if nil == err {
		t.Fatal("read succeeded after removeAll")
	}

	// the store is still usable
	_, err = s.write(2, []byte("fresh"), false, 1)
	if nil != err {
		t.Fatalf("write after removeAll error: %s", err)
	}
}
