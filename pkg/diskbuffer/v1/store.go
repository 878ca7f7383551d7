// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package v1 implements the legacy disk-buffer layout: an embedded
// ordered-key store with batched deletes and background compaction. It
// exists so buffers written by earlier deployments can still be drained;
// new buffers are always v2, and the only supported path for v1 data is a
// one-way migration into a v2 buffer (see migrate.go).
package v1

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/flowvalet/flowvalet/pkg/log"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CompactionMode selects the compaction cadence. Migration mode compacts far
// more aggressively (1 s instead of 60 s between passes) because a draining
// buffer shrinks fast and reclaiming its disk promptly is the whole point.
// The mode is always explicit configuration, never inferred from whether a
// migration happens to be running.
type CompactionMode string

const (
	CompactionNormal    CompactionMode = "normal"
	CompactionMigration CompactionMode = "migration"
)

const (
	// compactionFloor is the minimum uncompacted size before any trigger
	// fires; compacting less than this costs more in rewrite I/O than it
	// reclaims.
	compactionFloor int64 = 4 << 20

	// normalInterval and migrationInterval gate the size-ratio trigger and
	// the migration-mode trigger respectively.
	normalInterval    = 60 * time.Second
	migrationInterval = 1 * time.Second

	// DeleteFlushInterval is how often queued deletes are flushed to the
	// tombstone log.
	DeleteFlushInterval = 250 * time.Millisecond
)

// recordHeaderLen is key (u64) + payload len (u32) + crc32c (u32).
const recordHeaderLen = 8 + 4 + 4

// Options configures Open.
type Options struct {
	// Mode selects the compaction cadence; empty means normal.
	Mode CompactionMode

	// MaxUncompactedBytes triggers compaction unconditionally (above the
	// 4 MiB floor) once this much dead data has accumulated; 0 means the
	// size-ratio and interval triggers alone decide.
	MaxUncompactedBytes int64
}

type recordLoc struct {
	offset     int64
	sizeOnDisk int64
}

// Store is one v1 buffer directory: a generation-numbered record log, an
// append-only tombstone log, and an in-memory index of live records. Records
// are keyed by a monotonically increasing u64 assigned at push time; reads
// return the lowest live key, making the store an ordered FIFO.
type Store struct {
	dir  string
	opts Options

	mu      sync.Mutex
	gen     uint64
	logFile *os.File
	tombs   *os.File

	index   map[uint64]recordLoc
	keys    []uint64 // sorted live keys
	nextKey uint64

	pendingDeletes []uint64

	unreadBytes      int64
	uncompactedBytes int64
	lastCompaction   time.Time
}

func genLogName(dir string, gen uint64) string {
	return filepath.Join(dir, fmt.Sprintf("records-%05d.log", gen))
}

func tombstoneName(dir string) string {
	return filepath.Join(dir, "tombstones.db")
}

// Open opens (or creates) a v1 store rooted at dir, replaying the record log
// and tombstone log to rebuild the live index.
func Open(dir string, opts Options) (*Store, error) {
	if opts.Mode == "" {
		opts.Mode = CompactionNormal
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{
		dir:            dir,
		opts:           opts,
		index:          make(map[uint64]recordLoc),
		lastCompaction: time.Now(),
	}
	if err := s.replay(); err != nil {
		return nil, err
	}
	return s, nil
}

// replay finds the newest generation log, scans it, then subtracts the
// tombstone log. Older generation files are leftovers of an interrupted
// compaction and are removed.
func (s *Store) replay() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "records-*.log"))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	if len(matches) > 0 {
		newest := matches[len(matches)-1]
		if _, err := fmt.Sscanf(filepath.Base(newest), "records-%d.log", &s.gen); err != nil {
			return fmt.Errorf("diskbuffer/v1: malformed log name %s: %w", newest, err)
		}
		for _, stale := range matches[:len(matches)-1] {
			os.Remove(stale)
		}
	}

	f, err := os.OpenFile(genLogName(s.dir, s.gen), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	s.logFile = f

	offset := int64(0)
	header := make([]byte, recordHeaderLen)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			break // EOF or torn tail: truncate below
		}
		key := binary.LittleEndian.Uint64(header[0:8])
		payloadLen := int64(binary.LittleEndian.Uint32(header[8:12]))
		wantCRC := binary.LittleEndian.Uint32(header[12:16])
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(f, payload); err != nil {
			break
		}
		if crc32.Checksum(payload, castagnoli) != wantCRC {
			break
		}
		s.index[key] = recordLoc{offset: offset, sizeOnDisk: recordHeaderLen + payloadLen}
		s.unreadBytes += recordHeaderLen + payloadLen
		if key >= s.nextKey {
			s.nextKey = key + 1
		}
		offset += recordHeaderLen + payloadLen
	}
	if err := f.Truncate(offset); err != nil {
		return err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	tombs, err := os.OpenFile(tombstoneName(s.dir), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	s.tombs = tombs
	keyBuf := make([]byte, 8)
	for {
		if _, err := io.ReadFull(tombs, keyBuf); err != nil {
			break
		}
		key := binary.LittleEndian.Uint64(keyBuf)
		if loc, ok := s.index[key]; ok {
			delete(s.index, key)
			s.unreadBytes -= loc.sizeOnDisk
			s.uncompactedBytes += loc.sizeOnDisk
		}
	}
	if _, err := tombs.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	s.keys = s.keys[:0]
	for key := range s.index {
		s.keys = append(s.keys, key)
	}
	sort.Slice(s.keys, func(i, j int) bool { return s.keys[i] < s.keys[j] })
	return nil
}

// Push appends one record and returns its key.
func (s *Store) Push(payload []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.nextKey
	buf := make([]byte, recordHeaderLen+len(payload))
	binary.LittleEndian.PutUint64(buf[0:8], key)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[12:16], crc32.Checksum(payload, castagnoli))
	copy(buf[recordHeaderLen:], payload)

	offset, err := s.logFile.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := s.logFile.Write(buf); err != nil {
		return 0, err
	}

	s.nextKey++
	s.index[key] = recordLoc{offset: offset, sizeOnDisk: int64(len(buf))}
	s.keys = append(s.keys, key)
	s.unreadBytes += int64(len(buf))
	return key, nil
}

// First returns the lowest live key and its payload without removing it, or
// ok=false when the store is empty.
func (s *Store) First() (key uint64, payload []byte, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.keys) == 0 {
		return 0, nil, false, nil
	}
	key = s.keys[0]
	loc := s.index[key]
	buf := make([]byte, loc.sizeOnDisk)
	if _, err := s.logFile.ReadAt(buf, loc.offset); err != nil {
		return 0, nil, false, err
	}
	return key, buf[recordHeaderLen:], true, nil
}

// Delete queues key for deletion. The deletion is not durable until the next
// tombstone flush; callers that need it sooner call FlushDeletes directly.
func (s *Store) Delete(key uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.index[key]
	if !ok {
		return
	}
	delete(s.index, key)
	if len(s.keys) > 0 && s.keys[0] == key {
		s.keys = s.keys[1:]
	} else {
		for i, k := range s.keys {
			if k == key {
				s.keys = append(s.keys[:i], s.keys[i+1:]...)
				break
			}
		}
	}
	s.unreadBytes -= loc.sizeOnDisk
	s.uncompactedBytes += loc.sizeOnDisk
	s.pendingDeletes = append(s.pendingDeletes, key)
}

// FlushDeletes appends queued tombstones to the tombstone log.
func (s *Store) FlushDeletes() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushDeletesLocked()
}

func (s *Store) flushDeletesLocked() error {
	if len(s.pendingDeletes) == 0 {
		return nil
	}
	buf := make([]byte, 8*len(s.pendingDeletes))
	for i, key := range s.pendingDeletes {
		binary.LittleEndian.PutUint64(buf[i*8:], key)
	}
	if _, err := s.tombs.Write(buf); err != nil {
		return err
	}
	s.pendingDeletes = s.pendingDeletes[:0]
	return s.tombs.Sync()
}

// Len reports the number of live records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// UncompactedBytes reports how much dead data the current log carries.
func (s *Store) UncompactedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uncompactedBytes
}

// Close flushes pending deletes and closes the underlying files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flushDeletesLocked(); err != nil {
		log.Warnf("diskbuffer/v1: flushing deletes on close: %v", err)
	}
	terr := s.tombs.Close()
	lerr := s.logFile.Close()
	if lerr != nil {
		return lerr
	}
	return terr
}
