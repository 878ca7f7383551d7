// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package v1

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/flowvalet/flowvalet/pkg/log"
)

// shouldCompact evaluates the compaction triggers: nothing fires below the
// 4 MiB floor; above it, compaction runs when dead data exceeds the
// configured max, when dead data outweighs live data and the mode's interval
// has elapsed, or (migration mode) simply when the short migration interval
// has elapsed. Caller holds s.mu.
func (s *Store) shouldCompact(now time.Time) bool {
	if s.uncompactedBytes < compactionFloor {
		return false
	}
	if s.opts.MaxUncompactedBytes > 0 && s.uncompactedBytes > s.opts.MaxUncompactedBytes {
		return true
	}
	if s.uncompactedBytes > s.unreadBytes && now.Sub(s.lastCompaction) >= normalInterval {
		return true
	}
	if s.opts.Mode == CompactionMigration && now.Sub(s.lastCompaction) >= migrationInterval {
		return true
	}
	return false
}

// Compact rewrites every live record into a new generation log, swaps it in,
// and truncates the tombstone log. A crash mid-compaction leaves either the
// old generation intact or both generations on disk; replay keeps the newest
// complete one and removes the rest.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compactLocked()
}

func (s *Store) compactLocked() error {
	nextGen := s.gen + 1
	path := genLogName(s.dir, nextGen)
	out, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	newIndex := make(map[uint64]recordLoc, len(s.keys))
	var offset, liveBytes int64
	for _, key := range s.keys {
		loc := s.index[key]
		buf := make([]byte, loc.sizeOnDisk)
		if _, err := s.logFile.ReadAt(buf, loc.offset); err != nil {
			out.Close()
			os.Remove(path)
			return fmt.Errorf("diskbuffer/v1: compaction read: %w", err)
		}
		payload := buf[recordHeaderLen:]
		if crc32.Checksum(payload, castagnoli) != binary.LittleEndian.Uint32(buf[12:16]) {
			out.Close()
			os.Remove(path)
			return fmt.Errorf("diskbuffer/v1: compaction found corrupt record %d", key)
		}
		if _, err := out.Write(buf); err != nil {
			out.Close()
			os.Remove(path)
			return fmt.Errorf("diskbuffer/v1: compaction write: %w", err)
		}
		newIndex[key] = recordLoc{offset: offset, sizeOnDisk: loc.sizeOnDisk}
		offset += loc.sizeOnDisk
		liveBytes += loc.sizeOnDisk
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}

	oldPath := genLogName(s.dir, s.gen)
	s.logFile.Close()
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		log.Warnf("diskbuffer/v1: removing old generation %s: %v", oldPath, err)
	}
	if _, err := out.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	s.logFile = out
	s.gen = nextGen
	s.index = newIndex
	s.uncompactedBytes = 0
	s.unreadBytes = liveBytes
	s.lastCompaction = time.Now()

	// Every tombstoned record is gone from the new generation, so the
	// tombstone log restarts empty.
	s.pendingDeletes = s.pendingDeletes[:0]
	if err := s.tombs.Truncate(0); err != nil {
		return err
	}
	if _, err := s.tombs.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return nil
}

// Maintainer runs the store's periodic jobs: tombstone flushes every 250 ms
// and compaction-trigger checks every second, scheduled with gocron rather
// than hand-rolled tickers so both jobs share one scheduler lifecycle.
type Maintainer struct {
	scheduler gocron.Scheduler
}

// StartMaintainer schedules the flush and compaction jobs for s and starts
// them. Stop the returned Maintainer before closing the store.
func StartMaintainer(s *Store) (*Maintainer, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(DeleteFlushInterval),
		gocron.NewTask(func() {
			if err := s.FlushDeletes(); err != nil {
				log.Errorf("diskbuffer/v1: delete flush: %v", err)
			}
		}),
	); err != nil {
		scheduler.Shutdown()
		return nil, err
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(migrationInterval),
		gocron.NewTask(func() {
			s.mu.Lock()
			run := s.shouldCompact(time.Now())
			s.mu.Unlock()
			if !run {
				return
			}
			if err := s.Compact(); err != nil {
				log.Errorf("diskbuffer/v1: compaction: %v", err)
			}
		}),
	); err != nil {
		scheduler.Shutdown()
		return nil, err
	}

	scheduler.Start()
	return &Maintainer{scheduler: scheduler}, nil
}

// Stop shuts the scheduler down, waiting for in-flight jobs.
func (m *Maintainer) Stop() error {
	return m.scheduler.Shutdown()
}
