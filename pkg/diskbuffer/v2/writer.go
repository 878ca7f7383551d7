// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package v2

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/flowvalet/flowvalet/pkg/log"
)

// Writer is the single append-only producer side of a v2 disk buffer. Only
// one Writer may be open against a given buffer directory at a time,
// enforced by the exclusive advisory flock the ledger takes at open.
type Writer struct {
	dir    string
	ledger *ledger
	maxBytes int64

	mu          sync.Mutex
	file        *os.File
	fileID      uint16
	fileOffset  int64

	acks *OrderedAcknowledgements

	readerNotify chan struct{}
	writerNotify chan struct{}

	// reclaimed reports, for a given file id, whether the reader has moved
	// past it (so the writer may safely reuse/overwrite that file id after
	// wraparound, or simply knows it is not blocked opening the next file).
	reclaimed func(fileID uint16) bool
}

// newWriter opens (or resumes) the writer side. maxTotalBytes, if > 0, caps
// the buffer's total on-disk footprint across all files; 0 means unbounded
// aside from the per-file 128 MiB cap.
func newWriter(dir string, l *ledger, acks *OrderedAcknowledgements, maxTotalBytes int64, readerNotify, writerNotify chan struct{}, reclaimed func(uint16) bool) (*Writer, error) {
	w := &Writer{
		dir:          dir,
		ledger:       l,
		maxBytes:     maxTotalBytes,
		acks:         acks,
		readerNotify: readerNotify,
		writerNotify: writerNotify,
		reclaimed:    reclaimed,
	}
	fileID := l.writerCurrentDataFileID()
	f, offset, err := openForAppend(dir, fileID)
	if err != nil {
		return nil, err
	}
	w.file = f
	w.fileID = fileID
	w.fileOffset = offset
	return w, nil
}

func openForAppend(dir string, fileID uint16) (*os.File, int64, error) {
	path := dataFileName(dir, fileID)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Write appends one record carrying payload (the encoded EventArray) and
// representing eventCount events. It returns the record_id assigned.
//
// The write path: acquire id, serialize+CRC, roll the file if the
// record would overflow the 128 MiB cap (blocking on reader reclamation if
// the next file is not yet available), append, advance writer_next_record_id.
func (w *Writer) Write(ctx context.Context, payload []byte, eventCount uint64) (uint64, error) {
	if eventCount == 0 {
		return 0, fmt.Errorf("diskbuffer: eventCount must be > 0")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.ledger.writerNextRecordID()
	rec := encodeRecord(id, payload)

	if w.fileOffset+int64(len(rec)) > DataFileCap {
		if err := w.rollover(ctx); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(rec)
	if err != nil {
		return 0, fmt.Errorf("diskbuffer: write failed: %w", err)
	}
	w.fileOffset += int64(n)

	if err := w.acks.Track(w.fileID, id); err != nil {
		return 0, err
	}

	w.ledger.setWriterNextRecordID(id + eventCount)
	notify(w.readerNotify)
	return id, nil
}

// Flush fsyncs the current data file. The writer otherwise coalesces
// fsyncs to rollover time only; callers do not fsync per record.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// rollover closes the current file (with fsync), advances
// writer_current_data_file_id, and opens the next file, blocking until the
// reader has vacated it if necessary. Caller holds w.mu.
func (w *Writer) rollover(ctx context.Context) error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("diskbuffer: fsync on rollover failed: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("diskbuffer: close on rollover failed: %w", err)
	}

	next := nextFileID(w.fileID)
	for dataFileExists(w.dir, next) && !w.reclaimed(next) {
		log.Debugf("diskbuffer: writer blocked waiting for reader to reclaim file %d", next)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.writerNotify:
		}
	}

	// The total-footprint cap blocks at file granularity: a new file is not
	// opened while the worst case (existing data plus one full file) would
	// exceed it. Reclamation by the reader unblocks via writerNotify.
	for w.maxBytes > 0 && totalDataBytes(w.dir)+DataFileCap > w.maxBytes {
		log.Debugf("diskbuffer: writer blocked at total-bytes cap %d", w.maxBytes)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.writerNotify:
		}
	}

	f, offset, err := openForAppend(w.dir, next)
	if err != nil {
		return err
	}
	w.file = f
	w.fileID = next
	w.fileOffset = offset
	w.ledger.setWriterCurrentDataFileID(next)
	return nil
}

// Close flushes and closes the writer's open file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
