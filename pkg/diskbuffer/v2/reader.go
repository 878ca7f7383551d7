// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package v2

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/flowvalet/flowvalet/pkg/log"
)

// Reader is the single consumer side of a v2 disk buffer. Records are read
// at an explicit file offset with ReadAt rather than through a buffered
// reader: one record carries a whole EventArray and may be up to the full
// 128 MiB file cap, far beyond any fixed read-ahead buffer, and a partial
// record at the tail of the file being appended to must be left unconsumed
// until the writer finishes it.
type Reader struct {
	dir    string
	ledger *ledger
	acks   *OrderedAcknowledgements

	file   *os.File
	offset int64
	fileID uint16

	readerNotify chan struct{}
	writerNotify chan struct{}

	onDegraded func(error)
}

func newReader(dir string, l *ledger, acks *OrderedAcknowledgements, readerNotify, writerNotify chan struct{}, onDegraded func(error)) (*Reader, error) {
	r := &Reader{
		dir:          dir,
		ledger:       l,
		acks:         acks,
		readerNotify: readerNotify,
		writerNotify: writerNotify,
		onDegraded:   onDegraded,
	}
	fileID := l.readerCurrentDataFileID()
	if !dataFileExists(dir, fileID) {
		// Writer-only advancement: move to the next available file.
		for !dataFileExists(dir, fileID) && fileID != l.writerCurrentDataFileID() {
			fileID = nextFileID(fileID)
		}
		l.setReaderCurrentDataFileID(fileID)
	}
	if err := r.openFile(fileID); err != nil {
		return nil, err
	}
	r.seekTo(l.readerLastRecordID())
	return r, nil
}

func (r *Reader) openFile(fileID uint16) error {
	path := dataFileName(r.dir, fileID)
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	r.file = f
	r.offset = 0
	r.fileID = fileID
	return nil
}

// readHeaderAt reads and decodes one record header at off. Any failure to
// obtain a full, sane header reads as io.EOF: at the tail of the file being
// appended to it means "not yet written", and mid-file it means truncation.
func (r *Reader) readHeaderAt(off int64) (payloadLen int, crc uint32, id uint64, err error) {
	header := make([]byte, recordHeaderLen)
	if _, err := r.file.ReadAt(header, off); err != nil {
		return 0, 0, 0, io.EOF
	}
	payloadLen, crc, id, err = decodeRecordHeader(header)
	if err != nil {
		return 0, 0, 0, io.EOF
	}
	return payloadLen, crc, id, nil
}

// seekTo advances past every record already consumed by a prior run, so a
// resumed Reader does not re-emit records it already handed out. nextID is
// the ledger's reader_last_record_id, which stores the id one past the last
// acknowledged record (id + event count), so the first record to re-emit is
// exactly the one with id >= nextID.
func (r *Reader) seekTo(nextID uint64) {
	for {
		payloadLen, _, id, err := r.readHeaderAt(r.offset)
		if err != nil || id >= nextID {
			return
		}
		r.offset += int64(recordHeaderLen + payloadLen)
	}
}

// Read emits the next record, blocking until one is available or ctx is
// cancelled. On EOF, await writer notification unless the writer has
// already moved past this file (in which case roll forward).
func (r *Reader) Read(ctx context.Context) (*Record, error) {
	for {
		rec, err := r.tryRead()
		if err == nil {
			return rec, nil
		}
		if err != io.EOF {
			if iv, ok := err.(*InvariantViolation); ok {
				r.onDegraded(iv)
				return nil, iv
			}
			return nil, err
		}

		if r.ledger.writerCurrentDataFileID() != r.fileID {
			if err := r.rollForward(); err != nil {
				return nil, err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.readerNotify:
		}
	}
}

func (r *Reader) tryRead() (*Record, error) {
	payloadLen, crc, id, err := r.readHeaderAt(r.offset)
	if err != nil {
		return nil, io.EOF
	}
	// No valid record exceeds the data-file cap; a larger length is a
	// corrupt header, not a record the writer is still appending.
	if payloadLen < 0 || int64(payloadLen) > DataFileCap {
		return nil, &InvariantViolation{Message: fmt.Sprintf("record %d in file %d declares impossible length %d", id, r.fileID, payloadLen)}
	}
	payload := make([]byte, payloadLen)
	if _, err := r.file.ReadAt(payload, r.offset+recordHeaderLen); err != nil {
		// Short payload at the tail of an open file: not yet fully
		// written, retry once the writer notifies.
		return nil, io.EOF
	}
	if err := verifyRecord(id, payload, crc); err != nil {
		return nil, &InvariantViolation{Message: fmt.Sprintf("crc mismatch at record %d in file %d", id, r.fileID)}
	}
	r.offset += int64(recordHeaderLen + payloadLen)
	return &Record{ID: id, Payload: payload}, nil
}

// rollForward closes the exhausted file and opens the next one. The
// vacated file becomes reclaimable the moment the reader is off it: if its
// acknowledgements already all arrived while it was still being read, this
// is the point where it gets deleted (otherwise the final Ack does it).
func (r *Reader) rollForward() error {
	prev := r.fileID
	if err := r.file.Close(); err != nil {
		return err
	}
	if err := r.openFile(nextFileID(prev)); err != nil {
		return err
	}
	r.ledger.setReaderCurrentDataFileID(r.fileID)
	notify(r.writerNotify)

	if r.acks.FileFullyAcked(prev) {
		r.reclaim(prev)
	}
	return nil
}

// Ack resolves bookkeeping for a record this reader previously emitted,
// advances reader_last_record_id to one past the record (id + event count,
// mirroring how writer_next_record_id advances), and reclaims fileID once
// it is sealed (the writer has moved past it), exhausted (the reader has
// moved past it), and every record tracked for it has resolved. Called from
// the finalizer attached to the emitted event.
func (r *Reader) Ack(fileID uint16, id, eventCount uint64) {
	r.acks.Ack(fileID, id)
	if eventCount == 0 {
		eventCount = 1
	}
	if id+eventCount > r.ledger.readerLastRecordID() {
		r.ledger.setReaderLastRecordID(id + eventCount)
	}
	// Acks arrive asynchronously: the first record of a sealed file can
	// resolve long before the reader has read the rest of that file, so
	// "fully acked" alone must never delete a file the reader still sits
	// on — the unread remainder would be lost.
	if fileID != r.ledger.writerCurrentDataFileID() &&
		fileID != r.ledger.readerCurrentDataFileID() &&
		r.acks.FileFullyAcked(fileID) {
		r.reclaim(fileID)
	}
}

// reclaim deletes fileID's data file and notifies the writer it may reuse
// the slot. Deletion happens at whole-file granularity only.
func (r *Reader) reclaim(fileID uint16) {
	path := dataFileName(r.dir, fileID)
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("diskbuffer: failed to delete reclaimed file %s: %v", path, err)
		}
		return
	}
	r.acks.Forget(fileID)
	notify(r.writerNotify)
}

func (r *Reader) Close() error {
	return r.file.Close()
}
