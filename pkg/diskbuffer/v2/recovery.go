// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package v2

import (
	"io"
	"os"

	"github.com/flowvalet/flowvalet/pkg/log"
)

// DecodeFunc validates that payload is well-formed for the event serializer
// in use and reports how many events it encodes. Recovery uses it to tell a
// CRC-valid-but-semantically-undecodable tail record apart from ordinary
// truncation, and to compute the id advance
// record_id(next) = record_id(this) + event_count(this).
type DecodeFunc func(payload []byte) (eventCount uint64, err error)

// recoverWriter scans the writer's current data file from the beginning,
// validating every record's CRC, and truncates the file at the first
// invalid or short record, the writer-crashed-mid-append case: no partial
// record is ever emitted to the reader.
//
// If the last otherwise-valid record fails decode (a semantic failure, not
// a CRC failure), it is also dropped so buffer accounting stays
// consistent.
func recoverWriter(dir string, l *ledger, decode DecodeFunc) error {
	fileID := l.writerCurrentDataFileID()
	path := dataFileName(dir, fileID)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	// crcValidEnd is the byte offset up to which every record's CRC has
	// checked out; a CRC failure or short read truncates here unconditionally.
	// Records are read whole with ReadFull rather than through a fixed-size
	// buffered reader: one record may be up to the 128 MiB file cap.
	var crcValidEnd int64
	var lastGoodID, lastGoodCount uint64
	var lastGoodEnd int64
	haveGood := false

	header := make([]byte, recordHeaderLen)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			break
		}
		payloadLen, crc, id, err := decodeRecordHeader(header)
		if err != nil || payloadLen < 0 || int64(payloadLen) > DataFileCap {
			break
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(f, payload); err != nil {
			break
		}
		if err := verifyRecord(id, payload, crc); err != nil {
			break
		}
		crcValidEnd += int64(recordHeaderLen + payloadLen)

		var count uint64 = 1
		var derr error
		if decode != nil {
			count, derr = decode(payload)
		}
		if derr != nil {
			// A CRC-valid record the serializer cannot decode. We don't
			// yet know whether it is the last record, so remember it as
			// provisionally bad; if more valid records follow,
			// lastGoodEnd/lastGoodID advance past it below and it stays
			// included, since only a bad tail record can be dropped
			// without renumbering everything behind it.
			log.Warnf("diskbuffer: undecodable record %d during recovery: %v", id, derr)
			continue
		}
		lastGoodID, lastGoodCount = id, count
		lastGoodEnd = crcValidEnd
		haveGood = true
	}

	// If the very last CRC-valid record was the semantically bad one,
	// lastGoodEnd stops short of crcValidEnd; truncate there so it is
	// dropped.
	truncateAt := crcValidEnd
	if haveGood && lastGoodEnd < crcValidEnd {
		truncateAt = lastGoodEnd
	} else if !haveGood {
		truncateAt = 0
	}

	if err := f.Truncate(truncateAt); err != nil {
		return err
	}

	if haveGood {
		l.setWriterNextRecordID(lastGoodID + lastGoodCount)
	}
	return nil
}

// recoverReader seeks the reader to reader_last_record_id, or to the next
// available file if that data file no longer exists (rare: writer-only
// advancement).
func recoverReader(dir string, l *ledger) {
	fileID := l.readerCurrentDataFileID()
	if dataFileExists(dir, fileID) {
		return
	}
	for id := fileID; id != l.writerCurrentDataFileID(); id = nextFileID(id) {
		if dataFileExists(dir, id) {
			l.setReaderCurrentDataFileID(id)
			return
		}
	}
	l.setReaderCurrentDataFileID(l.writerCurrentDataFileID())
}
