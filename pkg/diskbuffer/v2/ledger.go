// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package v2

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ledgerSize is the exact 24-byte fixed record:
// writer_next_record_id (u64) + writer_current_data_file_id (u16) +
// reader_current_data_file_id (u16) + 4 bytes of padding +
// reader_last_record_id (u64).
const ledgerSize = 8 + 2 + 2 + 4 + 8

const (
	offWriterNextRecordID      = 0
	offWriterCurrentDataFileID = 8
	offReaderCurrentDataFileID = 10
	offReaderLastRecordID      = 16
)

// ledger is the memory-mapped ledger file. The ledger as a whole is not a
// transaction: every set method below updates exactly one field
// under its own lock, so a crash between two set calls can never produce a
// torn multi-field update, only a torn-but-field-atomic one, which recovery
// tolerates.
type ledger struct {
	file *os.File
	data []byte // mmap'd, len == ledgerSize

	muWriterNext    sync.Mutex
	muWriterFileID  sync.Mutex
	muReaderFileID  sync.Mutex
	muReaderLastID  sync.Mutex
}

// openLedger opens (creating if absent) and mmaps the ledger file at path.
// An exclusive advisory flock on the ledger enforces the single-writer /
// single-reader rule at open: exactly one process may own a buffer
// directory, and that process holds both endpoints.
func openLedger(path string) (*ledger, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("diskbuffer: buffer at %s already open in another process: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() < int64(ledgerSize) {
		if err := f.Truncate(int64(ledgerSize)); err != nil {
			f.Close()
			return nil, err
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, ledgerSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &ledger{file: f, data: data}, nil
}

func (l *ledger) close() error {
	if l == nil {
		return nil
	}
	err := unix.Munmap(l.data)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func (l *ledger) writerNextRecordID() uint64 {
	l.muWriterNext.Lock()
	defer l.muWriterNext.Unlock()
	return binary.LittleEndian.Uint64(l.data[offWriterNextRecordID:])
}

func (l *ledger) setWriterNextRecordID(v uint64) {
	l.muWriterNext.Lock()
	defer l.muWriterNext.Unlock()
	binary.LittleEndian.PutUint64(l.data[offWriterNextRecordID:], v)
}

func (l *ledger) writerCurrentDataFileID() uint16 {
	l.muWriterFileID.Lock()
	defer l.muWriterFileID.Unlock()
	return binary.LittleEndian.Uint16(l.data[offWriterCurrentDataFileID:])
}

func (l *ledger) setWriterCurrentDataFileID(v uint16) {
	l.muWriterFileID.Lock()
	defer l.muWriterFileID.Unlock()
	binary.LittleEndian.PutUint16(l.data[offWriterCurrentDataFileID:], v)
}

func (l *ledger) readerCurrentDataFileID() uint16 {
	l.muReaderFileID.Lock()
	defer l.muReaderFileID.Unlock()
	return binary.LittleEndian.Uint16(l.data[offReaderCurrentDataFileID:])
}

func (l *ledger) setReaderCurrentDataFileID(v uint16) {
	l.muReaderFileID.Lock()
	defer l.muReaderFileID.Unlock()
	binary.LittleEndian.PutUint16(l.data[offReaderCurrentDataFileID:], v)
}

func (l *ledger) readerLastRecordID() uint64 {
	l.muReaderLastID.Lock()
	defer l.muReaderLastID.Unlock()
	return binary.LittleEndian.Uint64(l.data[offReaderLastRecordID:])
}

func (l *ledger) setReaderLastRecordID(v uint64) {
	l.muReaderLastID.Lock()
	defer l.muReaderLastID.Unlock()
	binary.LittleEndian.PutUint64(l.data[offReaderLastRecordID:], v)
}
