// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package v2

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/flowvalet/flowvalet/pkg/log"
)

// Buffer owns one v2 disk-buffer directory end to end: ledger, data-file
// chain, and the notifier pair the Writer and Reader endpoints share. Both
// endpoints hold the shared ledger plus two level-triggered notifiers;
// there is no other link between them.
type Buffer struct {
	dir    string
	ledger *ledger
	acks   *OrderedAcknowledgements

	readerNotify chan struct{}
	writerNotify chan struct{}

	writer *Writer
	reader *Reader

	degraded atomic.Bool
	degradedErr atomic.Value // error

	mu sync.Mutex
}

// Options configures Open.
type Options struct {
	// Decode validates a stored record payload against the event
	// serializer in use and reports its event count, used during writer
	// recovery. May be nil, in which case recovery assumes every
	// record encodes exactly one event and skips semantic validation.
	Decode DecodeFunc

	// MaxTotalBytes bounds the buffer's total on-disk footprint across all
	// data files; 0 means unbounded aside from the per-file 128 MiB cap.
	MaxTotalBytes int64
}

// Open opens or creates a v2 disk buffer rooted at dir (conventionally
// "<data_dir>/buffer/v2/<buffer_id>"), running the crash recovery
// procedure before returning.
func Open(dir string, opts Options) (*Buffer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	l, err := openLedger(filepath.Join(dir, "buffer.db"))
	if err != nil {
		return nil, err
	}

	if err := recoverWriter(dir, l, opts.Decode); err != nil {
		l.close()
		return nil, err
	}
	recoverReader(dir, l)

	b := &Buffer{
		dir:          dir,
		ledger:       l,
		acks:         NewOrderedAcknowledgements(),
		readerNotify: make(chan struct{}, 1),
		writerNotify: make(chan struct{}, 1),
	}

	reader, err := newReader(dir, l, b.acks, b.readerNotify, b.writerNotify, b.markDegraded)
	if err != nil {
		l.close()
		return nil, err
	}
	b.reader = reader

	writer, err := newWriter(dir, l, b.acks, opts.MaxTotalBytes, b.readerNotify, b.writerNotify, b.fileReclaimed)
	if err != nil {
		reader.Close()
		l.close()
		return nil, err
	}
	b.writer = writer

	return b, nil
}

// fileReclaimed reports whether fileID's data file has been deleted (either
// it never existed, or the reader reclaimed it), used by the writer to
// decide whether it may safely open fileID as its next file.
func (b *Buffer) fileReclaimed(fileID uint16) bool {
	return !dataFileExists(b.dir, fileID)
}

// markDegraded transitions the buffer to read-only degraded mode on a fatal
// invariant violation: CRC mismatch mid-file, or ordered-ack
// monotonicity violation. The process does not exit; the operator is
// notified via a structured log line and IsDegraded becomes observable to
// the /healthz health check.
func (b *Buffer) markDegraded(err error) {
	if b.degraded.CompareAndSwap(false, true) {
		b.degradedErr.Store(err)
		log.Errorf("diskbuffer: %s entered degraded mode: %v", b.dir, err)
	}
}

// IsDegraded reports whether a fatal invariant violation has put this
// buffer into read-only degraded mode.
func (b *Buffer) IsDegraded() (bool, error) {
	if !b.degraded.Load() {
		return false, nil
	}
	if e, ok := b.degradedErr.Load().(error); ok {
		return true, e
	}
	return true, nil
}

// Write appends one record. It is the Writer endpoint's
// sole public entry point, exposed on Buffer for callers that don't need
// the Writer/Reader split (e.g. tests, or a channel-fabric wrapper that
// owns both ends in one goroutine-pair).
func (b *Buffer) Write(ctx context.Context, payload []byte, eventCount uint64) (uint64, error) {
	if degraded, err := b.IsDegraded(); degraded {
		return 0, err
	}
	return b.writer.Write(ctx, payload, eventCount)
}

// Read blocks for and returns the next record along with a ready-to-attach
// Ack function the caller invokes once the corresponding events' finalizers
// resolve, passing the record's decoded event count (the stored payload is
// opaque to the buffer, so only the caller knows it).
func (b *Buffer) Read(ctx context.Context) (*Record, func(eventCount uint64), error) {
	if degraded, err := b.IsDegraded(); degraded {
		return nil, nil, err
	}
	rec, err := b.reader.Read(ctx)
	if err != nil {
		return nil, nil, err
	}
	// tryRead only ever succeeds against the currently open file, so
	// reader.fileID is exactly the file this record belongs to.
	ackFileID := b.reader.fileID
	return rec, func(eventCount uint64) { b.reader.Ack(ackFileID, rec.ID, eventCount) }, nil
}

// Flush fsyncs the writer's current data file.
func (b *Buffer) Flush() error { return b.writer.Flush() }

// PendingEvents returns the number of outstanding (unacknowledged) events,
// derived from a first/last record_id subtraction rather than an
// external counter: writer_next_record_id - reader_last_record_id.
func (b *Buffer) PendingEvents() uint64 {
	next := b.ledger.writerNextRecordID()
	last := b.ledger.readerLastRecordID()
	if next < last {
		return 0
	}
	return next - last
}

// Close closes the writer, reader, and ledger.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	werr := b.writer.Close()
	rerr := b.reader.Close()
	lerr := b.ledger.close()
	if werr != nil {
		return werr
	}
	if rerr != nil {
		return rerr
	}
	return lerr
}
