// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package v2

import (
	"fmt"
	"sync"
)

// pendingRecord tracks one emitted-but-not-yet-resolved record within one
// data file.
type pendingRecord struct {
	id    uint64
	acked bool
}

// OrderedAcknowledgements tracks, per data file, which emitted records have
// resolved their finalizer, so that a file can be deleted as soon as its
// entire prefix (by record_id) is acknowledged.
//
// Insertion must be strictly monotonic in record_id: violating that is a
// fatal invariant violation, not a recoverable error.
type OrderedAcknowledgements struct {
	mu sync.Mutex

	// byFile holds, per data file, the ordered list of records written to
	// it that have not yet been deleted.
	byFile map[uint16][]*pendingRecord
	lastInsertedID uint64
	haveInserted   bool
}

// NewOrderedAcknowledgements returns an empty tracker.
func NewOrderedAcknowledgements() *OrderedAcknowledgements {
	return &OrderedAcknowledgements{
		byFile: make(map[uint16][]*pendingRecord),
	}
}

// InvariantViolation is returned when monotonicity is violated, a fatal
// condition callers handle by transitioning the buffer to read-only
// degraded mode.
type InvariantViolation struct{ Message string }

func (e *InvariantViolation) Error() string { return "diskbuffer: invariant violation: " + e.Message }

// Track registers a newly emitted record belonging to fileID, to be resolved
// later via Ack. id must be strictly greater than every previously tracked
// id across the whole buffer (record_id is monotonic buffer-wide, not just
// per file).
func (o *OrderedAcknowledgements) Track(fileID uint16, id uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.haveInserted && id <= o.lastInsertedID {
		return &InvariantViolation{Message: fmt.Sprintf("record id %d not strictly greater than previous %d", id, o.lastInsertedID)}
	}
	o.lastInsertedID = id
	o.haveInserted = true
	o.byFile[fileID] = append(o.byFile[fileID], &pendingRecord{id: id})
	return nil
}

// Ack marks the record identified by (fileID, id) as resolved.
func (o *OrderedAcknowledgements) Ack(fileID uint16, id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.byFile[fileID] {
		if r.id == id {
			r.acked = true
			return
		}
	}
}

// FileFullyAcked reports whether every record tracked so far for fileID has
// resolved. On its own this does not make the file reclaimable: tracking
// only covers records already written, so the caller (Reader.Ack and
// Reader.rollForward) must additionally ensure the file is sealed (the
// writer has moved past it) and exhausted (the reader has moved past it)
// before deleting it.
func (o *OrderedAcknowledgements) FileFullyAcked(fileID uint16) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	records, ok := o.byFile[fileID]
	if !ok {
		return false
	}
	for _, r := range records {
		if !r.acked {
			return false
		}
	}
	return true
}

// Forget drops all tracked state for fileID, called once the file has been
// deleted from disk.
func (o *OrderedAcknowledgements) Forget(fileID uint16) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.byFile, fileID)
}

// PendingCount returns the number of not-yet-acked records across all
// tracked files, used by health reporting.
func (o *OrderedAcknowledgements) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, records := range o.byFile {
		for _, r := range records {
			if !r.acked {
				n++
			}
		}
	}
	return n
}
