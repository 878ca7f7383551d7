// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package v1

import (
	"context"
	"fmt"

	v2 "github.com/flowvalet/flowvalet/pkg/diskbuffer/v2"
	"github.com/flowvalet/flowvalet/pkg/log"
)

// EventCountFunc reports how many events a stored payload represents, so
// migrated records keep the v2 ledger's event accounting exact. A nil
// function counts every payload as one event.
type EventCountFunc func(payload []byte) uint64

// Migrate drains src into dst, oldest record first: read, write durably to
// the v2 buffer, then delete from the v1 store. The migration is one-way and
// resumable — a crash mid-migration re-runs from the oldest record still in
// src, and the records already moved have already been deleted (deletes are
// flushed after every record, not left to the 250 ms timer, precisely so a re-run
// cannot double-write).
//
// Run the store in CompactionMigration mode while migrating so the v1
// directory shrinks as it drains.
func Migrate(ctx context.Context, src *Store, dst *v2.Buffer, count EventCountFunc) (int, error) {
	migrated := 0
	for {
		select {
		case <-ctx.Done():
			return migrated, ctx.Err()
		default:
		}

		key, payload, ok, err := src.First()
		if err != nil {
			return migrated, fmt.Errorf("diskbuffer/v1: migration read: %w", err)
		}
		if !ok {
			break
		}

		events := uint64(1)
		if count != nil {
			if n := count(payload); n > 0 {
				events = n
			}
		}
		if _, err := dst.Write(ctx, payload, events); err != nil {
			return migrated, fmt.Errorf("diskbuffer/v1: migration write: %w", err)
		}
		if err := dst.Flush(); err != nil {
			return migrated, fmt.Errorf("diskbuffer/v1: migration flush: %w", err)
		}

		src.Delete(key)
		if err := src.FlushDeletes(); err != nil {
			return migrated, fmt.Errorf("diskbuffer/v1: migration delete: %w", err)
		}
		migrated++
	}
	log.Infof("diskbuffer/v1: migrated %d records", migrated)
	return migrated, nil
}
