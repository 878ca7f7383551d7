// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package v1

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v2 "github.com/flowvalet/flowvalet/pkg/diskbuffer/v2"
)

func TestStorePushFirstDelete(t *testing.T) {
	s, err := Open(t.TempDir(), Options{})
	require.NoError(t, err)
	defer s.Close()

	k0, err := s.Push([]byte("first"))
	require.NoError(t, err)
	k1, err := s.Push([]byte("second"))
	require.NoError(t, err)
	assert.Less(t, k0, k1)

	key, payload, ok, err := s.First()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, k0, key)
	assert.Equal(t, "first", string(payload))

	s.Delete(k0)
	key, payload, ok, err = s.First()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, k1, key)
	assert.Equal(t, "second", string(payload))

	s.Delete(k1)
	_, _, ok, err = s.First()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreReplaySurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{})
	require.NoError(t, err)

	k0, err := s.Push([]byte("keep"))
	require.NoError(t, err)
	k1, err := s.Push([]byte("gone"))
	require.NoError(t, err)
	s.Delete(k1)
	require.NoError(t, s.FlushDeletes())
	require.NoError(t, s.Close())

	s, err = Open(dir, Options{})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 1, s.Len())
	key, payload, ok, err := s.First()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, k0, key)
	assert.Equal(t, "keep", string(payload))

	// New keys continue past every previously assigned one.
	k2, err := s.Push([]byte("new"))
	require.NoError(t, err)
	assert.Greater(t, k2, k1)
}

func TestStoreUnflushedDeleteReappears(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{})
	require.NoError(t, err)

	k0, err := s.Push([]byte("zombie"))
	require.NoError(t, err)
	s.Delete(k0)
	// Simulate a crash before the 250 ms tombstone flush: close the files
	// directly without flushing.
	s.logFile.Close()
	s.tombs.Close()

	s, err = Open(dir, Options{})
	require.NoError(t, err)
	defer s.Close()

	// The un-flushed delete is lost, so the record is live again; the
	// consumer re-deletes it on replay, which is the at-least-once contract
	// batched deletes buy.
	assert.Equal(t, 1, s.Len())
}

func TestStoreCompactReclaims(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{})
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 10; i++ {
		_, err := s.Push([]byte(fmt.Sprintf("record-%02d", i)))
		require.NoError(t, err)
	}
	for key := uint64(0); key < 5; key++ {
		s.Delete(key)
	}
	require.NoError(t, s.FlushDeletes())
	before := s.UncompactedBytes()
	assert.Positive(t, before)

	require.NoError(t, s.Compact())
	assert.Zero(t, s.UncompactedBytes())
	assert.Equal(t, 5, s.Len())

	// Live records survive with their keys and payloads intact.
	key, payload, ok, err := s.First()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(5), key)
	assert.Equal(t, "record-05", string(payload))

	// And the compacted generation replays after reopen.
	require.NoError(t, s.Close())
	s, err = Open(dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, s.Len())
}

func TestShouldCompactTriggers(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		prep func(s *Store)
		want bool
	}{
		{"below 4MiB floor", func(s *Store) {
			s.uncompactedBytes = 1 << 20
			s.lastCompaction = now.Add(-time.Hour)
		}, false},
		{"over configured max", func(s *Store) {
			s.opts.MaxUncompactedBytes = 8 << 20
			s.uncompactedBytes = 9 << 20
		}, true},
		{"dead exceeds live but too soon", func(s *Store) {
			s.uncompactedBytes = 5 << 20
			s.unreadBytes = 1 << 20
			s.lastCompaction = now.Add(-10 * time.Second)
		}, false},
		{"dead exceeds live after interval", func(s *Store) {
			s.uncompactedBytes = 5 << 20
			s.unreadBytes = 1 << 20
			s.lastCompaction = now.Add(-2 * time.Minute)
		}, true},
		{"migration mode short interval", func(s *Store) {
			s.opts.Mode = CompactionMigration
			s.uncompactedBytes = 5 << 20
			s.unreadBytes = 100 << 20
			s.lastCompaction = now.Add(-2 * time.Second)
		}, true},
		{"normal mode same state waits", func(s *Store) {
			s.uncompactedBytes = 5 << 20
			s.unreadBytes = 100 << 20
			s.lastCompaction = now.Add(-2 * time.Second)
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Store{opts: Options{Mode: CompactionNormal}, lastCompaction: now}
			tt.prep(s)
			assert.Equal(t, tt.want, s.shouldCompact(now))
		})
	}
}

func TestMigrateMovesEverything(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()

	src, err := Open(srcDir, Options{Mode: CompactionMigration})
	require.NoError(t, err)
	defer src.Close()

	for i := 0; i < 5; i++ {
		_, err := src.Push([]byte(fmt.Sprintf("legacy-%d", i)))
		require.NoError(t, err)
	}

	dst, err := v2.Open(dstDir, v2.Options{})
	require.NoError(t, err)
	defer dst.Close()

	n, err := Migrate(context.Background(), src, dst, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 0, src.Len(), "migration drains the v1 store")

	// The records arrive in the v2 buffer in order.
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		rec, ack, err := dst.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("legacy-%d", i), string(rec.Payload))
		ack(1)
	}
}
