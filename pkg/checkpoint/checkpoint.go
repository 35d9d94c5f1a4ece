/*
 * Copyright 2024 The Sofa Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package checkpoint persists change feed sequence tokens so a consumer can
// resume where it left off across process restarts. Persist the token only
// after the change was processed: the feed guarantees at-least-once
// delivery, so a crash between processing and persisting replays the change.
package checkpoint

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var bucketCheckpoints = []byte("checkpoints")

// Checkpoint is the stored position of one feed.
type Checkpoint struct {
	// Seq is the sequence token of the last processed change.
	Seq string `msgpack:"seq"`

	// UpdatedAt is when the checkpoint was last saved.
	UpdatedAt time.Time `msgpack:"updated_at"`
}

// Store is a durable key-value store of feed checkpoints backed by a bbolt
// file. It is safe for concurrent use.
type Store struct {
	db *bbolt.DB
}

// Open opens the checkpoint store at the given path, creating the file if it
// does not exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, bbolt.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCheckpoints); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare checkpoint store: %w", err)
	}

	return &Store{db: db}, nil
}

// Save stores the sequence token for the given feed key.
func (s *Store) Save(key, seq string) error {
	record, err := msgpack.Marshal(Checkpoint{
		Seq:       seq,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).Put([]byte(key), record)
	}); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", key, err)
	}
	return nil
}

// Load returns the stored checkpoint for the given feed key, and whether one
// was present.
func (s *Store) Load(key string) (Checkpoint, bool, error) {
	var record []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketCheckpoints).Get([]byte(key))
		if value != nil {
			record = append(record, value...)
		}
		return nil
	}); err != nil {
		return Checkpoint{}, false, fmt.Errorf("load checkpoint %s: %w", key, err)
	}

	if record == nil {
		return Checkpoint{}, false, nil
	}

	var checkpoint Checkpoint
	if err := msgpack.Unmarshal(record, &checkpoint); err != nil {
		return Checkpoint{}, false, fmt.Errorf("unmarshal checkpoint %s: %w", key, err)
	}
	return checkpoint, true, nil
}

// Delete removes the checkpoint for the given feed key.
func (s *Store) Delete(key string) error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close checkpoint store: %w", err)
	}
	return nil
}
