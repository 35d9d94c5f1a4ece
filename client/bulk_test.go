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

package client_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sofa-team/sofa/client"
	"github.com/sofa-team/sofa/pkg/document"
)

func TestBulkWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("empty batch performs no network call test", func(t *testing.T) {
		db := dialUnreachableDB(t)

		results, err := db.BulkWrite(ctx, nil, false)
		assert.NoError(t, err)
		assert.Len(t, results, 0)
	})

	t.Run("results align with input order test", func(t *testing.T) {
		_, db := dialTestDB(t)

		docs := []document.Document{
			document.New("a1", map[string]interface{}{"n": float64(1)}),
			document.New("a2", map[string]interface{}{"n": float64(2)}),
			document.New("a3", map[string]interface{}{"n": float64(3)}),
		}

		results, err := db.BulkWrite(ctx, docs, false)
		assert.NoError(t, err)
		assert.Len(t, results, 3)
		for i, result := range results {
			assert.True(t, result.Ok())
			assert.Equal(t, docs[i].ID(), result.ID)
			assert.NotEqual(t, "", result.Rev)
		}
	})

	t.Run("slots fail independently test", func(t *testing.T) {
		_, db := dialTestDB(t)

		created, err := db.Put(ctx, document.New("a1", map[string]interface{}{"n": float64(1)}))
		assert.NoError(t, err)

		current, err := db.Put(ctx, document.New("a1", map[string]interface{}{
			"n": float64(2),
		}).WithRev(created.Rev()))
		assert.NoError(t, err)

		// The first slot carries the current revision, the last a stale one.
		results, err := db.BulkWrite(ctx, []document.Document{
			document.New("a1", map[string]interface{}{"n": float64(3)}).WithRev(current.Rev()),
			document.New("a2", map[string]interface{}{"n": float64(4)}),
			document.New("a1", map[string]interface{}{"n": float64(5)}).WithRev(created.Rev()),
		}, false)
		assert.NoError(t, err)
		assert.Len(t, results, 3)

		assert.True(t, results[0].Ok())
		assert.Equal(t, "a1", results[0].ID)

		assert.True(t, results[1].Ok())
		assert.Equal(t, "a2", results[1].ID)

		assert.False(t, results[2].Ok())
		assert.Equal(t, "a1", results[2].ID)
		assert.ErrorIs(t, results[2].Err, client.ErrConflict)

		// The surviving write is the one that carried the current revision.
		fetched, err := db.Get(ctx, "a1")
		assert.NoError(t, err)
		assert.Equal(t, float64(3), fetched.Payload()["n"])
	})

	t.Run("bulk delete via tombstones test", func(t *testing.T) {
		_, db := dialTestDB(t)

		created, err := db.Put(ctx, document.New("a1", map[string]interface{}{"n": float64(1)}))
		assert.NoError(t, err)

		results, err := db.BulkWrite(ctx, []document.Document{
			created.Tombstone(),
		}, false)
		assert.NoError(t, err)
		assert.True(t, results[0].Ok())

		_, err = db.Get(ctx, "a1")
		assert.ErrorIs(t, err, client.ErrNotFound)
	})

	t.Run("ids are minted for documents without one test", func(t *testing.T) {
		_, db := dialTestDB(t)

		results, err := db.BulkWrite(ctx, []document.Document{
			document.New("", map[string]interface{}{"n": float64(1)}),
		}, false)
		assert.NoError(t, err)
		assert.True(t, results[0].Ok())
		assert.NotEqual(t, "", results[0].ID)
	})

	t.Run("rejected atomic batch fails the whole call test", func(t *testing.T) {
		_, db := dialTestDB(t)

		results, err := db.BulkWrite(ctx, []document.Document{
			document.New("a1", map[string]interface{}{"n": float64(1)}),
		}, true)
		assert.ErrorIs(t, err, client.ErrValidation)
		assert.Nil(t, results)
	})
}
