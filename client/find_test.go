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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sofa-team/sofa/client"
	"github.com/sofa-team/sofa/pkg/document"
)

// seedBooks writes n documents matching {"kind": "book"} plus one that does
// not match.
func seedBooks(t *testing.T, db *client.Database, n int) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < n; i++ {
		_, err := db.Put(ctx, document.New(fmt.Sprintf("book-%02d", i), map[string]interface{}{
			"kind": "book",
			"rank": float64(i),
		}))
		assert.NoError(t, err)
	}
	_, err := db.Put(ctx, document.New("not-a-book", map[string]interface{}{
		"kind": "movie",
	}))
	assert.NoError(t, err)
}

func TestFind(t *testing.T) {
	ctx := context.Background()

	t.Run("selector matches and excludes test", func(t *testing.T) {
		_, db := dialTestDB(t)
		seedBooks(t, db, 3)

		result, err := db.Find(ctx, client.FindQuery{
			Selector: map[string]interface{}{"kind": "book"},
		})
		assert.NoError(t, err)
		assert.Len(t, result.Docs, 3)
		for _, doc := range result.Docs {
			assert.Equal(t, "book", doc.Payload()["kind"])
			assert.NotEqual(t, "", doc.Rev())
		}
	})

	t.Run("missing selector is rejected locally test", func(t *testing.T) {
		db := dialUnreachableDB(t)

		_, err := db.Find(ctx, client.FindQuery{})
		assert.ErrorIs(t, err, client.ErrValidation)
	})

	t.Run("bookmark continues where the page ended test", func(t *testing.T) {
		_, db := dialTestDB(t)
		seedBooks(t, db, 5)

		query := client.FindQuery{
			Selector: map[string]interface{}{"kind": "book"},
			Limit:    client.Limit(2),
		}

		var seen []string
		for i := 0; i < 3; i++ {
			result, err := db.Find(ctx, query)
			assert.NoError(t, err)
			for _, doc := range result.Docs {
				seen = append(seen, doc.ID())
			}
			query.Bookmark = result.Bookmark
		}

		assert.Equal(t, []string{
			"book-00", "book-01", "book-02", "book-03", "book-04",
		}, seen)
	})

	t.Run("zero limit returns no matches and the same bookmark test", func(t *testing.T) {
		// The zero-limit call must not reach the wire at all.
		db := dialUnreachableDB(t)

		result, err := db.Find(ctx, client.FindQuery{
			Selector: map[string]interface{}{"kind": "book"},
			Limit:    client.Limit(0),
			Bookmark: "token-from-last-page",
		})
		assert.NoError(t, err)
		assert.Len(t, result.Docs, 0)
		assert.Equal(t, "token-from-last-page", result.Bookmark)
	})

	t.Run("invalid bookmark is a validation error test", func(t *testing.T) {
		_, db := dialTestDB(t)
		seedBooks(t, db, 1)

		_, err := db.Find(ctx, client.FindQuery{
			Selector: map[string]interface{}{"kind": "book"},
			Bookmark: "!!not-a-bookmark!!",
		})
		assert.ErrorIs(t, err, client.ErrValidation)
	})

	t.Run("sort directions test", func(t *testing.T) {
		_, db := dialTestDB(t)
		seedBooks(t, db, 3)

		result, err := db.Find(ctx, client.FindQuery{
			Selector: map[string]interface{}{"kind": "book"},
			Sort:     []map[string]string{{"rank": "desc"}},
		})
		assert.NoError(t, err)
		assert.Len(t, result.Docs, 3)
		assert.Equal(t, "book-02", result.Docs[0].ID())
		assert.Equal(t, "book-00", result.Docs[2].ID())
	})
}

func TestFindBatched(t *testing.T) {
	ctx := context.Background()

	t.Run("streams every page test", func(t *testing.T) {
		_, db := dialTestDB(t)
		seedBooks(t, db, 7)

		ch := make(chan []document.Document)
		done := make(chan struct{})

		var seen []string
		go func() {
			defer close(done)
			for docs := range ch {
				for _, doc := range docs {
					seen = append(seen, doc.ID())
				}
			}
		}()

		sent, err := db.FindBatched(ctx, client.FindQuery{
			Selector: map[string]interface{}{"kind": "book"},
		}, ch, 3, 0)
		<-done

		assert.NoError(t, err)
		assert.Equal(t, uint64(7), sent)
		assert.Len(t, seen, 7)
	})

	t.Run("stops at max results test", func(t *testing.T) {
		_, db := dialTestDB(t)
		seedBooks(t, db, 7)

		ch := make(chan []document.Document)
		done := make(chan struct{})

		var seen int
		go func() {
			defer close(done)
			for docs := range ch {
				seen += len(docs)
			}
		}()

		sent, err := db.FindBatched(ctx, client.FindQuery{
			Selector: map[string]interface{}{"kind": "book"},
		}, ch, 2, 3)
		<-done

		assert.NoError(t, err)
		// Rounded up to whole batches.
		assert.Equal(t, uint64(4), sent)
		assert.Equal(t, 4, seen)
	})

	t.Run("closes the channel on failure test", func(t *testing.T) {
		db := dialUnreachableDB(t)

		ch := make(chan []document.Document, 1)
		sent, err := db.FindBatched(ctx, client.FindQuery{
			Selector: map[string]interface{}{"kind": "book"},
		}, ch, 2, 0)

		assert.ErrorIs(t, err, client.ErrTransport)
		assert.Equal(t, uint64(0), sent)

		_, open := <-ch
		assert.False(t, open)
	})
}
