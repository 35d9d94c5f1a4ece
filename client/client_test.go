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
	"github.com/sofa-team/sofa/test/helper"
)

// dialTestDB starts an in-process store and returns a database handle on it.
func dialTestDB(t *testing.T, opts ...client.Option) (*helper.Server, *client.Database) {
	t.Helper()

	svr := helper.NewServer(t)
	cli, err := client.Dial(svr.URL(), opts...)
	assert.NoError(t, err)

	db, err := cli.Database("projects")
	assert.NoError(t, err)
	return svr, db
}

// dialUnreachableDB returns a database handle whose every request would fail,
// for asserting that an operation performs no network call.
func dialUnreachableDB(t *testing.T) *client.Database {
	t.Helper()

	cli, err := client.Dial("http://127.0.0.1:1")
	assert.NoError(t, err)

	db, err := cli.Database("projects")
	assert.NoError(t, err)
	return db
}

func TestDial(t *testing.T) {
	t.Run("rejects non-http address test", func(t *testing.T) {
		_, err := client.Dial("ftp://localhost:5984")
		assert.ErrorIs(t, err, client.ErrValidation)
	})

	t.Run("rejects invalid database name test", func(t *testing.T) {
		cli, err := client.Dial("http://localhost:5984")
		assert.NoError(t, err)

		_, err = cli.Database("Projects")
		assert.ErrorIs(t, err, client.ErrValidation)

		_, err = cli.Database("")
		assert.ErrorIs(t, err, client.ErrValidation)

		db, err := cli.Database("projects_2024")
		assert.NoError(t, err)
		assert.Equal(t, "projects_2024", db.Name())
	})
}

func TestDocumentCRUD(t *testing.T) {
	ctx := context.Background()

	t.Run("create read update delete test", func(t *testing.T) {
		_, db := dialTestDB(t)

		doc := document.New("a1", map[string]interface{}{"title": "sofa"})
		created, err := db.Put(ctx, doc)
		assert.NoError(t, err)
		assert.NotEqual(t, "", created.Rev())

		fetched, err := db.Get(ctx, "a1")
		assert.NoError(t, err)
		assert.Equal(t, created.Rev(), fetched.Rev())
		assert.Equal(t, "sofa", fetched.Payload()["title"])

		updated, err := db.Put(ctx, document.New("a1", map[string]interface{}{
			"title": "sofa v2",
		}).WithRev(created.Rev()))
		assert.NoError(t, err)
		assert.NotEqual(t, created.Rev(), updated.Rev())

		assert.NoError(t, db.Delete(ctx, "a1", updated.Rev()))

		_, err = db.Get(ctx, "a1")
		assert.ErrorIs(t, err, client.ErrNotFound)
	})

	t.Run("get missing document test", func(t *testing.T) {
		_, db := dialTestDB(t)

		_, err := db.Get(ctx, "no-such-doc")
		assert.ErrorIs(t, err, client.ErrNotFound)
	})

	t.Run("stale revision is a conflict test", func(t *testing.T) {
		_, db := dialTestDB(t)

		created, err := db.Put(ctx, document.New("a1", map[string]interface{}{"n": float64(1)}))
		assert.NoError(t, err)

		_, err = db.Put(ctx, document.New("a1", map[string]interface{}{
			"n": float64(2),
		}).WithRev(created.Rev()))
		assert.NoError(t, err)

		// Reusing the first revision must fail and must not be retried away.
		_, err = db.Put(ctx, document.New("a1", map[string]interface{}{
			"n": float64(3),
		}).WithRev(created.Rev()))
		assert.ErrorIs(t, err, client.ErrConflict)
		assert.Contains(t, err.Error(), "a1")

		fetched, err := db.Get(ctx, "a1")
		assert.NoError(t, err)
		assert.Equal(t, float64(2), fetched.Payload()["n"])
	})

	t.Run("create over existing document is a conflict test", func(t *testing.T) {
		_, db := dialTestDB(t)

		_, err := db.Put(ctx, document.New("a1", map[string]interface{}{"n": float64(1)}))
		assert.NoError(t, err)

		_, err = db.Put(ctx, document.New("a1", map[string]interface{}{"n": float64(2)}))
		assert.ErrorIs(t, err, client.ErrConflict)
	})

	t.Run("delete requires revision test", func(t *testing.T) {
		_, db := dialTestDB(t)

		err := db.Delete(ctx, "a1", "")
		assert.ErrorIs(t, err, client.ErrValidation)
	})

	t.Run("exists test", func(t *testing.T) {
		_, db := dialTestDB(t)

		ok, err := db.Exists(ctx, "a1")
		assert.NoError(t, err)
		assert.False(t, ok)

		created, err := db.Put(ctx, document.New("a1", map[string]interface{}{"x": true}))
		assert.NoError(t, err)

		ok, err = db.Exists(ctx, "a1")
		assert.NoError(t, err)
		assert.True(t, ok)

		assert.NoError(t, db.Delete(ctx, "a1", created.Rev()))

		ok, err = db.Exists(ctx, "a1")
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalid document id is rejected locally test", func(t *testing.T) {
		db := dialUnreachableDB(t)

		_, err := db.Get(ctx, "")
		assert.ErrorIs(t, err, client.ErrValidation)

		_, err = db.Put(ctx, document.Document{})
		assert.ErrorIs(t, err, client.ErrValidation)

		// The underscore prefix is reserved outside design and local docs.
		_, err = db.Get(ctx, "_users")
		assert.ErrorIs(t, err, client.ErrValidation)
	})

	t.Run("unreachable store is a transport failure test", func(t *testing.T) {
		db := dialUnreachableDB(t)

		_, err := db.Get(ctx, "a1")
		assert.ErrorIs(t, err, client.ErrTransport)
	})
}
