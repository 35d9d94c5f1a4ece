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

package checkpoint_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/undefinedlabs/go-mpatch"

	"github.com/sofa-team/sofa/pkg/checkpoint"
)

func openStore(t *testing.T) *checkpoint.Store {
	t.Helper()

	store, err := checkpoint.Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	assert.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func TestStore(t *testing.T) {
	t.Run("save and load test", func(t *testing.T) {
		store := openStore(t)

		_, ok, err := store.Load("orders")
		assert.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, store.Save("orders", "42-seq"))

		loaded, ok, err := store.Load("orders")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "42-seq", loaded.Seq)
	})

	t.Run("save overwrites previous token test", func(t *testing.T) {
		store := openStore(t)

		assert.NoError(t, store.Save("orders", "1-a"))
		assert.NoError(t, store.Save("orders", "2-b"))

		loaded, ok, err := store.Load("orders")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "2-b", loaded.Seq)
	})

	t.Run("keys are independent test", func(t *testing.T) {
		store := openStore(t)

		assert.NoError(t, store.Save("orders", "1-a"))
		assert.NoError(t, store.Save("users", "7-z"))
		assert.NoError(t, store.Delete("orders"))

		_, ok, err := store.Load("orders")
		assert.NoError(t, err)
		assert.False(t, ok)

		loaded, ok, err := store.Load("users")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "7-z", loaded.Seq)
	})

	t.Run("updated at is recorded test", func(t *testing.T) {
		store := openStore(t)

		fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		patch, err := mpatch.PatchMethod(time.Now, func() time.Time {
			return fixed
		})
		assert.NoError(t, err)
		defer func() {
			assert.NoError(t, patch.Unpatch())
		}()

		assert.NoError(t, store.Save("orders", "1-a"))

		loaded, ok, err := store.Load("orders")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, loaded.UpdatedAt.Equal(fixed))
	})
}
