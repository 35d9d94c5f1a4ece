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

package document_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sofa-team/sofa/pkg/document"
)

func TestDocument(t *testing.T) {
	t.Run("constructor test", func(t *testing.T) {
		doc := document.New("a1", map[string]interface{}{"x": 1})
		assert.Equal(t, "a1", doc.ID())
		assert.Equal(t, "", doc.Rev())
		assert.False(t, doc.Deleted())
	})

	t.Run("minted id test", func(t *testing.T) {
		doc := document.New("", map[string]interface{}{"x": 1})
		assert.NotEqual(t, "", doc.ID())

		other := document.New("", nil)
		assert.NotEqual(t, doc.ID(), other.ID())
	})

	t.Run("with rev returns a new value test", func(t *testing.T) {
		doc := document.New("a1", map[string]interface{}{"x": 1})
		updated := doc.WithRev("1-abc")

		assert.Equal(t, "1-abc", updated.Rev())
		assert.Equal(t, "", doc.Rev())
		assert.Equal(t, doc.ID(), updated.ID())
	})

	t.Run("tombstone test", func(t *testing.T) {
		doc := document.New("a1", nil).WithRev("1-abc")
		tombstone := doc.Tombstone()
		assert.True(t, tombstone.Deleted())
		assert.False(t, doc.Deleted())

		encoded, err := json.Marshal(tombstone)
		assert.NoError(t, err)
		assert.Contains(t, string(encoded), `"_deleted":true`)
	})

	t.Run("payload is copied on construction test", func(t *testing.T) {
		payload := map[string]interface{}{"x": 1}
		doc := document.New("a1", payload)
		payload["x"] = 2
		assert.Equal(t, 1, doc.Payload()["x"])
	})

	t.Run("marshal injects reserved fields test", func(t *testing.T) {
		doc := document.New("a1", map[string]interface{}{"x": float64(1)}).WithRev("1-abc")
		encoded, err := json.Marshal(doc)
		assert.NoError(t, err)

		var envelope map[string]interface{}
		assert.NoError(t, json.Unmarshal(encoded, &envelope))
		assert.Equal(t, "a1", envelope["_id"])
		assert.Equal(t, "1-abc", envelope["_rev"])
		assert.Equal(t, float64(1), envelope["x"])
	})

	t.Run("marshal rejects reserved payload field test", func(t *testing.T) {
		doc := document.New("a1", map[string]interface{}{"_rev": "1-abc"})
		_, err := json.Marshal(doc)
		assert.ErrorIs(t, err, document.ErrReservedField)
	})

	t.Run("unmarshal extracts reserved fields test", func(t *testing.T) {
		var doc document.Document
		err := json.Unmarshal([]byte(`{"_id":"a1","_rev":"2-def","x":1}`), &doc)
		assert.NoError(t, err)
		assert.Equal(t, "a1", doc.ID())
		assert.Equal(t, "2-def", doc.Rev())
		assert.Equal(t, float64(1), doc.Payload()["x"])
		assert.NotContains(t, doc.Payload(), "_id")
		assert.NotContains(t, doc.Payload(), "_rev")
	})

	t.Run("typed payload round trip test", func(t *testing.T) {
		type user struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		}

		doc, err := document.FromValue("john", user{FirstName: "John", LastName: "Doe"})
		assert.NoError(t, err)
		assert.Equal(t, "john", doc.ID())

		var decoded user
		assert.NoError(t, doc.ScanPayload(&decoded))
		assert.Equal(t, "John", decoded.FirstName)
		assert.Equal(t, "Doe", decoded.LastName)
	})
}
