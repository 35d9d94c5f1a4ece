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

package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sofa-team/sofa/internal/validation"
)

func TestValidation(t *testing.T) {
	t.Run("dbname rule test", func(t *testing.T) {
		assert.NoError(t, validation.ValidateValue("mydb", "dbname"))
		assert.NoError(t, validation.ValidateValue("my_db-2(a)+b$", "dbname"))
		assert.Error(t, validation.ValidateValue("MyDB", "dbname"))
		assert.Error(t, validation.ValidateValue("2db", "dbname"))
		assert.Error(t, validation.ValidateValue("", "dbname"))
	})

	t.Run("docid rule test", func(t *testing.T) {
		assert.NoError(t, validation.ValidateValue("a1", "docid"))
		assert.NoError(t, validation.ValidateValue("_design/clip", "docid"))
		assert.NoError(t, validation.ValidateValue("_local/seq", "docid"))
		assert.Error(t, validation.ValidateValue("_a1", "docid"))
		assert.Error(t, validation.ValidateValue("", "docid"))
	})

	t.Run("struct validation test", func(t *testing.T) {
		type form struct {
			Name string `validate:"required,dbname"`
		}
		assert.NoError(t, validation.ValidateStruct(form{Name: "mydb"}))

		err := validation.ValidateStruct(form{Name: "MyDB"})
		assert.Error(t, err)
		structErr, ok := err.(*validation.StructError)
		assert.True(t, ok)
		assert.Len(t, structErr.Violations, 1)
		assert.Equal(t, "dbname", structErr.Violations[0].Tag)
	})
}
