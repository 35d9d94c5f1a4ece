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

package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sofa-team/sofa/pkg/metrics"
)

func TestMetrics(t *testing.T) {
	t.Run("operations are counted by method and result test", func(t *testing.T) {
		met, err := metrics.NewMetrics()
		assert.NoError(t, err)

		met.ObserveOperation("put", "ok", 0.01)
		met.ObserveOperation("put", "conflict", 0.02)
		met.AddFeedRetry()
		met.ObserveBulkSize(3)

		families, err := met.Registry().Gather()
		assert.NoError(t, err)

		found := map[string]bool{}
		for _, family := range families {
			found[family.GetName()] = true
		}
		assert.True(t, found["sofa_client_operations_total"])
		assert.True(t, found["sofa_client_operation_duration_seconds"])
		assert.True(t, found["sofa_client_feed_retries_total"])
		assert.True(t, found["sofa_client_bulk_docs_per_request"])
	})
}
