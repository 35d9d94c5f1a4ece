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

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sofa-team/sofa/pkg/document"
)

// BulkResult is the outcome of one slot of a BulkWrite call. Err is nil when
// the slot succeeded and Rev carries the new revision; otherwise Err carries
// the same typed error a single-document write would have produced and Rev
// must not be read.
type BulkResult struct {
	// ID is the identifier of the input document at this slot.
	ID string

	// Rev is the revision the write produced. Only valid when Err is nil.
	Rev string

	// Err is the typed per-slot error, or nil on success.
	Err error
}

// Ok returns whether this slot succeeded.
func (r BulkResult) Ok() bool {
	return r.Err == nil
}

// bulkItem is one element of the bulk response array: {id, rev} on success
// or {id, error, reason} on failure.
type bulkItem struct {
	ID     string `json:"id"`
	Rev    string `json:"rev"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// BulkWrite submits the given documents as one request and reconciles the
// per-item response array back onto them. The returned slice has the same
// length and order as the input: results correspond to inputs by index, not
// by ID, because duplicate IDs within one batch are permitted.
//
// A 2xx status on the envelope does not imply every item succeeded: slots
// fail independently, so callers must inspect every slot. A document whose
// revision is stale fails its slot with ErrConflict while sibling slots may
// still succeed. Partial failure never escalates to a whole-call failure.
//
// If allOrNothing is requested and the store rejects it, the whole call
// fails with a single batch-level error; per-item outcomes that were never
// observed are not fabricated.
func (d *Database) BulkWrite(
	ctx context.Context,
	docs []document.Document,
	allOrNothing bool,
) ([]BulkResult, error) {
	start := time.Now()
	results, err := d.bulkWrite(ctx, docs, allOrNothing)
	d.client.observe("bulk_write", start, err)
	return results, err
}

func (d *Database) bulkWrite(
	ctx context.Context,
	docs []document.Document,
	allOrNothing bool,
) ([]BulkResult, error) {
	// An empty batch is a valid no-op and costs no network call.
	if len(docs) == 0 {
		return []BulkResult{}, nil
	}

	request := map[string]interface{}{"docs": docs}
	if allOrNothing {
		request["all_or_nothing"] = true
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if d.client.metrics != nil {
		d.client.metrics.ObserveBulkSize(len(docs))
	}

	status, respBody, err := d.client.send(ctx, http.MethodPost, d.name+"/_bulk_docs", nil, body)
	if err != nil {
		return nil, err
	}

	if err := classifyStatus(status, respBody, nil); err != nil {
		return nil, err
	}

	var items []bulkItem
	if err := json.Unmarshal(respBody, &items); err != nil {
		return nil, fmt.Errorf("unmarshal bulk response: %w", err)
	}
	if len(items) != len(docs) {
		return nil, fmt.Errorf(
			"%w: bulk response has %d items for %d documents",
			ErrUnexpectedStatus, len(items), len(docs),
		)
	}

	// Walk the response positionally and attach the input document's
	// identity to each result; failed elements may omit it.
	results := make([]BulkResult, len(items))
	for i, item := range items {
		doc := docs[i]
		id := doc.ID()
		if id == "" {
			id = item.ID
		}

		results[i] = BulkResult{
			ID:  id,
			Rev: item.Rev,
			Err: classifyItem(item.Error, item.Reason, id, doc.Rev()),
		}
	}

	return results, nil
}
