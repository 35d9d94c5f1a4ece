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

	"github.com/sofa-team/sofa/internal/validation"
	"github.com/sofa-team/sofa/pkg/document"
)

const defaultFindBatchSize = 1000

// FindQuery is a declarative selector query against the database's indexes.
// The bookmark is an opaque continuation token owned by the executor between
// calls; it must be round-tripped verbatim.
type FindQuery struct {
	// Selector declares the match conditions.
	Selector map[string]interface{} `json:"selector" validate:"required"`

	// Sort lists fields and directions, e.g. {"year": "asc"}.
	Sort []map[string]string `json:"sort,omitempty"`

	// Limit bounds the number of returned documents. A nil limit uses the
	// server default. An explicit zero is valid and returns zero matches
	// without forward progress.
	Limit *int64 `json:"limit,omitempty"`

	// Bookmark resumes the query where a previous call left off.
	Bookmark string `json:"bookmark,omitempty"`
}

// Limit returns a pointer to the given limit, for use in FindQuery.
func Limit(limit int64) *int64 {
	return &limit
}

// FindResult is one page of matching documents. A query is restartable only
// via the returned bookmark, not freely rewindable: repeating a call with a
// stale bookmark is rejected by the store with ErrValidation.
type FindResult struct {
	// Docs are the matching documents, in query order.
	Docs []document.Document

	// Bookmark continues the query just after the last returned document.
	Bookmark string
}

// findResponse is the wire shape of a find response.
type findResponse struct {
	Docs     []document.Document `json:"docs"`
	Bookmark string              `json:"bookmark"`
	Warning  string              `json:"warning"`
}

// Find executes the given query and returns one page of matches plus the
// bookmark to continue from. Each call consumes the query's bookmark and
// produces a fresh one.
func (d *Database) Find(ctx context.Context, query FindQuery) (*FindResult, error) {
	start := time.Now()
	result, err := d.find(ctx, query)
	d.client.observe("find", start, err)
	return result, err
}

func (d *Database) find(ctx context.Context, query FindQuery) (*FindResult, error) {
	if err := validation.ValidateStruct(query); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	// A zero limit is a valid request: zero matches and no forward progress.
	// It must not be confused with "no limit", so it never reaches the wire.
	if query.Limit != nil && *query.Limit == 0 {
		return &FindResult{
			Docs:     []document.Document{},
			Bookmark: query.Bookmark,
		}, nil
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	status, respBody, err := d.client.send(ctx, http.MethodPost, d.name+"/_find", nil, body)
	if err != nil {
		return nil, err
	}

	if err := classifyStatus(status, respBody, nil); err != nil {
		return nil, err
	}

	var response findResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("unmarshal find response: %w", err)
	}
	if response.Warning != "" {
		d.client.logger.Warnf("find on %s: %s", d.name, response.Warning)
	}

	// The store answers "nil" when it has no continuation to offer.
	bookmark := response.Bookmark
	if bookmark == "nil" {
		bookmark = ""
	}

	docs := response.Docs
	if docs == nil {
		docs = []document.Document{}
	}

	return &FindResult{
		Docs:     docs,
		Bookmark: bookmark,
	}, nil
}

// FindBatched executes the query repeatedly, following bookmarks, and sends
// each page of documents to the given channel. Use it to stream very large
// result sets. A batchSize of zero uses the default of 1000. A maxResults of
// zero streams all matches; otherwise streaming stops once at least
// maxResults documents were sent, rounded up to the batch size. The channel
// is closed when streaming ends. It returns the number of documents sent.
func (d *Database) FindBatched(
	ctx context.Context,
	query FindQuery,
	ch chan<- []document.Document,
	batchSize uint64,
	maxResults uint64,
) (uint64, error) {
	defer close(ch)

	limit := int64(batchSize)
	if limit <= 0 {
		limit = defaultFindBatchSize
	}
	query.Limit = &limit

	var sent uint64
	for {
		result, err := d.Find(ctx, query)
		if err != nil {
			return sent, err
		}
		if len(result.Docs) == 0 {
			return sent, nil
		}

		select {
		case ch <- result.Docs:
		case <-ctx.Done():
			return sent, ctx.Err()
		}
		sent += uint64(len(result.Docs))

		if result.Bookmark == "" || result.Bookmark == query.Bookmark {
			return sent, nil
		}
		query.Bookmark = result.Bookmark

		if maxResults > 0 && sent >= maxResults {
			return sent, nil
		}
	}
}
