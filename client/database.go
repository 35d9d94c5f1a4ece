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
	"net/url"
	"strings"
	"time"

	"github.com/sofa-team/sofa/internal/metaerrors"
	"github.com/sofa-team/sofa/internal/validation"
	"github.com/sofa-team/sofa/pkg/document"
)

// validateDocID rejects IDs the store would refuse: empty ones and IDs using
// the reserved underscore prefix outside the design and local namespaces.
func validateDocID(id string) error {
	if err := validation.ValidateValue(id, "required,docid"); err != nil {
		return fmt.Errorf("%w: document id %q", ErrValidation, id)
	}
	return nil
}

// Database is a handle for the document operations of one named database.
// It is a cheap value tied to its Client and safe for concurrent use.
type Database struct {
	client *Client
	name   string
}

// Name returns the name of the database.
func (d *Database) Name() string {
	return d.name
}

// Get fetches the document with the given ID, including its current
// revision. It fails with ErrNotFound if the document is absent or deleted.
func (d *Database) Get(ctx context.Context, id string) (document.Document, error) {
	start := time.Now()
	doc, err := d.get(ctx, id)
	d.client.observe("get", start, err)
	return doc, err
}

func (d *Database) get(ctx context.Context, id string) (document.Document, error) {
	if err := validateDocID(id); err != nil {
		return document.Document{}, err
	}

	status, body, err := d.client.send(ctx, http.MethodGet, d.docPath(id), nil, nil)
	if err != nil {
		return document.Document{}, err
	}

	if err := classifyStatus(status, body, map[string]string{"id": id}); err != nil {
		return document.Document{}, err
	}

	var doc document.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return document.Document{}, fmt.Errorf("unmarshal document %s: %w", id, err)
	}

	return doc, nil
}

// Exists checks whether a document with the given ID exists, without
// fetching its body.
func (d *Database) Exists(ctx context.Context, id string) (bool, error) {
	if err := validateDocID(id); err != nil {
		return false, err
	}

	status, body, err := d.client.send(ctx, http.MethodHead, d.docPath(id), nil, nil)
	if err != nil {
		return false, err
	}

	switch status {
	case http.StatusOK, http.StatusNotModified:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, classifyStatus(status, body, map[string]string{"id": id})
	}
}

// Put writes the given document. A document without a revision is created;
// a document with a revision updates that exact state. On success it returns
// a new Document value carrying the revision the write produced. On a
// revision mismatch it fails with ErrConflict and does not retry: whether to
// re-read and reapply the change is the caller's decision.
func (d *Database) Put(ctx context.Context, doc document.Document) (document.Document, error) {
	start := time.Now()
	written, err := d.put(ctx, doc)
	d.client.observe("put", start, err)
	return written, err
}

func (d *Database) put(ctx context.Context, doc document.Document) (document.Document, error) {
	if err := validateDocID(doc.ID()); err != nil {
		return document.Document{}, err
	}

	body, err := prepareWrite(doc)
	if err != nil {
		return document.Document{}, err
	}

	status, respBody, err := d.client.send(ctx, http.MethodPut, d.docPath(doc.ID()), nil, body)
	if err != nil {
		return document.Document{}, err
	}

	rev, err := classifyWrite(status, respBody, doc.ID(), doc.Rev())
	if err != nil {
		return document.Document{}, err
	}

	return doc.WithRev(rev), nil
}

// Delete removes the document with the given ID by writing a tombstone. The
// caller must present its last-known revision; a mismatch fails with
// ErrConflict just like Put.
func (d *Database) Delete(ctx context.Context, id, rev string) error {
	start := time.Now()
	err := d.delete(ctx, id, rev)
	d.client.observe("delete", start, err)
	return err
}

func (d *Database) delete(ctx context.Context, id, rev string) error {
	if err := validateDocID(id); err != nil {
		return err
	}
	if rev == "" {
		return metaerrors.New(
			fmt.Errorf("%w: delete requires the last-known revision", ErrValidation),
			map[string]string{"id": id},
		)
	}

	query := url.Values{}
	query.Set("rev", rev)

	status, body, err := d.client.send(ctx, http.MethodDelete, d.docPath(id), query, nil)
	if err != nil {
		return err
	}

	if _, err := classifyWrite(status, body, id, rev); err != nil {
		return err
	}
	return nil
}

// docPath returns the request path of the document with the given ID.
// Separators inside design and local document IDs stay unescaped.
func (d *Database) docPath(id string) string {
	escaped := url.PathEscape(id)
	escaped = strings.ReplaceAll(escaped, "%2F", "/")
	return d.name + "/" + escaped
}
