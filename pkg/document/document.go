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

// Package document provides the document envelope passed between callers and
// the store. A Document is an immutable value: operations that change its
// revision return a new value instead of mutating a shared instance, so a
// Document can be reused by concurrent callers without locking.
package document

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/xid"
)

const (
	fieldID      = "_id"
	fieldRev     = "_rev"
	fieldDeleted = "_deleted"
)

// ErrReservedField is returned when a payload uses one of the wire
// protocol's reserved field names.
var ErrReservedField = errors.New("payload uses a reserved field name")

// Document is an envelope carrying an identifier, a revision token and an
// arbitrary structured payload. The identifier and revision map to the wire
// protocol's reserved `_id` and `_rev` fields at the JSON boundary; they are
// never exposed as ordinary payload fields.
//
// A revision token is opaque and server-minted. A present revision means the
// document has been persisted at least once; an absent revision means the
// document is being created.
type Document struct {
	id      string
	rev     string
	deleted bool
	payload map[string]interface{}
}

// New creates a Document from the given payload. If id is empty, a new
// globally unique identifier is minted so the caller can address the
// document before it is persisted. The payload is copied shallowly.
func New(id string, payload map[string]interface{}) Document {
	if id == "" {
		id = xid.New().String()
	}

	copied := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		copied[key] = value
	}

	return Document{
		id:      id,
		payload: copied,
	}
}

// FromValue creates a Document from a caller-defined type by passing it
// through JSON. The core never inspects payload contents itself; typed
// payloads are converted at this edge.
func FromValue(id string, value interface{}) (Document, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return Document{}, fmt.Errorf("marshal payload: %w", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(encoded, &payload); err != nil {
		return Document{}, fmt.Errorf("unmarshal payload: %w", err)
	}

	return New(id, payload), nil
}

// ID returns the identifier of this document.
func (d Document) ID() string {
	return d.id
}

// Rev returns the revision token of this document. It is empty when the
// document has not been persisted yet.
func (d Document) Rev() string {
	return d.rev
}

// Deleted returns whether this document is a tombstone.
func (d Document) Deleted() bool {
	return d.deleted
}

// Payload returns the structured payload of this document. The returned map
// must be treated as read-only; build a new Document to change it.
func (d Document) Payload() map[string]interface{} {
	return d.payload
}

// WithRev returns a copy of this document carrying the given revision token.
func (d Document) WithRev(rev string) Document {
	d.rev = rev
	return d
}

// Tombstone returns a copy of this document marked as deleted. Submitting it
// in a bulk write removes the document while keeping its id/revision lineage
// for conflict detection.
func (d Document) Tombstone() Document {
	d.deleted = true
	return d
}

// ScanPayload unmarshals the payload into the given caller-defined value.
func (d Document) ScanPayload(value interface{}) error {
	encoded, err := json.Marshal(d.payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(encoded, value); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	return nil
}

// MarshalJSON encodes this document as a wire envelope, injecting the
// reserved fields next to the payload fields.
func (d Document) MarshalJSON() ([]byte, error) {
	envelope := make(map[string]interface{}, len(d.payload)+3)
	for key, value := range d.payload {
		switch key {
		case fieldID, fieldRev, fieldDeleted:
			return nil, fmt.Errorf("%q: %w", key, ErrReservedField)
		}
		envelope[key] = value
	}

	if d.id != "" {
		envelope[fieldID] = d.id
	}
	if d.rev != "" {
		envelope[fieldRev] = d.rev
	}
	if d.deleted {
		envelope[fieldDeleted] = true
	}

	encoded, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return encoded, nil
}

// UnmarshalJSON decodes a wire envelope, extracting the reserved fields from
// the payload.
func (d *Document) UnmarshalJSON(data []byte) error {
	var envelope map[string]interface{}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}

	doc := Document{payload: envelope}
	if id, ok := envelope[fieldID].(string); ok {
		doc.id = id
		delete(envelope, fieldID)
	}
	if rev, ok := envelope[fieldRev].(string); ok {
		doc.rev = rev
		delete(envelope, fieldRev)
	}
	if deleted, ok := envelope[fieldDeleted].(bool); ok {
		doc.deleted = deleted
		delete(envelope, fieldDeleted)
	}

	*d = doc
	return nil
}
