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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sofa-team/sofa/internal/metaerrors"
	"github.com/sofa-team/sofa/pkg/document"
)

// writeResult is the body the store answers a write with: either
// {ok, id, rev} or {error, reason}.
type writeResult struct {
	OK     bool   `json:"ok"`
	ID     string `json:"id"`
	Rev    string `json:"rev"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// prepareWrite serializes the document as a wire envelope. A document with
// an absent revision omits `_rev` (create semantics); a present revision is
// included (update semantics), letting the server detect lost updates.
func prepareWrite(doc document.Document) ([]byte, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return body, nil
}

// classifyWrite maps the status and body of a single-document write response
// to the new revision token or a typed error. Conflicts carry the document
// ID and the attempted revision as metadata; they are never retried here
// because a blind retry would silently discard the caller's intended update
// semantics.
func classifyWrite(status int, body []byte, id, rev string) (string, error) {
	if status >= 200 && status < 300 {
		var result writeResult
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("unmarshal write result: %w", err)
		}
		if result.Rev == "" {
			return "", fmt.Errorf("%w: write result without revision", ErrUnexpectedStatus)
		}
		return result.Rev, nil
	}

	return "", classifyStatus(status, body, writeMetadata(id, rev))
}

// classifyStatus maps a response status to nil on 2xx or to a typed error
// otherwise.
func classifyStatus(status int, body []byte, metadata map[string]string) error {
	reason := parseReason(body)

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return withMetadata(ErrNotFound, metadata)
	case status == http.StatusConflict:
		return withMetadata(ErrConflict, metadata)
	case status == http.StatusBadRequest ||
		status == http.StatusUnprocessableEntity ||
		status == http.StatusExpectationFailed:
		return withMetadata(fmt.Errorf("%w: %s", ErrValidation, reason), metadata)
	case status >= 500:
		return withMetadata(fmt.Errorf("%w: status %d: %s", ErrServerFailure, status, reason), metadata)
	default:
		return withMetadata(fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, status, reason), metadata)
	}
}

// classifyItem maps one element of a bulk response to a typed error, using
// the same classification as single-document writes. A nil return tags the
// slot as succeeded.
func classifyItem(name, reason, id, rev string) error {
	metadata := writeMetadata(id, rev)

	switch name {
	case "":
		return nil
	case "conflict":
		return withMetadata(ErrConflict, metadata)
	case "not_found", "missing", "deleted":
		return withMetadata(ErrNotFound, metadata)
	case "forbidden", "bad_request", "invalid":
		return withMetadata(fmt.Errorf("%w: %s", ErrValidation, reason), metadata)
	default:
		return withMetadata(fmt.Errorf("%w: %s: %s", ErrServerFailure, name, reason), metadata)
	}
}

func writeMetadata(id, rev string) map[string]string {
	metadata := map[string]string{"id": id}
	if rev != "" {
		metadata["rev"] = rev
	}
	return metadata
}

func withMetadata(err error, metadata map[string]string) error {
	if len(metadata) == 0 {
		return err
	}
	return metaerrors.New(err, metadata)
}

// parseReason extracts the human-readable reason from an error body. The
// body may not be JSON at all, e.g. when a proxy answered.
func parseReason(body []byte) string {
	var result writeResult
	if err := json.Unmarshal(body, &result); err != nil || result.Error == "" {
		return string(body)
	}
	if result.Reason == "" {
		return result.Error
	}
	return result.Error + ": " + result.Reason
}

// errorKind names the kind of the given error for metric labels.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrServerFailure):
		return "server"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "other"
	}
}
