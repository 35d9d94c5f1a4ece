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

// Package metaerrors provides a way to attach metadata to errors. It is used
// to carry the document ID and revision that caused an error so that callers
// can decide between re-read-and-retry and abandoning the write.
package metaerrors

import (
	"sort"
	"strings"
)

// MetaError is an error that carries metadata. The underlying error remains
// reachable through Unwrap, so errors.Is against sentinel errors keeps
// working on wrapped values.
type MetaError struct {
	// Err is the underlying error.
	Err error

	// Metadata is a map of additional information attached to the error.
	Metadata map[string]string
}

// New returns a new MetaError with the given error and metadata.
func New(err error, metadata map[string]string) *MetaError {
	return &MetaError{
		Err:      err,
		Metadata: metadata,
	}
}

// Error returns the error message with the metadata appended in
// deterministic key order.
func (e *MetaError) Error() string {
	if len(e.Metadata) == 0 {
		return e.Err.Error()
	}

	keys := make([]string, 0, len(e.Metadata))
	for key := range e.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	sb := strings.Builder{}
	for _, key := range keys {
		if sb.Len() > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(key)
		sb.WriteString("=")
		sb.WriteString(e.Metadata[key])
	}

	return e.Err.Error() + " [" + sb.String() + "]"
}

// Unwrap returns the underlying error.
func (e *MetaError) Unwrap() error {
	return e.Err
}

// Value returns the metadata value for the given key, or the empty string
// when the key is absent. Reach the MetaError in a wrapped chain with
// errors.As first.
func (e *MetaError) Value(key string) string {
	return e.Metadata[key]
}
