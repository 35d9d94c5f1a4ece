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

import "errors"

var (
	// ErrNotFound is returned when the document with the given ID does not
	// exist, or when updating or deleting a missing document.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned when a write presents a revision token that
	// does not match the server's current revision for the document. The
	// error carries the document ID and the attempted revision as metadata
	// so the caller can decide between re-read-and-retry and abandoning the
	// write. Conflicts are never retried by this library.
	ErrConflict = errors.New("document update conflict")

	// ErrValidation is returned when the server rejects a malformed request,
	// selector or bookmark, or when a value fails client-side validation.
	// Requests failing validation are never retried.
	ErrValidation = errors.New("invalid request")

	// ErrServerFailure is returned when the server answers with a 5xx
	// status. It is retried only inside the change feed's internal backoff.
	ErrServerFailure = errors.New("server failure")

	// ErrUnexpectedStatus is returned when the server answers with a status
	// code outside the protocol's documented set.
	ErrUnexpectedStatus = errors.New("unexpected status code")

	// ErrTransport is returned on connectivity problems such as connection,
	// DNS or TLS failures. It is surfaced immediately and not retried,
	// except inside the change feed's internal backoff.
	ErrTransport = errors.New("transport failure")

	// ErrFeedDone is returned by Feed.Next when a one-shot feed reached the
	// end of the currently known change log.
	ErrFeedDone = errors.New("end of change feed")

	// ErrFeedClosed is returned by Feed.Next after the feed was closed or
	// its context was canceled. The last delivered checkpoint stays valid
	// for resumption.
	ErrFeedClosed = errors.New("change feed closed")

	// ErrFeedFailed is returned by Feed.Next when a feed instance failed
	// fatally: a malformed change record, or transient failures that
	// exhausted the internal retry budget.
	ErrFeedFailed = errors.New("change feed failed")
)
