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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sofa-team/sofa/pkg/document"
)

// FeedMode selects how the change log is consumed.
type FeedMode string

const (
	// FeedNormal reads the currently known change log once and ends.
	FeedNormal FeedMode = "normal"

	// FeedContinuous holds the connection open and receives changes as the
	// server pushes them, reconnecting on transient failures.
	FeedContinuous FeedMode = "continuous"
)

const (
	// SinceBeginning consumes the change log from its beginning.
	SinceBeginning = "0"

	// SinceNow consumes only changes made after the feed was opened.
	SinceNow = "now"

	defaultHeartbeat = 30 * time.Second
)

// ChangesOption configures ChangesOptions.
type ChangesOption func(*ChangesOptions)

// ChangesOptions configures how a change feed is opened.
type ChangesOptions struct {
	// Filter is the name of a server-side filter limiting the feed.
	Filter string

	// IncludeDocs requests a snapshot of each changed document.
	IncludeDocs bool

	// Heartbeat is the interval of the keep-alive newlines the server sends
	// on an idle continuous feed.
	Heartbeat time.Duration

	// Params are extra query parameters, e.g. the arguments of a filter.
	Params url.Values
}

// WithFilter configures the server-side filter of the feed.
func WithFilter(filter string) ChangesOption {
	return func(o *ChangesOptions) { o.Filter = filter }
}

// WithIncludeDocs requests document snapshots with each change.
func WithIncludeDocs() ChangesOption {
	return func(o *ChangesOptions) { o.IncludeDocs = true }
}

// WithHeartbeat configures the keep-alive interval of a continuous feed.
func WithHeartbeat(heartbeat time.Duration) ChangesOption {
	return func(o *ChangesOptions) { o.Heartbeat = heartbeat }
}

// WithParam adds an extra query parameter to the feed request.
func WithParam(key, value string) ChangesOption {
	return func(o *ChangesOptions) {
		if o.Params == nil {
			o.Params = url.Values{}
		}
		o.Params.Set(key, value)
	}
}

// ChangeRecord is one entry of the change log.
type ChangeRecord struct {
	// Seq is the opaque sequence token of this change. Replaying a feed with
	// it resumes exactly after this change.
	Seq string

	// ID is the identifier of the changed document.
	ID string

	// Revs are the revision tokens the change introduced.
	Revs []string

	// Deleted reports whether the change is a tombstone.
	Deleted bool

	// Doc is a snapshot of the document, present when requested.
	Doc *document.Document
}

// seqToken tolerates both string and numeric sequence representations on the
// wire while staying opaque to callers.
type seqToken string

func (s *seqToken) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("unmarshal sequence token: %w", err)
		}
		*s = seqToken(str)
		return nil
	}
	*s = seqToken(bytes.TrimSpace(data))
	return nil
}

// changeItem is the wire shape of one change record. In continuous mode the
// server terminates a graceful stream with a bare {"last_seq": ...} line.
type changeItem struct {
	Seq     seqToken `json:"seq"`
	ID      string   `json:"id"`
	Changes []struct {
		Rev string `json:"rev"`
	} `json:"changes"`
	Deleted bool            `json:"deleted"`
	Doc     json.RawMessage `json:"doc,omitempty"`
	LastSeq *seqToken       `json:"last_seq,omitempty"`
}

func (i changeItem) toRecord() (ChangeRecord, error) {
	record := ChangeRecord{
		Seq:     string(i.Seq),
		ID:      i.ID,
		Deleted: i.Deleted,
	}
	for _, change := range i.Changes {
		record.Revs = append(record.Revs, change.Rev)
	}
	if len(i.Doc) > 0 {
		var doc document.Document
		if err := json.Unmarshal(i.Doc, &doc); err != nil {
			return ChangeRecord{}, fmt.Errorf("unmarshal change snapshot: %w", err)
		}
		record.Doc = &doc
	}
	return record, nil
}

// changesEnvelope is the wire shape of a one-shot feed response.
type changesEnvelope struct {
	Results []changeItem `json:"results"`
	LastSeq seqToken     `json:"last_seq"`
}

// Feed consumes the change log of one database incrementally. Delivery is
// at-least-once: after a crash-and-resume the same change may be observed
// again if the caller had not persisted its checkpoint yet, so consumers
// must be idempotent with respect to (document ID, revision).
type Feed struct {
	db      *Database
	mode    FeedMode
	options ChangesOptions

	ctx    context.Context
	cancel context.CancelFunc

	records chan ChangeRecord
	// err is set by the reader goroutine before records is closed.
	err       error
	closeOnce sync.Once

	mu       sync.Mutex
	lastSeq  string
	finalSeq string
}

// Changes opens a feed over the database's change log, resuming just after
// the given sequence token. Use SinceBeginning or SinceNow for the two
// well-known starting points.
//
// In FeedNormal mode the feed ends with ErrFeedDone once the currently known
// log is drained. In FeedContinuous mode it follows the log until the feed
// is closed or fails fatally; transient failures are retried internally with
// exponential backoff up to the client's retry budget.
func (d *Database) Changes(
	ctx context.Context,
	since string,
	mode FeedMode,
	opts ...ChangesOption,
) (*Feed, error) {
	if mode != FeedNormal && mode != FeedContinuous {
		return nil, fmt.Errorf("%w: feed mode %q", ErrValidation, mode)
	}
	if since == "" {
		since = SinceBeginning
	}

	var options ChangesOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.Heartbeat == 0 {
		options.Heartbeat = defaultHeartbeat
	}

	feedCtx, cancel := context.WithCancel(ctx)
	feed := &Feed{
		db:      d,
		mode:    mode,
		options: options,
		ctx:     feedCtx,
		cancel:  cancel,
		records: make(chan ChangeRecord, 16),
		lastSeq: since,
	}

	if mode == FeedNormal {
		go feed.runNormal(since)
	} else {
		go feed.runContinuous(since)
	}

	return feed, nil
}

// Next returns the next change record. It suspends until a record arrives,
// the feed ends, or the given context is canceled. After the feed ended it
// keeps returning the same terminal error: ErrFeedDone when a one-shot feed
// is exhausted, ErrFeedClosed after Close, or ErrFeedFailed on a fatal feed
// failure.
func (f *Feed) Next(ctx context.Context) (ChangeRecord, error) {
	select {
	case <-ctx.Done():
		return ChangeRecord{}, ctx.Err()
	case record, ok := <-f.records:
		if !ok {
			if f.err != nil {
				return ChangeRecord{}, f.err
			}

			// The one-shot feed is exhausted; the envelope's last_seq moves
			// the checkpoint past any filtered-out tail of the log.
			f.mu.Lock()
			if f.finalSeq != "" {
				f.lastSeq = f.finalSeq
			}
			f.mu.Unlock()
			return ChangeRecord{}, ErrFeedDone
		}

		f.mu.Lock()
		f.lastSeq = record.Seq
		f.mu.Unlock()
		return record, nil
	}
}

// LastSeq returns the sequence token of the last record delivered by Next,
// or the feed's starting token if nothing was delivered yet. Persist it and
// pass it as "since" on restart to resume just after that point. Closing or
// canceling the feed never invalidates an already-returned token.
func (f *Feed) LastSeq() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSeq
}

// Close closes the feed, promptly unblocking any suspended Next call. It is
// safe to call multiple times.
func (f *Feed) Close() error {
	f.closeOnce.Do(f.cancel)
	return nil
}

// runNormal performs the single request of a one-shot feed.
func (f *Feed) runNormal(since string) {
	defer close(f.records)

	status, body, err := f.db.client.send(
		f.ctx, http.MethodGet, f.db.name+"/_changes", f.query(since), nil,
	)
	if err != nil {
		f.err = f.terminalErr(err)
		return
	}
	if err := classifyStatus(status, body, nil); err != nil {
		f.err = err
		return
	}

	var envelope changesEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		f.err = fmt.Errorf("%w: unmarshal changes: %v", ErrFeedFailed, err)
		return
	}

	for _, item := range envelope.Results {
		record, err := item.toRecord()
		if err != nil {
			f.err = fmt.Errorf("%w: %v", ErrFeedFailed, err)
			return
		}
		if !f.deliver(record) {
			f.err = ErrFeedClosed
			return
		}
	}

	f.mu.Lock()
	f.finalSeq = string(envelope.LastSeq)
	f.mu.Unlock()
}

// runContinuous follows the live feed, reconnecting on stream ends and on
// transient failures. Reconnects resume from the last parsed sequence, which
// is never earlier than the delivered checkpoint. Only genuine failures
// consume the retry budget and back off; a graceful server-side end resets
// it and reconnects right away.
func (f *Feed) runContinuous(since string) {
	defer close(f.records)

	readSeq := since
	var attempts uint64

	for {
		ended, err := f.streamOnce(&readSeq, &attempts)
		if err != nil {
			f.err = err
			return
		}
		if ended {
			attempts = 0
			continue
		}

		if attempts >= f.db.client.maxFeedRetries {
			f.err = fmt.Errorf("%w: retries exhausted after %d attempts", ErrFeedFailed, attempts)
			return
		}
		if err := f.waitBeforeRetry(attempts); err != nil {
			f.err = err
			return
		}
		attempts++

		if f.db.client.metrics != nil {
			f.db.client.metrics.AddFeedRetry()
		}
	}
}

// streamOnce opens the feed connection once and pumps records until the
// stream ends. It reports whether the server ended the stream gracefully
// with a last_seq line; a false return with a nil error is a transient
// failure the caller must back off from, and a non-nil error is terminal
// for the feed.
func (f *Feed) streamOnce(readSeq *string, attempts *uint64) (bool, error) {
	resp, err := f.db.client.do(
		f.ctx, http.MethodGet, f.db.name+"/_changes", f.query(*readSeq), nil,
	)
	if err != nil {
		if f.ctx.Err() != nil {
			return false, ErrFeedClosed
		}
		f.db.client.logger.Warnf("changes feed on %s: %v", f.db.name, err)
		return false, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		f.db.client.logger.Warnf("changes feed on %s: status %d", f.db.name, resp.StatusCode)
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, classifyStatus(resp.StatusCode, body, nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxChangeLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			// Heartbeat keeping the connection alive.
			continue
		}

		var item changeItem
		if err := json.Unmarshal(line, &item); err != nil {
			// A malformed record is fatal for this feed instance; there is
			// no partial record recovery.
			return false, fmt.Errorf("%w: malformed change record: %v", ErrFeedFailed, err)
		}

		if item.LastSeq != nil {
			// The server ended the stream gracefully; reconnect after it
			// without consuming the retry budget.
			*readSeq = string(*item.LastSeq)
			return true, nil
		}

		record, err := item.toRecord()
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrFeedFailed, err)
		}
		if !f.deliver(record) {
			return false, ErrFeedClosed
		}
		*readSeq = string(item.Seq)
		*attempts = 0
	}

	if f.ctx.Err() != nil {
		return false, ErrFeedClosed
	}

	// EOF without a last_seq line is a dropped connection, not a graceful
	// end; it cannot be told apart from a mid-stream failure.
	if err := scanner.Err(); err != nil {
		f.db.client.logger.Warnf("changes feed on %s: %v", f.db.name, err)
	}
	return false, nil
}

// deliver hands a record to Next, or reports false when the feed was closed.
func (f *Feed) deliver(record ChangeRecord) bool {
	select {
	case f.records <- record:
		return true
	case <-f.ctx.Done():
		return false
	}
}

// terminalErr maps a request error to the feed's terminal error.
func (f *Feed) terminalErr(err error) error {
	if f.ctx.Err() != nil {
		return ErrFeedClosed
	}
	return err
}

// waitBeforeRetry sleeps for the backoff interval of the given attempt,
// (2^attempts * base) capped at the configured maximum.
func (f *Feed) waitBeforeRetry(attempts uint64) error {
	interval := time.Duration(math.Pow(2, float64(attempts))) * f.db.client.feedRetryBaseInterval
	if f.db.client.feedRetryMaxInterval < interval {
		interval = f.db.client.feedRetryMaxInterval
	}

	select {
	case <-f.ctx.Done():
		return ErrFeedClosed
	case <-time.After(interval):
		return nil
	}
}

func (f *Feed) query(since string) url.Values {
	query := url.Values{}
	for key, values := range f.options.Params {
		for _, value := range values {
			query.Add(key, value)
		}
	}

	query.Set("feed", string(f.mode))
	query.Set("since", since)
	if f.options.Filter != "" {
		query.Set("filter", f.options.Filter)
	}
	if f.options.IncludeDocs {
		query.Set("include_docs", "true")
	}
	if f.mode == FeedContinuous {
		query.Set("heartbeat", strconv.FormatInt(f.options.Heartbeat.Milliseconds(), 10))
	}

	return query
}

// maxChangeLineBytes bounds a single change-record line; records carrying
// document snapshots can be large.
const maxChangeLineBytes = 16 * 1024 * 1024
