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

// Package helper provides an in-process document store speaking the CouchDB
// HTTP protocol, for testing the client without a real deployment. Documents
// live in an in-memory database; the change log is derived from a global
// sequence counter.
package helper

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/rs/xid"
)

const (
	tblDocuments = "documents"

	defaultFindLimit = 25
)

// docRecord is the stored form of one document. Inserting a new revision
// replaces the previous record, so the change log naturally de-duplicates to
// the latest change per document.
type docRecord struct {
	ID      string
	Rev     string
	Deleted bool
	Seq     uint64
	Payload map[string]interface{}
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblDocuments: {
			Name: tblDocuments,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"seq": {
					Name:    "seq",
					Unique:  true,
					Indexer: &memdb.UintFieldIndex{Field: "Seq"},
				},
			},
		},
	},
}

// Server is an in-process CouchDB-compatible test double.
type Server struct {
	httpServer *httptest.Server
	db         *memdb.MemDB

	mu             sync.Mutex
	seq            uint64
	failChanges    int
	endChanges     int
	corruptChanges int
}

// NewServer starts a new test server. It is shut down automatically when the
// test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		t.Fatalf("new memdb: %v", err)
	}

	server := &Server{db: db}
	server.httpServer = httptest.NewServer(http.HandlerFunc(server.handle))
	t.Cleanup(server.httpServer.Close)

	return server
}

// URL returns the address of the server.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// Seq returns the current update sequence of the store.
func (s *Server) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// FailChanges makes the next n change feed requests answer with status 500,
// to exercise the client's retry behavior.
func (s *Server) FailChanges(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failChanges = n
}

// EndChanges makes the next n continuous change feed requests end gracefully
// with a last_seq line after the known backlog, the way a server bounded by
// a timeout closes healthy feeds.
func (s *Server) EndChanges(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endChanges = n
}

// CorruptChanges makes the next n continuous change feed requests emit a
// line that is not valid JSON, to exercise the client's handling of
// malformed records.
func (s *Server) CorruptChanges(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corruptChanges = n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	if parts[0] == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "database name required")
		return
	}

	var rest string
	if len(parts) == 2 {
		rest = parts[1]
	}

	switch {
	case rest == "_bulk_docs" && r.Method == http.MethodPost:
		s.handleBulkDocs(w, r)
	case rest == "_find" && r.Method == http.MethodPost:
		s.handleFind(w, r)
	case rest == "_changes" && r.Method == http.MethodGet:
		s.handleChanges(w, r)
	case rest != "" && !strings.HasPrefix(rest, "_"):
		s.handleDoc(w, r, rest)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "unsupported endpoint")
	}
}

func (s *Server) handleDoc(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		txn := s.db.Txn(false)
		defer txn.Abort()

		record := s.lookup(txn, id)
		if record == nil || record.Deleted {
			reason := "missing"
			if record != nil {
				reason = "deleted"
			}
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeError(w, http.StatusNotFound, "not_found", reason)
			return
		}

		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		writeJSON(w, http.StatusOK, envelope(record))

	case http.MethodPut:
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid UTF-8 JSON")
			return
		}

		rev, _ := body["_rev"].(string)
		delete(body, "_id")
		delete(body, "_rev")

		newRev, errName, reason := s.write(id, rev, false, body)
		if errName != "" {
			writeError(w, statusOf(errName), errName, reason)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"ok": true, "id": id, "rev": newRev})

	case http.MethodDelete:
		rev := r.URL.Query().Get("rev")
		if rev == "" {
			writeError(w, http.StatusConflict, "conflict", "Document update conflict.")
			return
		}

		newRev, errName, reason := s.write(id, rev, true, nil)
		if errName != "" {
			writeError(w, statusOf(errName), errName, reason)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": id, "rev": newRev})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (s *Server) handleBulkDocs(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Docs         []map[string]interface{} `json:"docs"`
		AllOrNothing bool                     `json:"all_or_nothing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid UTF-8 JSON")
		return
	}
	if request.AllOrNothing {
		// Atomic batches were dropped from the protocol; reject the whole
		// request the way a 2.x/3.x server does.
		writeError(w, http.StatusBadRequest, "bad_request", "all_or_nothing is not supported")
		return
	}

	results := make([]map[string]interface{}, 0, len(request.Docs))
	for _, doc := range request.Docs {
		id, _ := doc["_id"].(string)
		if id == "" {
			id = xid.New().String()
		}
		rev, _ := doc["_rev"].(string)
		deleted, _ := doc["_deleted"].(bool)

		payload := make(map[string]interface{}, len(doc))
		for key, value := range doc {
			if key == "_id" || key == "_rev" || key == "_deleted" {
				continue
			}
			payload[key] = value
		}

		newRev, errName, reason := s.write(id, rev, deleted, payload)
		if errName != "" {
			results = append(results, map[string]interface{}{
				"id": id, "error": errName, "reason": reason,
			})
			continue
		}
		results = append(results, map[string]interface{}{"id": id, "rev": newRev})
	}

	writeJSON(w, http.StatusCreated, results)
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	var query struct {
		Selector map[string]interface{} `json:"selector"`
		Sort     []map[string]string    `json:"sort"`
		Limit    *int64                 `json:"limit"`
		Bookmark string                 `json:"bookmark"`
	}
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid UTF-8 JSON")
		return
	}
	if query.Selector == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "missing required key: selector")
		return
	}

	offset, err := decodeBookmark(query.Bookmark)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_bookmark", "invalid bookmark")
		return
	}

	txn := s.db.Txn(false)
	defer txn.Abort()

	matches := s.match(txn, query.Selector)
	sortDocs(matches, query.Sort)

	limit := int64(defaultFindLimit)
	if query.Limit != nil {
		limit = *query.Limit
	}

	if offset > len(matches) {
		offset = len(matches)
	}
	end := offset + int(limit)
	if end > len(matches) {
		end = len(matches)
	}

	docs := make([]map[string]interface{}, 0, end-offset)
	for _, record := range matches[offset:end] {
		docs = append(docs, envelope(record))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"docs":     docs,
		"bookmark": encodeBookmark(end),
	})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.failChanges > 0 {
		s.failChanges--
		s.mu.Unlock()
		writeError(w, http.StatusInternalServerError, "internal_server_error", "injected failure")
		return
	}
	s.mu.Unlock()

	query := r.URL.Query()

	since, err := s.parseSince(query.Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	docIDs, err := parseDocIDsFilter(query.Get("filter"), query.Get("doc_ids"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	includeDocs := query.Get("include_docs") == "true"

	if query.Get("feed") == "continuous" {
		s.streamChanges(w, r, since, docIDs, includeDocs)
		return
	}

	rows := s.changesSince(since, docIDs, includeDocs)
	results := make([]map[string]interface{}, 0, len(rows))
	var lastSeq uint64
	for _, row := range rows {
		results = append(results, row.body)
		lastSeq = row.seq
	}
	if lastSeq < s.Seq() {
		lastSeq = s.Seq()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":  results,
		"last_seq": strconv.FormatUint(lastSeq, 10),
	})
}

func (s *Server) streamChanges(
	w http.ResponseWriter,
	r *http.Request,
	since uint64,
	docIDs map[string]bool,
	includeDocs bool,
) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_server_error", "streaming unsupported")
		return
	}

	heartbeat := 30 * time.Second
	if raw := r.URL.Query().Get("heartbeat"); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			heartbeat = time.Duration(ms) * time.Millisecond
		}
	}

	s.mu.Lock()
	corruptStream := false
	if s.corruptChanges > 0 {
		s.corruptChanges--
		corruptStream = true
	}
	endAfterBacklog := false
	if s.endChanges > 0 {
		s.endChanges--
		endAfterBacklog = true
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if corruptStream {
		_, _ = w.Write([]byte("{\"seq\": not-json\n"))
		flusher.Flush()
		return
	}

	encoder := json.NewEncoder(w)
	poll := time.NewTicker(20 * time.Millisecond)
	defer poll.Stop()
	keepAlive := time.NewTicker(heartbeat)
	defer keepAlive.Stop()

	lastSent := since
	for {
		for _, row := range s.changesSince(lastSent, docIDs, includeDocs) {
			if err := encoder.Encode(row.body); err != nil {
				return
			}
			lastSent = row.seq
		}
		flusher.Flush()

		if endAfterBacklog {
			_ = encoder.Encode(map[string]string{
				"last_seq": strconv.FormatUint(lastSent, 10),
			})
			flusher.Flush()
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-poll.C:
		}
	}
}

type changeRow struct {
	seq  uint64
	body map[string]interface{}
}

func (s *Server) changesSince(since uint64, docIDs map[string]bool, includeDocs bool) []changeRow {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.LowerBound(tblDocuments, "seq", since+1)
	if err != nil {
		return nil
	}

	var rows []changeRow
	for raw := it.Next(); raw != nil; raw = it.Next() {
		record := raw.(*docRecord)
		if docIDs != nil && !docIDs[record.ID] {
			continue
		}

		body := map[string]interface{}{
			"seq":     strconv.FormatUint(record.Seq, 10),
			"id":      record.ID,
			"changes": []map[string]string{{"rev": record.Rev}},
		}
		if record.Deleted {
			body["deleted"] = true
		}
		if includeDocs && !record.Deleted {
			body["doc"] = envelope(record)
		}
		rows = append(rows, changeRow{seq: record.Seq, body: body})
	}

	return rows
}

// write applies one revision-checked mutation under the global lock.
func (s *Server) write(
	id string,
	rev string,
	deleted bool,
	payload map[string]interface{},
) (string, string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.db.Txn(true)
	defer txn.Abort()

	existing := s.lookup(txn, id)

	var generation uint64
	if existing != nil {
		if rev != existing.Rev {
			return "", "conflict", "Document update conflict."
		}
		generation = revGeneration(existing.Rev)
	} else {
		if deleted {
			return "", "not_found", "missing"
		}
		if rev != "" {
			return "", "conflict", "Document update conflict."
		}
	}

	s.seq++
	newRev := fmt.Sprintf("%d-%s", generation+1, xid.New().String())

	if err := txn.Insert(tblDocuments, &docRecord{
		ID:      id,
		Rev:     newRev,
		Deleted: deleted,
		Seq:     s.seq,
		Payload: payload,
	}); err != nil {
		return "", "internal_server_error", err.Error()
	}

	txn.Commit()
	return newRev, "", ""
}

func (s *Server) lookup(txn *memdb.Txn, id string) *docRecord {
	raw, err := txn.First(tblDocuments, "id", id)
	if err != nil || raw == nil {
		return nil
	}
	return raw.(*docRecord)
}

func (s *Server) match(txn *memdb.Txn, selector map[string]interface{}) []*docRecord {
	it, err := txn.Get(tblDocuments, "id")
	if err != nil {
		return nil
	}

	var matches []*docRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		record := raw.(*docRecord)
		if record.Deleted {
			continue
		}
		if matchesSelector(record.Payload, selector) {
			matches = append(matches, record)
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches
}

func (s *Server) parseSince(raw string) (uint64, error) {
	switch raw {
	case "", "0":
		return 0, nil
	case "now":
		return s.Seq(), nil
	default:
		since, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid since token %q", raw)
		}
		return since, nil
	}
}

// matchesSelector implements top-level field equality, which is all the
// client tests need from the query language.
func matchesSelector(payload, selector map[string]interface{}) bool {
	for key, want := range selector {
		if !reflect.DeepEqual(payload[key], want) {
			return false
		}
	}
	return true
}

func sortDocs(records []*docRecord, sortSpec []map[string]string) {
	if len(sortSpec) == 0 {
		return
	}

	var field, direction string
	for key, value := range sortSpec[0] {
		field, direction = key, value
	}

	sort.SliceStable(records, func(i, j int) bool {
		left := fmt.Sprint(records[i].Payload[field])
		right := fmt.Sprint(records[j].Payload[field])
		if direction == "desc" {
			return left > right
		}
		return left < right
	})
}

func revGeneration(rev string) uint64 {
	parts := strings.SplitN(rev, "-", 2)
	generation, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0
	}
	return generation
}

func parseDocIDsFilter(filter, rawIDs string) (map[string]bool, error) {
	if filter == "" {
		return nil, nil
	}
	if filter != "_doc_ids" {
		return nil, fmt.Errorf("unknown filter %q", filter)
	}

	var ids []string
	if err := json.Unmarshal([]byte(rawIDs), &ids); err != nil {
		return nil, fmt.Errorf("invalid doc_ids: %v", err)
	}

	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// Bookmarks encode the page offset, base64-wrapped so clients treat them as
// opaque tokens the way they must with a real server.
func encodeBookmark(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeBookmark(bookmark string) (int, error) {
	if bookmark == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(bookmark)
	if err != nil {
		return 0, err
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid bookmark payload")
	}
	return offset, nil
}

func envelope(record *docRecord) map[string]interface{} {
	body := make(map[string]interface{}, len(record.Payload)+2)
	for key, value := range record.Payload {
		body[key] = value
	}
	body["_id"] = record.ID
	body["_rev"] = record.Rev
	return body
}

func statusOf(errName string) int {
	switch errName {
	case "conflict":
		return http.StatusConflict
	case "not_found":
		return http.StatusNotFound
	case "bad_request":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, name, reason string) {
	writeJSON(w, status, map[string]string{"error": name, "reason": reason})
}
