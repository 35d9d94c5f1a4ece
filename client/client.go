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

// Package client provides a client for document stores speaking the CouchDB
// HTTP protocol. It mediates revision-aware access to JSON documents stored
// in named databases: single-document CRUD with conflict detection, bulk
// writes with per-item reconciliation, resumable change feeds, and
// index-based find queries with bookmark continuation.
//
// Every operation is a stateless request/response call over a shared,
// pooled HTTP transport. No documents or revisions are cached on the client:
// every read and write is a fresh round trip, so conflicts are never masked
// by stale local state.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sofa-team/sofa/internal/log"
	"github.com/sofa-team/sofa/internal/validation"
	"github.com/sofa-team/sofa/internal/version"
	"github.com/sofa-team/sofa/pkg/metrics"
)

const (
	defaultMaxFeedRetries        = 5
	defaultFeedRetryBaseInterval = 100 * time.Millisecond
	defaultFeedRetryMaxInterval  = 10 * time.Second
)

// Client is a client that can communicate with a document store over HTTP.
// It is safe for concurrent use; operations issued by different callers are
// independent and impose no ordering on each other.
type Client struct {
	addr       string
	httpClient *http.Client
	logger     log.Logger
	metrics    *metrics.Metrics

	maxFeedRetries        uint64
	feedRetryBaseInterval time.Duration
	feedRetryMaxInterval  time.Duration
}

// Dial creates an instance of Client connecting to the store at the given
// address, e.g. "http://localhost:5984".
func Dial(addr string, opts ...Option) (*Client, error) {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", addr, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: address %q must use http or https", ErrValidation, addr)
	}

	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := options.Logger
	if logger == nil {
		logger = log.DefaultLogger()
	}

	maxFeedRetries := options.MaxFeedRetries
	if maxFeedRetries == 0 {
		maxFeedRetries = defaultMaxFeedRetries
	}
	feedRetryBaseInterval := options.FeedRetryBaseInterval
	if feedRetryBaseInterval == 0 {
		feedRetryBaseInterval = defaultFeedRetryBaseInterval
	}
	feedRetryMaxInterval := options.FeedRetryMaxInterval
	if feedRetryMaxInterval == 0 {
		feedRetryMaxInterval = defaultFeedRetryMaxInterval
	}

	return &Client{
		addr:                  strings.TrimSuffix(addr, "/"),
		httpClient:            httpClient,
		logger:                logger,
		metrics:               options.Metrics,
		maxFeedRetries:        maxFeedRetries,
		feedRetryBaseInterval: feedRetryBaseInterval,
		feedRetryMaxInterval:  feedRetryMaxInterval,
	}, nil
}

// Database returns a handle for the database with the given name. It does
// not perform a network call; the database is assumed to exist.
func (c *Client) Database(name string) (*Database, error) {
	if err := validation.ValidateValue(name, "required,dbname"); err != nil {
		return nil, fmt.Errorf("%w: database name %q", ErrValidation, name)
	}

	return &Database{
		client: c,
		name:   name,
	}, nil
}

// send performs a single HTTP round trip and returns the status code and the
// full response body. Connectivity problems are surfaced as ErrTransport.
func (c *Client) send(
	ctx context.Context,
	method string,
	path string,
	query url.Values,
	body []byte,
) (int, []byte, error) {
	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warnf("close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	c.logger.Debugf("%s /%s: %d", method, path, resp.StatusCode)
	return resp.StatusCode, data, nil
}

// do performs a single HTTP round trip and returns the raw response. The
// caller owns the response body. It is used directly by the change feed,
// which consumes the body as a stream.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	query url.Values,
	body []byte,
) (*http.Response, error) {
	requestURL := c.addr + "/" + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sofa-go/"+version.Version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Context cancellation is the caller's doing, not a connectivity
		// problem.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	return resp, nil
}

// observe records the outcome of an operation when metrics are enabled.
func (c *Client) observe(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveOperation(method, errorKind(err), time.Since(start).Seconds())
}
