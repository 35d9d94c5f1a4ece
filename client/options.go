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
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sofa-team/sofa/pkg/metrics"
)

// Option configures Options.
type Option func(*Options)

// Options configures how we set up the client.
type Options struct {
	// HTTPClient is the HTTP client used for every request. Its connection
	// pool is shared across concurrent operations.
	HTTPClient *http.Client

	// Logger is the logger of the client.
	Logger *zap.SugaredLogger

	// Metrics collects operation metrics when set.
	Metrics *metrics.Metrics

	// MaxFeedRetries is the number of reconnect attempts a continuous change
	// feed makes on transient failures before failing fatally.
	MaxFeedRetries uint64

	// FeedRetryBaseInterval is the base interval of the feed's exponential
	// backoff.
	FeedRetryBaseInterval time.Duration

	// FeedRetryMaxInterval caps the feed's backoff interval.
	FeedRetryMaxInterval time.Duration
}

// WithHTTPClient configures the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *Options) { o.HTTPClient = httpClient }
}

// WithLogger configures the logger of the client.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics configures the metrics collector of the client.
func WithMetrics(met *metrics.Metrics) Option {
	return func(o *Options) { o.Metrics = met }
}

// WithMaxFeedRetries configures the retry budget of continuous change feeds.
func WithMaxFeedRetries(maxRetries uint64) Option {
	return func(o *Options) { o.MaxFeedRetries = maxRetries }
}

// WithFeedRetryInterval configures the base and maximum interval of the
// change feed's exponential backoff.
func WithFeedRetryInterval(base, max time.Duration) Option {
	return func(o *Options) {
		o.FeedRetryBaseInterval = base
		o.FeedRetryMaxInterval = max
	}
}
