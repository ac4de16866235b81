/*
Copyright 2026 Foundation 29

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package batch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// labels
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"

	TokenKindPrompt     = "prompt"
	TokenKindCompletion = "completion"
)

var (
	itemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lapin_items_processed_total",
			Help: "Total number of work items processed",
		}, []string{"result", "alias"},
	)

	tokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lapin_tokens_total",
			Help: "Total tokens consumed by model calls",
		}, []string{"kind", "alias"},
	)

	batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "lapin_batch_duration_seconds",
			Help: "Wall-clock duration of one batch",
			// 0.1s up to ~27m, matching the longest plausible remote call
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
		},
	)

	itemsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lapin_items_in_flight",
			Help: "Work items currently awaiting a model response",
		},
	)

	rateLimitWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lapin_rate_limit_warnings_total",
			Help: "Batches whose observed throughput exceeded the configured RPM limit",
		},
	)
)

func init() {
	prometheus.MustRegister(itemsProcessed)
	prometheus.MustRegister(tokensUsed)
	prometheus.MustRegister(batchDuration)
	prometheus.MustRegister(itemsInFlight)
	prometheus.MustRegister(rateLimitWarnings)
}

func recordItem(alias string, rec ResultRecord) {
	result := ResultFailed
	if rec.Success {
		result = ResultSuccess
		tokensUsed.WithLabelValues(TokenKindPrompt, alias).Add(float64(rec.PromptTokens))
		tokensUsed.WithLabelValues(TokenKindCompletion, alias).Add(float64(rec.CompletionTokens))
	}
	itemsProcessed.WithLabelValues(result, alias).Inc()
}

func recordBatchDuration(d time.Duration) {
	batchDuration.Observe(d.Seconds())
}
