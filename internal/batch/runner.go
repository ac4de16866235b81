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

// Package batch drives bulk model invocation: items are partitioned into
// fixed-size batches, every item of a batch runs concurrently, and batches
// are paced against a minimum inter-batch interval. One item's failure never
// aborts its batch; every item yields exactly one result record.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/foundation29org/lapin/internal/caller"
	"github.com/foundation29org/lapin/internal/util/logging"
)

// errEmptyText marks items skipped without a model call.
const errEmptyText = "Empty text"

// WorkItem is one unit of orchestration input. The orchestrator never
// mutates it; Meta is carried through for downstream parsers.
type WorkItem struct {
	ID   string            `json:"id"`
	Text string            `json:"text"`
	Meta map[string]string `json:"meta,omitempty"`
}

// ResultRecord is the outcome of processing one WorkItem.
type ResultRecord struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`

	// Set on success.
	Text             string        `json:"text,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	TotalTokens      int           `json:"total_tokens,omitempty"`
	Elapsed          time.Duration `json:"elapsed,omitempty"`

	// Set on failure.
	Err string `json:"error,omitempty"`
}

// RunSummary aggregates one orchestrator invocation.
type RunSummary struct {
	RunID            string        `json:"run_id"`
	Total            int           `json:"total"`
	Succeeded        int           `json:"succeeded"`
	Failed           int           `json:"failed"`
	TotalTokens      int64         `json:"total_tokens"`
	Elapsed          time.Duration `json:"elapsed"`
	ItemsPerMinute   float64       `json:"items_per_minute"`
	AvgItemTime      time.Duration `json:"avg_item_time"`
	AvgTokensPerItem float64       `json:"avg_tokens_per_item"`
}

// Options configure one runner.
type Options struct {
	// BatchSize is the number of items processed concurrently per batch.
	// Must be positive.
	BatchSize int

	// RPMLimit is diagnostic only: a batch whose observed throughput
	// exceeds it logs a warning. Pacing is governed by MinBatchInterval.
	RPMLimit int

	// MinBatchInterval is the minimum time between the end of one batch
	// and the start of the next. No wait is applied before the first batch.
	MinBatchInterval time.Duration

	// ItemTimeout bounds one item's prompt build + model call.
	// Zero disables; without it a hung remote call stalls its batch.
	ItemTimeout time.Duration
}

// Template renders one prompt per item. *prompt.Template satisfies this.
type Template interface {
	ToPrompt(payload string) (string, error)
}

// ResponseGetter is the slice of the model handler the runner needs.
// *handler.Handler satisfies it.
type ResponseGetter interface {
	GetResponse(ctx context.Context, prompt, alias string) (*caller.Response, string, error)
}

// AliasChecker lets the runner reject an unknown alias before any batch
// starts. Optional; *handler.Handler satisfies it.
type AliasChecker interface {
	ListAvailableModels() []string
}

// Runner executes batched runs with one template and one handler.
type Runner struct {
	template Template
	handler  ResponseGetter
	opts     Options

	sleep func(ctx context.Context, d time.Duration) error // test hook
}

func NewRunner(template Template, handler ResponseGetter, opts Options) (*Runner, error) {
	if template == nil {
		return nil, errors.New("runner requires a built prompt template")
	}
	if handler == nil {
		return nil, errors.New("runner requires a model handler")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	return &Runner{
		template: template,
		handler:  handler,
		opts:     opts,
		sleep:    sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run processes all items against the model alias and returns one record
// per item plus the run summary. Records of a batch are fully resolved
// before the next batch starts; batch order is deterministic, order within
// a batch is completion order.
//
// The returned error is non-nil only for setup failures detected before the
// first batch; per-item failures are reported in the records.
func (r *Runner) Run(ctx context.Context, items []WorkItem, alias string) ([]ResultRecord, RunSummary, error) {
	logger := klog.FromContext(ctx)

	// Unknown alias is deterministic for the whole run; reject it before
	// submitting anything.
	if checker, ok := r.handler.(AliasChecker); ok {
		if !containsString(checker.ListAvailableModels(), alias) {
			return nil, RunSummary{}, fmt.Errorf("model alias %q is not registered", alias)
		}
	}

	summary := RunSummary{RunID: uuid.NewString(), Total: len(items)}
	if len(items) == 0 {
		return []ResultRecord{}, summary, nil
	}

	logger.Info("Starting batch run",
		"runID", summary.RunID,
		"items", len(items),
		"alias", alias,
		"batchSize", r.opts.BatchSize,
		"minBatchInterval", r.opts.MinBatchInterval.String(),
	)

	start := time.Now()
	records := make([]ResultRecord, 0, len(items))
	var lastBatchEnd time.Time

	batches := chunk(items, r.opts.BatchSize)
	for i, b := range batches {
		if err := r.waitBeforeBatch(ctx, i, lastBatchEnd); err != nil {
			// Cancelled mid-run: every unprocessed item still gets a
			// record so the output stays a bijection with the input.
			for _, rest := range batches[i:] {
				for _, item := range rest {
					records = append(records, ResultRecord{ID: item.ID, Err: err.Error()})
				}
			}
			break
		}

		batchStart := time.Now()
		batchRecords := r.runBatch(ctx, b, alias)
		batchElapsed := time.Since(batchStart)
		lastBatchEnd = time.Now()
		recordBatchDuration(batchElapsed)

		succeeded, tokens := 0, 0
		for _, rec := range batchRecords {
			recordItem(alias, rec)
			if rec.Success {
				succeeded++
				tokens += rec.TotalTokens
			}
		}
		records = append(records, batchRecords...)

		logger.Info("Batch completed",
			"runID", summary.RunID,
			"batch", i+1,
			"batches", len(batches),
			"items", len(b),
			"succeeded", succeeded,
			"tokens", tokens,
			"elapsed", batchElapsed.String(),
		)

		r.checkThroughput(logger, len(b), batchElapsed)
	}

	summary.Elapsed = time.Since(start)
	finalizeSummary(&summary, records)

	logger.Info("Batch run finished",
		"runID", summary.RunID,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"totalTokens", summary.TotalTokens,
		"elapsed", summary.Elapsed.String(),
		"itemsPerMinute", fmt.Sprintf("%.1f", summary.ItemsPerMinute),
	)
	return records, summary, nil
}

// waitBeforeBatch enforces the minimum inter-batch interval. The first
// batch never waits.
func (r *Runner) waitBeforeBatch(ctx context.Context, batchIdx int, lastBatchEnd time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if batchIdx == 0 || r.opts.MinBatchInterval <= 0 {
		return nil
	}
	remaining := r.opts.MinBatchInterval - time.Since(lastBatchEnd)
	if remaining <= 0 {
		return nil
	}
	klog.V(logging.INFO).Infof("Waiting %s before next batch", remaining.Round(time.Millisecond))
	return r.sleep(ctx, remaining)
}

// runBatch fans one goroutine out per item and waits for all of them.
// The batch scope does not exit until every item has produced a record.
func (r *Runner) runBatch(ctx context.Context, items []WorkItem, alias string) []ResultRecord {
	records := make([]ResultRecord, 0, len(items))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, item := range items {
		wg.Add(1)
		go func(item WorkItem) {
			defer wg.Done()

			rec := r.processItem(ctx, item, alias)

			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
		}(item)
	}
	wg.Wait()

	return records
}

// processItem handles one item end to end. All failure modes, panics
// included, degrade to a failed record; nothing escapes the task boundary.
func (r *Runner) processItem(ctx context.Context, item WorkItem, alias string) (rec ResultRecord) {
	rec = ResultRecord{ID: item.ID}
	defer func() {
		if p := recover(); p != nil {
			klog.ErrorS(fmt.Errorf("%v", p), "Panic recovered processing item", "itemID", item.ID)
			rec = ResultRecord{ID: item.ID, Err: fmt.Sprintf("panic: %v", p)}
		}
	}()

	if item.Text == "" {
		rec.Err = errEmptyText
		return rec
	}

	if r.opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.ItemTimeout)
		defer cancel()
	}

	query, err := r.template.ToPrompt(item.Text)
	if err != nil {
		rec.Err = fmt.Sprintf("prompt generation error: %v", err)
		return rec
	}

	itemsInFlight.Inc()
	defer itemsInFlight.Dec()

	start := time.Now()
	resp, text, err := r.handler.GetResponse(ctx, query, alias)
	if err != nil {
		rec.Err = fmt.Sprintf("model call error: %v", err)
		return rec
	}

	rec.Success = true
	rec.Text = text
	rec.PromptTokens = resp.Usage.PromptTokens
	rec.CompletionTokens = resp.Usage.CompletionTokens
	rec.TotalTokens = resp.Usage.TotalTokens
	rec.Elapsed = time.Since(start)
	return rec
}

// checkThroughput logs when a batch's observed rate exceeds the RPM limit.
// Diagnostic only; the pacing itself never adapts to it.
func (r *Runner) checkThroughput(logger klog.Logger, batchLen int, elapsed time.Duration) {
	if r.opts.RPMLimit <= 0 || elapsed <= 0 {
		return
	}
	observedRPM := float64(batchLen) / elapsed.Minutes()
	if observedRPM > float64(r.opts.RPMLimit) {
		rateLimitWarnings.Inc()
		logger.Info("WARNING: observed batch rate exceeds RPM limit",
			"observedRPM", fmt.Sprintf("%.1f", observedRPM),
			"rpmLimit", r.opts.RPMLimit,
		)
	}
}

func finalizeSummary(summary *RunSummary, records []ResultRecord) {
	var successTime time.Duration
	for _, rec := range records {
		if rec.Success {
			summary.Succeeded++
			summary.TotalTokens += int64(rec.TotalTokens)
			successTime += rec.Elapsed
		} else {
			summary.Failed++
		}
	}
	if summary.Elapsed > 0 {
		summary.ItemsPerMinute = float64(summary.Total) / summary.Elapsed.Minutes()
	}
	if summary.Succeeded > 0 {
		summary.AvgItemTime = successTime / time.Duration(summary.Succeeded)
		summary.AvgTokensPerItem = float64(summary.TotalTokens) / float64(summary.Succeeded)
	}
}

func chunk(items []WorkItem, size int) [][]WorkItem {
	var out [][]WorkItem
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
