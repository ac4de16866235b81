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

// The entry point for the batch runner process. It reads work items as
// JSON lines, sends each through the configured judge prompt and model
// backend in paced batches, and writes one result record per item.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/foundation29org/lapin/internal/backend"
	"github.com/foundation29org/lapin/internal/batch"
	"github.com/foundation29org/lapin/internal/handler"
	"github.com/foundation29org/lapin/internal/prompt"
	"github.com/foundation29org/lapin/internal/promptstore"
	"github.com/foundation29org/lapin/internal/runner/config"
	"github.com/foundation29org/lapin/internal/tracker"
	"github.com/foundation29org/lapin/internal/util/logging"
)

func main() {
	// initialize klog
	klog.InitFlags(nil)
	defer klog.Flush()

	// load configuration & logging setup
	cfg := config.NewConfig()
	fs := flag.NewFlagSet("lapin-batch-runner", flag.ExitOnError)

	cfgFilePath := fs.String("config", "cmd/batch-runner/config.yaml", "Path to configuration file")
	inputPath := fs.String("input", "-", "Path to input JSONL file, or - for stdin")
	outputPath := fs.String("output", "-", "Path to output JSONL file, or - for stdout")
	modelAlias := fs.String("model", "", "Model alias, overrides the config file")
	klog.InitFlags(fs)
	fs.Parse(os.Args[1:])

	if err := cfg.LoadFromYAML(*cfgFilePath); err != nil {
		klog.InfoS("Failed to load config file, using defaults", "path", *cfgFilePath)
	}
	if *modelAlias != "" {
		cfg.ModelAlias = *modelAlias
	}
	if err := cfg.Validate(); err != nil {
		klog.ErrorS(err, "Invalid configuration")
		os.Exit(1)
	}

	// setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 2)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signalChan
		klog.InfoS("Received shutdown signal, starting graceful shutdown...", "signal", sig)
		cancel() // unprocessed items are reported as failed records

		sig = <-signalChan
		klog.InfoS("Received second shutdown signal, forcing shutdown...", "signal", sig)
		os.Exit(1) // force exit immediately for second signal
	}()

	// setup metrics and health checks endpoints (background goroutine)
	go func() {
		m := http.NewServeMux()

		m.Handle("/metrics", promhttp.Handler())
		m.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		klog.InfoS("Starting observability server", "address", cfg.MetricsAddress)
		if err := http.ListenAndServe(cfg.MetricsAddress, m); err != nil {
			klog.ErrorS(err, "Observability server failed")
		}
	}()

	// build the judge template
	tmpl, err := buildTemplate(ctx, cfg)
	if err != nil {
		klog.ErrorS(err, "Failed to build judge template", "judgeKind", cfg.JudgeKind)
		os.Exit(1)
	}

	// wire backends, trackers, and the model handler
	h := handler.New(backend.DefaultRegistry(), tracker.NewRegistry(), handler.Options{
		PauseOnLimit: cfg.PauseOnLimit,
	})

	runner, err := batch.NewRunner(tmpl, h, batch.Options{
		BatchSize:        cfg.BatchSize,
		RPMLimit:         cfg.RPMLimit,
		MinBatchInterval: cfg.MinBatchInterval,
		ItemTimeout:      cfg.ItemTimeout,
	})
	if err != nil {
		klog.ErrorS(err, "Failed to create batch runner")
		os.Exit(1)
	}

	items, err := readItems(*inputPath)
	if err != nil {
		klog.ErrorS(err, "Failed to read input items", "path", *inputPath)
		os.Exit(1)
	}
	klog.InfoS("Loaded work items", "count", len(items), "model", cfg.ModelAlias)

	records, summary, err := runner.Run(ctx, items, cfg.ModelAlias)
	if err != nil {
		klog.ErrorS(err, "Batch run failed before processing")
		os.Exit(1)
	}

	if err := writeRecords(*outputPath, records); err != nil {
		klog.ErrorS(err, "Failed to write result records", "path", *outputPath)
		os.Exit(1)
	}

	klog.InfoS("Batch run complete",
		"runID", summary.RunID,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"totalTokens", summary.TotalTokens,
		"elapsed", summary.Elapsed.String(),
	)
}

// buildTemplate assembles the configured judge prompt. When a Redis
// address is configured, stored section texts override the built-in
// defaults; missing keys fall back silently.
func buildTemplate(ctx context.Context, cfg *config.RunnerConfig) (*prompt.Template, error) {
	var b *prompt.Builder
	var sections []string
	switch cfg.JudgeKind {
	case "severity":
		b = prompt.NewSeverityJudgeBuilder()
		sections = []string{"intro", "severity_levels", "json_format"}
	case "semantic":
		b = prompt.NewSemanticJudgeBuilder()
		sections = []string{"intro", "semantic_levels", "json_format"}
	default:
		return nil, fmt.Errorf("unknown judge kind %q", cfg.JudgeKind)
	}

	if cfg.RedisAddress != "" {
		store, err := promptstore.New(ctx, promptstore.Config{Addr: cfg.RedisAddress})
		if err != nil {
			return nil, fmt.Errorf("connecting to prompt store: %w", err)
		}
		defer store.Close()

		for _, name := range sections {
			key := cfg.JudgeKind + ":" + name
			if err := b.LoadSectionFromStore(ctx, name, store, key); err != nil {
				if errors.Is(err, promptstore.ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("loading section %q: %w", name, err)
			}
			klog.V(logging.INFO).Infof("Section %q overridden from prompt store", name)
		}
	}

	return b.Build()
}

func readItems(path string) ([]batch.WorkItem, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var items []batch.WorkItem
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var item batch.WorkItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if item.ID == "" {
			item.ID = fmt.Sprintf("line-%d", line)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func writeRecords(path string, records []batch.ResultRecord) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
