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

// Package promptstore keeps versioned prompt section text in Redis so judge
// prompts can be edited without redeploying the harness. It backs the
// prompt builder's load-section-from-store source.
package promptstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gredis "github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	"github.com/foundation29org/lapin/internal/util/logging"
)

const keyPrefix = "lapin:prompt:"

// ErrNotFound is returned when no section text exists under a key.
var ErrNotFound = errors.New("prompt section not found")

// Config holds the connection settings for the store.
type Config struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration // per-operation timeout (default: 2 seconds)
}

// Store is a Redis-backed prompt section store. It satisfies
// prompt.SectionStore.
type Store struct {
	client  *gredis.Client
	timeout time.Duration
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("prompt store requires a redis address")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}

	client := gredis.NewClient(&gredis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		DialTimeout:           cfg.Timeout,
		ReadTimeout:           cfg.Timeout,
		WriteTimeout:          cfg.Timeout,
		ContextTimeoutEnabled: true,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to prompt store: %w", err)
	}

	klog.V(logging.INFO).Infof("Connected prompt store at %s (db %d)", cfg.Addr, cfg.DB)
	return &Store{client: client, timeout: cfg.Timeout}, nil
}

// Get returns the section text stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.client.Get(opCtx, keyPrefix+key).Result()
	if errors.Is(err, gredis.Nil) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load prompt section %q: %w", key, err)
	}
	return text, nil
}

// Put stores section text under key. Sections do not expire; they are
// overwritten by the next Put.
func (s *Store) Put(ctx context.Context, key, text string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(opCtx, keyPrefix+key, text, 0).Err(); err != nil {
		return fmt.Errorf("failed to store prompt section %q: %w", key, err)
	}
	return nil
}

// Keys lists the stored section keys, prefix stripped.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var keys []string
	iter := s.client.Scan(opCtx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(opCtx) {
		keys = append(keys, iter.Val()[len(keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan prompt sections: %w", err)
	}
	return keys, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
