// Copyright 2026 Rednim Games, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"context"
	"time"

	errkinds "github.com/rednimgames/rose-updater/internal/errkinds"
)

// Latencies records per-request latency in microseconds across every
// origin backend, shared process-wide so the client binary can report
// percentiles at the end of a run. hdrhistogram.Histogram is not goroutine
// safe, so access is serialized with a mutex in histogram.go.
var Latencies = newLatencyRecorder()

// withRetry runs op up to MaxAttempts times, retrying only when op returns
// an error wrapped in errkinds.NetworkTransient. Any
// other error (including NetworkFatal, HashMismatch, Cancelled) aborts
// immediately without retrying.
func withRetry(ctx context.Context, op func() error) error {
	b := RetryPolicy()
	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		start := time.Now()
		err := op()
		Latencies.Record(time.Since(start))
		if err == nil {
			return nil
		}
		lastErr = err
		if !errkinds.NetworkTransient.Is(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return errkinds.Cancelled.New()
		case <-time.After(b.Duration()):
		}
	}
	return lastErr
}
