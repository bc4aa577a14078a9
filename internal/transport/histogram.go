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
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// latencyRecorder wraps an HdrHistogram with a mutex, since RecordValue is
// not safe for concurrent callers and every origin backend shares one
// instance for reporting purposes.
type latencyRecorder struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

func newLatencyRecorder() *latencyRecorder {
	return &latencyRecorder{hist: hdrhistogram.New(1, 60*1000*1000, 3)}
}

// Record adds one request's latency, in microseconds, to the histogram.
func (l *latencyRecorder) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.hist.RecordValue(d.Microseconds())
}

// Percentiles returns the p50/p95/p99 request latency in microseconds,
// for the client binary to surface in its end-of-run summary.
func (l *latencyRecorder) Percentiles() (p50, p95, p99 int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hist.ValueAtQuantile(50), l.hist.ValueAtQuantile(95), l.hist.ValueAtQuantile(99)
}
