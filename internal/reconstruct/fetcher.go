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

package reconstruct

import (
	"context"
	"sync"

	"github.com/rednimgames/rose-updater/internal/archive"
	"github.com/rednimgames/rose-updater/internal/transport"
)

// fetcher dispatches coalesced remote batches with bounded outstanding
// request count and a bounded reorder window (both a pending-bytes and a
// pending-chunk-count cap), and lets the sequential writer in Run pull a chunk's
// decompressed bytes out by hash once its batch completes. A hash used more
// than once within a file (refCounts > 1) stays resident until its last
// use.
type fetcher struct {
	ctx         context.Context
	origin      transport.Origin
	archivePath string
	cfg         Config

	mu            sync.Mutex
	cond          *sync.Cond
	inflight      int
	results       map[[32]byte][]byte
	remaining     map[[32]byte]int
	pending       int64
	pendingChunks int
	firstErr      error
	wg            sync.WaitGroup
}

func newFetcher(ctx context.Context, origin transport.Origin, archivePath string, cfg Config, refCounts map[[32]byte]int) *fetcher {
	f := &fetcher{
		ctx:         ctx,
		origin:      origin,
		archivePath: archivePath,
		cfg:         cfg,
		results:     make(map[[32]byte][]byte),
		remaining:   make(map[[32]byte]int, len(refCounts)),
	}
	for h, n := range refCounts {
		f.remaining[h] = n
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// dispatch launches one goroutine per batch. Each waits for both an
// outstanding-request slot and enough pending-bytes budget before issuing
// its GetRange call, so a slow writer throttles how far ahead fetching runs.
func (f *fetcher) dispatch(batches []Batch) {
	for _, b := range batches {
		b := b
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.runBatch(b)
		}()
	}
}

func (f *fetcher) runBatch(b Batch) {
	f.mu.Lock()
	for f.firstErr == nil && f.inflight >= f.cfg.MaxOutstanding {
		f.cond.Wait()
	}
	if f.firstErr != nil {
		f.mu.Unlock()
		return
	}
	// The reorder window is a soft cap: a batch over budget still proceeds
	// when nothing else is in flight, so the batch holding the writer's
	// next-needed chunk can never be starved by earlier batches' unconsumed
	// bytes sitting in results.
	for f.firstErr == nil && f.inflight > 0 &&
		(f.pending+b.Length > f.cfg.ReorderWindowBytes ||
			f.pendingChunks+len(b.Records) > f.cfg.ReorderWindowChunks) {
		f.cond.Wait()
	}
	if f.firstErr != nil {
		f.mu.Unlock()
		return
	}
	f.inflight++
	f.mu.Unlock()

	body, err := f.origin.GetRange(f.ctx, f.archivePath, b.Start, b.Length)

	f.mu.Lock()
	f.inflight--
	if err != nil {
		if f.firstErr == nil {
			f.firstErr = err
		}
		f.cond.Broadcast()
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	spans := b.Split(body)
	decoded := make(map[[32]byte][]byte, len(b.Records))
	var added int64
	for _, rec := range b.Records {
		data, err := archive.DecompressVerify(spans[rec.Hash], rec.Hash)
		if err != nil {
			f.mu.Lock()
			if f.firstErr == nil {
				f.firstErr = err
			}
			f.cond.Broadcast()
			f.mu.Unlock()
			return
		}
		decoded[rec.Hash] = data
		added += int64(len(data))
	}

	f.mu.Lock()
	for h, data := range decoded {
		f.results[h] = data
	}
	f.pending += added
	f.pendingChunks += len(decoded)
	f.cond.Broadcast()
	f.mu.Unlock()
}

// take blocks until hash's decompressed bytes are available, then returns
// them. Once the last expected use of hash has been taken, its bytes are
// freed and the pending-bytes budget they occupied is released back to
// dispatch.
func (f *fetcher) take(hash [32]byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.firstErr != nil {
			return nil, f.firstErr
		}
		if data, ok := f.results[hash]; ok {
			f.remaining[hash]--
			if f.remaining[hash] <= 0 {
				delete(f.results, hash)
				f.pending -= int64(len(data))
				f.pendingChunks--
				f.cond.Broadcast()
			}
			return data, nil
		}
		f.cond.Wait()
	}
}

// wait blocks until every dispatched batch has finished (successfully or
// not) and returns the first error encountered, if any.
func (f *fetcher) wait() error {
	f.wg.Wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.firstErr
}
