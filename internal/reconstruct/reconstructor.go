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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/rednimgames/rose-updater/internal/archive"
	"github.com/rednimgames/rose-updater/internal/chunker"
	"github.com/rednimgames/rose-updater/internal/errkinds"
	"github.com/rednimgames/rose-updater/internal/manifest"
	"github.com/rednimgames/rose-updater/internal/progress"
	"github.com/rednimgames/rose-updater/internal/sourceindex"
	"github.com/rednimgames/rose-updater/internal/transport"
)

// Config bounds a Reconstructor's resource use: how far fetches coalesce,
// how many requests run at once, and how far ahead of the writer completed
// chunks may accumulate.
type Config struct {
	CoalesceGap         int64
	MaxRequestBytes     int64
	MaxOutstanding      int
	ReorderWindowChunks int
	ReorderWindowBytes  int64
}

// DefaultConfig is the tuning both binaries ship with.
func DefaultConfig() Config {
	return Config{
		CoalesceGap:         DefaultCoalesceGap,
		MaxRequestBytes:     DefaultMaxRequestBytes,
		MaxOutstanding:      8,
		ReorderWindowChunks: 64,
		ReorderWindowBytes:  64 << 20,
	}
}

// Job names one target file to reconstruct.
type Job struct {
	Entry          manifest.FileEntry
	InstallRoot    string
	Origin         transport.Origin
	AllowWideReuse bool
	Wide           *sourceindex.WideIndex
	Sink           progress.Sink
}

func (j Job) localPath() string {
	return filepath.Join(j.InstallRoot, filepath.FromSlash(j.Entry.Path))
}

func (j Job) emit(phase progress.Phase, done, total int64) {
	if j.Sink == nil {
		return
	}
	j.Sink.Emit(progress.Event{Kind: "file", Path: j.Entry.Path, BytesDone: done, BytesTotal: total, Phase: phase})
}

// Run reconstructs one file: open and verify
// the remote archive, build a Source Index over the file currently on
// disk, classify every reconstruction step as a local read or a remote
// fetch, coalesce the fetches, stream verified output to a temp file in
// order, then fsync and atomically rename it into place. On any failure
// the temp file is discarded and the target path is left untouched.
func Run(ctx context.Context, job Job, cfg Config) error {
	targetPath := job.localPath()
	job.emit(progress.Planning, 0, 0)

	wantHash, err := job.Entry.SourceHashBytes()
	if err != nil {
		return err
	}

	// A file that already hashes to the manifest entry needs no archive at
	// all. This is how a previously-interrupted run's completed files, or a
	// force-recheck over a healthy tree, resolve to zero remote traffic and
	// zero rewrites.
	if localFileMatches(targetPath, wantHash, job.Entry.Size) {
		job.emit(progress.Done, job.Entry.Size, job.Entry.Size)
		return nil
	}

	rra := transport.NewRemoteReaderAt(ctx, job.Origin, job.Entry.ArchivePath)
	rdr, err := archive.Open(rra, job.Entry.ArchiveSize)
	if err != nil {
		return err
	}
	if rdr.SourceHash() != wantHash || int64(rdr.SourceSize()) != job.Entry.Size {
		return errkinds.ArchiveMismatch.New(fmt.Sprintf("%s: archive does not match manifest entry", job.Entry.Path))
	}

	window, min, avg, max := rdr.ChunkerParams()
	params := chunker.Params{Window: window, Min: min, Avg: avg, Max: max}

	idx, err := sourceindex.Build([]string{targetPath}, params)
	if err != nil {
		return errkinds.IoError.New(err.Error())
	}

	pl, missing := buildPlan(rdr, idx, job)
	batches := CoalesceMissing(rdr, missing, cfg.CoalesceGap, cfg.MaxRequestBytes)

	total := int64(rdr.SourceSize())
	job.emit(progress.Fetching, 0, total)

	f := newFetcher(ctx, job.Origin, job.Entry.ArchivePath, cfg, pl.refCounts)
	f.dispatch(batches)

	tmpPath := filepath.Join(filepath.Dir(targetPath), "."+filepath.Base(targetPath)+"."+uuid.NewString()+".tmp")
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		f.wait()
		return errkinds.IoError.New(err.Error())
	}
	out, err := os.Create(tmpPath)
	if err != nil {
		f.wait()
		return errkinds.IoError.New(err.Error())
	}

	hasher, _ := blake2b.New256(nil)
	job.emit(progress.Writing, 0, total)

	written, writeErr := writeSteps(out, pl.steps, f, hasher, job, total)
	closeErr := out.Close()

	if ferr := f.wait(); writeErr == nil {
		writeErr = ferr
	}
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpPath)
		job.emit(progress.Failed, written, total)
		return writeErr
	}

	job.emit(progress.Verifying, written, total)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	if sum != wantHash {
		os.Remove(tmpPath)
		job.emit(progress.Failed, written, total)
		return errkinds.HashMismatch.New(fmt.Sprintf("%s: reconstructed file hash mismatch", job.Entry.Path))
	}

	if err := fsyncPath(tmpPath); err != nil {
		os.Remove(tmpPath)
		return errkinds.IoError.New(err.Error())
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return errkinds.IoError.New(err.Error())
	}

	job.emit(progress.Done, written, total)
	return nil
}

func writeSteps(out *os.File, steps []step, f *fetcher, hasher io.Writer, job Job, total int64) (int64, error) {
	var written int64
	for _, st := range steps {
		var data []byte
		var err error
		if st.local {
			data, err = readLocal(st.loc, st.hash)
		} else {
			data, err = f.take(st.hash)
		}
		if err != nil {
			return written, err
		}
		if _, err := out.Write(data); err != nil {
			return written, errkinds.IoError.New(err.Error())
		}
		hasher.Write(data)
		written += int64(len(data))
		job.emit(progress.Writing, written, total)
	}
	return written, nil
}

// localFileMatches reports whether the file at path already has the size
// and whole-file hash the manifest entry demands.
func localFileMatches(path string, want [32]byte, size int64) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() != size {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	sum, err := archive.WholeFileHash(f)
	return err == nil && sum == want
}

func fsyncPath(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

type step struct {
	local bool
	loc   sourceindex.Location
	hash  [32]byte
}

type plan struct {
	steps     []step
	refCounts map[[32]byte]int
}

// buildPlan walks the archive's reconstruction order and classifies each
// entry as a local read or a remote fetch. It
// also collects, in ascending dictionary order, the distinct records that
// must be fetched remotely, which CoalesceMissing then batches, and the
// number of times each missing hash is consumed (a chunk may repeat within
// one file's reconstruction order).
func buildPlan(rdr *archive.Reader, idx *sourceindex.Index, job Job) (plan, []archive.DictRecord) {
	var p plan
	p.refCounts = make(map[[32]byte]int)
	missingByIdx := make(map[uint32]archive.DictRecord)

	order := rdr.ReconstructionOrder()
	for i := range order {
		rec := rdr.DictRecordAt(i)
		if loc, ok := idx.Lookup(rec.Hash); ok {
			p.steps = append(p.steps, step{local: true, loc: loc, hash: rec.Hash})
			continue
		}
		if job.AllowWideReuse && job.Wide != nil {
			if loc, ok := job.Wide.Lookup(rec.Hash); ok {
				p.steps = append(p.steps, step{local: true, loc: loc, hash: rec.Hash})
				continue
			}
		}
		p.steps = append(p.steps, step{local: false, hash: rec.Hash})
		p.refCounts[rec.Hash]++
		missingByIdx[order[i]] = rec
	}

	var missing []archive.DictRecord
	var keys []uint32
	for k := range missingByIdx {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		missing = append(missing, missingByIdx[k])
	}
	return p, missing
}

// readLocal reads one chunk's bytes from a local source file and verifies
// them against the hash the archive dictionary recorded, the same guarantee
// a remote fetch gets from archive.DecompressVerify — a candidate file that
// matched by size/mtime heuristics alone is not proof its bytes are still
// correct.
func readLocal(loc sourceindex.Location, want [32]byte) ([]byte, error) {
	f, err := os.Open(loc.Path)
	if err != nil {
		return nil, errkinds.IoError.New(err.Error())
	}
	defer f.Close()
	buf := make([]byte, loc.Length)
	if _, err := f.ReadAt(buf, int64(loc.Offset)); err != nil {
		return nil, errkinds.IoError.New(err.Error())
	}
	if err := archive.VerifyChunk(buf, want); err != nil {
		return nil, err
	}
	return buf, nil
}
