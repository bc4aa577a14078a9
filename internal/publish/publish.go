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

// Package publish implements the publisher side of the system:
// scanning a source tree, chunking every file, writing one Chunk Archive
// per file, and assembling the Remote Manifest that ties them together.
// It is the write-side mirror of package reconstruct: where a
// Reconstructor turns an archive back into a file, Run turns a file into
// an archive.
package publish

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	stdsync "sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rednimgames/rose-updater/internal/archive"
	"github.com/rednimgames/rose-updater/internal/chunker"
	"github.com/rednimgames/rose-updater/internal/errkinds"
	"github.com/rednimgames/rose-updater/internal/fsutil"
	"github.com/rednimgames/rose-updater/internal/manifest"
	"github.com/rednimgames/rose-updater/internal/progress"
)

// Options configures one publish run.
type Options struct {
	SourceRoot       string
	OutputDir        string // archives and manifest.toml are written under here
	ProfileKey       string // carried into the manifest's top-level table for symmetry with the local manifest; the remote manifest tolerates it being blank
	ChunkerParams    chunker.Params
	ZstdLevel        int
	MaxFilesInFlight int // 0 selects min(4, runtime.NumCPU())
	Sink             progress.Sink
}

// archiveSubdir is where per-file archives live, relative to OutputDir;
// manifest.toml's archive_path entries are relative to the manifest
// itself, so the whole output directory can be uploaded as-is and every
// archive still resolves against the manifest URL.
const archiveSubdir = "archives"

// Result summarizes one publish run.
type Result struct {
	Manifest *manifest.Manifest
	Failed   map[string]error
}

// Run walks SourceRoot, archives every regular file under bounded
// concurrency, and writes the resulting manifest.toml into OutputDir. A
// per-file failure is recorded in Result.Failed and does not abort the
// rest of the tree, mirroring the Orchestrator's own partial-failure
// stance on the client side.
func Run(ctx context.Context, opts Options) (Result, error) {
	if opts.MaxFilesInFlight <= 0 {
		opts.MaxFilesInFlight = defaultWorkers()
	}
	sink := opts.Sink
	if sink == nil {
		sink = progress.Discard{}
	}
	if err := os.MkdirAll(filepath.Join(opts.OutputDir, archiveSubdir), 0o755); err != nil {
		return Result{}, errkinds.IoError.New(err.Error())
	}

	paths, err := walkFiles(opts.SourceRoot)
	if err != nil {
		return Result{}, errkinds.IoError.New(err.Error())
	}

	res := Result{Failed: make(map[string]error)}
	entries := make([]manifest.FileEntry, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(opts.MaxFilesInFlight))
	var mu stdsync.Mutex

	for i, rel := range paths {
		i, rel := i, rel
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			entry, err := publishFile(gctx, opts, rel, sink)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[rel] = err
				return nil // a single bad file doesn't stop the rest of the tree
			}
			entries[i] = entry
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return res, errkinds.Cancelled.New()
	}

	var ok []manifest.FileEntry
	for i, e := range entries {
		if _, failed := res.Failed[paths[i]]; failed {
			continue
		}
		ok = append(ok, e)
	}

	m := manifest.New(opts.ProfileKey, ok)
	res.Manifest = m
	if len(res.Failed) > 0 {
		// The manifest still describes every archive that did land, but it
		// is not written out: a partial publish must not be mistaken for a
		// complete release. The caller decides whether to retry or abort.
		return res, nil
	}

	data, err := manifest.Save(m)
	if err != nil {
		return res, err
	}
	if err := writeManifestAtomic(filepath.Join(opts.OutputDir, "manifest.toml"), data); err != nil {
		return res, err
	}
	return res, nil
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// walkFiles lists every regular file under root, relative to root with
// forward slashes, in a deterministic order: filepath.Walk visits each
// directory's entries lexically.
func walkFiles(root string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	return out, err
}

// publishFile archives one file:
// chunk it (C1), stage each unique chunk's compressed bytes plus the
// reconstruction order (C2), and report the FileEntry the manifest will
// carry for it.
func publishFile(ctx context.Context, opts Options, relPath string, sink progress.Sink) (manifest.FileEntry, error) {
	emit := func(phase progress.Phase, done, total int64) {
		sink.Emit(progress.Event{Kind: "file", Path: relPath, BytesDone: done, BytesTotal: total, Phase: phase})
	}
	emit(progress.Planning, 0, 0)

	srcPath := filepath.Join(opts.SourceRoot, filepath.FromSlash(relPath))
	info, err := os.Stat(srcPath)
	if err != nil {
		return manifest.FileEntry{}, errkinds.IoError.New(err.Error())
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return manifest.FileEntry{}, errkinds.IoError.New(err.Error())
	}
	defer f.Close()

	archiveRel := filepath.ToSlash(filepath.Join(archiveSubdir, relPath+".rcar"))
	archivePath := filepath.Join(opts.OutputDir, filepath.FromSlash(archiveRel))
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return manifest.FileEntry{}, errkinds.IoError.New(err.Error())
	}
	tmpPath := filepath.Join(filepath.Dir(archivePath), "."+filepath.Base(archivePath)+"."+uuid.NewString()+".tmp")

	w, err := archive.NewWriter(tmpPath, opts.ChunkerParams, opts.ZstdLevel)
	if err != nil {
		return manifest.FileEntry{}, errkinds.IoError.New(err.Error())
	}

	hasher, _ := blake2b.New256(nil)
	emit(progress.Writing, 0, info.Size())

	var written int64
	splitErr := chunker.Split(f, opts.ChunkerParams, func(c chunker.Chunk) error {
		if ctx.Err() != nil {
			return errkinds.Cancelled.New()
		}
		data := make([]byte, c.Length)
		if _, err := f.ReadAt(data, int64(c.Offset)); err != nil {
			return err
		}
		hasher.Write(data)
		written += int64(len(data))
		emit(progress.Writing, written, info.Size())
		return w.AddChunk(data, c.Hash)
	})
	if splitErr != nil {
		os.Remove(tmpPath)
		emit(progress.Failed, written, info.Size())
		return manifest.FileEntry{}, errkinds.IoError.New(splitErr.Error())
	}

	var sourceHash [32]byte
	copy(sourceHash[:], hasher.Sum(nil))

	emit(progress.Verifying, written, info.Size())
	if err := w.Finish(sourceHash); err != nil {
		os.Remove(tmpPath)
		emit(progress.Failed, written, info.Size())
		return manifest.FileEntry{}, errkinds.IoError.New(err.Error())
	}

	if err := os.Rename(tmpPath, archivePath); err != nil {
		os.Remove(tmpPath)
		return manifest.FileEntry{}, errkinds.IoError.New(err.Error())
	}
	fsutil.SyncDir(filepath.Dir(archivePath))

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return manifest.FileEntry{}, errkinds.IoError.New(err.Error())
	}

	emit(progress.Done, written, info.Size())
	return manifest.FileEntry{
		Path:        relPath,
		Size:        info.Size(),
		SourceHash:  manifest.EncodeHash(sourceHash),
		ArchivePath: archiveRel,
		ArchiveSize: archiveInfo.Size(),
	}, nil
}

func writeManifestAtomic(path string, data []byte) error {
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errkinds.IoError.New(err.Error())
	}
	if f, err := os.OpenFile(tmp, os.O_RDWR, 0); err == nil {
		f.Sync()
		f.Close()
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errkinds.IoError.New(err.Error())
	}
	fsutil.SyncDir(filepath.Dir(path))
	return nil
}
