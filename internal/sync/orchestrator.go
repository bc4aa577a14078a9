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

// Package sync implements the Sync Orchestrator: it drives
// reconciliation for a whole install tree, deciding which files to skip or
// rebuild, scheduling Reconstructors under bounded concurrency, and
// committing the new local manifest only once every scheduled file has
// actually landed on disk.
package sync

import (
	"context"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rednimgames/rose-updater/internal/chunker"
	"github.com/rednimgames/rose-updater/internal/errkinds"
	"github.com/rednimgames/rose-updater/internal/lockfile"
	"github.com/rednimgames/rose-updater/internal/manifest"
	"github.com/rednimgames/rose-updater/internal/progress"
	"github.com/rednimgames/rose-updater/internal/reconstruct"
	"github.com/rednimgames/rose-updater/internal/selfupdate"
	"github.com/rednimgames/rose-updater/internal/sourceindex"
	"github.com/rednimgames/rose-updater/internal/transport"
)

// Options configures one orchestrator run.
type Options struct {
	RemoteURL           string
	InstallRoot         string
	ProfileKey          string
	ForceRecheck        bool
	ForceRecheckUpdater bool
	MaxFilesInFlight    int
	AllowWideReuse      bool
	ExePath             string // running executable, for self-update detection; "" disables it
	PostSelfUpdate      bool   // true when resumed via --post-self-update; skips CheckingSelf
	Sink                progress.Sink
	LockTimeout         time.Duration
	ReconstructConfig   reconstruct.Config // zero value falls back to reconstruct.DefaultConfig()
}

// DefaultMaxFilesInFlight bounds how many files reconstruct concurrently.
const DefaultMaxFilesInFlight = 4

// remoteManifestName is the well-known object the publisher writes
// alongside its chunk archives, resolved relative to RemoteURL the same
// way an archive_path is.
const remoteManifestName = "manifest.toml"

// Result summarizes one run's outcome.
type Result struct {
	Reconstructed []string
	Failed        map[string]error
	SelfUpdated   bool
}

// Run reconciles the install tree against the remote manifest: load both
// manifests, update the updater itself first if needed, reconstruct every
// changed file under bounded concurrency, and commit the new local
// manifest only if nothing failed.
func Run(ctx context.Context, opts Options, origin transport.Origin, localManifestPath string) (Result, error) {
	if opts.MaxFilesInFlight <= 0 {
		opts.MaxFilesInFlight = DefaultMaxFilesInFlight
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = lockfile.DefaultTimeout
	}
	rcfg := opts.ReconstructConfig
	if rcfg == (reconstruct.Config{}) {
		rcfg = reconstruct.DefaultConfig()
	}
	sink := opts.Sink
	if sink == nil {
		sink = progress.Discard{}
	}

	lock, err := lockfile.Acquire(opts.InstallRoot, opts.LockTimeout)
	if err != nil {
		return Result{}, err
	}
	defer lock.Release()

	local, err := loadLocalManifest(localManifestPath)
	if err != nil {
		return Result{}, err
	}

	remoteBytes, err := origin.Get(ctx, remoteManifestName)
	if err != nil {
		return Result{}, err
	}
	remote, err := manifest.Load(remoteBytes)
	if err != nil {
		return Result{}, err
	}

	res := Result{Failed: make(map[string]error)}

	if opts.PostSelfUpdate {
		selfupdate.FinishPostSelfUpdate(opts.ExePath)
	} else if opts.ExePath != "" {
		if err := selfupdate.RecoverCrashedRename(opts.ExePath); err != nil {
			return res, err
		}
		plan, err := selfupdate.CheckSelf(opts.ExePath, opts.InstallRoot, remote, opts.ForceRecheckUpdater)
		if err != nil {
			return res, err
		}
		if plan.State == selfupdate.ReplacingSelf {
			if err := selfupdate.ReplaceSelf(ctx, opts.ExePath, opts.InstallRoot, plan.SelfEntry, origin, sink, rcfg); err != nil {
				return res, err
			}
			res.SelfUpdated = true
			// Record the updater's own new state before relaunching: without
			// this, the relaunched --post-self-update process reloads the
			// local manifest from disk, finds the stale pre-update entry for
			// this very path, and schedules a second Reconstructor job
			// against the binary it is currently executing.
			local.Upsert(plan.SelfEntry)
			local.Stamp(time.Now())
			if err := saveManifestAtomic(localManifestPath, local); err != nil {
				return res, err
			}
			return res, nil
		}
	}

	work := computeWorkSet(local, remote, opts.ForceRecheck)

	var wide *sourceindex.WideIndex
	if opts.AllowWideReuse {
		wide, err = sourceindex.OpenWideIndex(filepath.Join(opts.InstallRoot, ".rose-wide-index.bolt"), opts.InstallRoot)
		if err == nil {
			defer wide.Close()
			if refreshErr := wide.Refresh(existingFiles(opts.InstallRoot), chunker.DefaultParams); refreshErr != nil {
				return res, errkinds.IoError.New(refreshErr.Error())
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(opts.MaxFilesInFlight))
	var mu resultMu

	for _, entry := range work {
		entry := entry
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			jobErr := reconstruct.Run(gctx, reconstruct.Job{
				Entry:          entry,
				InstallRoot:    opts.InstallRoot,
				Origin:         origin,
				AllowWideReuse: opts.AllowWideReuse,
				Wide:           wide,
				Sink:           sink,
			}, rcfg)

			mu.record(entry.Path, jobErr, &res)
			return nil // per-file failures don't abort the group; they're aggregated
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return res, errkinds.Cancelled.New()
	}
	if len(res.Failed) > 0 {
		return res, nil
	}

	if err := commitLocalManifest(opts, remote, localManifestPath); err != nil {
		return res, err
	}
	return res, nil
}

// existingFiles lists every regular file currently under root, for
// WideIndex.Refresh to (re)chunk. Missing/unreadable roots yield no files
// rather than an error — a fresh install has nothing to index yet.
func existingFiles(root string) []string {
	var out []string
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil {
			return nil
		}
		if info.Mode().IsRegular() {
			out = append(out, path)
		}
		return nil
	})
	return out
}

// computeWorkSet selects every remote file whose
// (size, source_hash) differs from the local manifest, is absent locally,
// or force_recheck is set.
func computeWorkSet(local, remote *manifest.Manifest, forceRecheck bool) []manifest.FileEntry {
	var work []manifest.FileEntry
	for _, entry := range remote.Files {
		if forceRecheck {
			work = append(work, entry)
			continue
		}
		existing, ok := local.Lookup(entry.Path)
		if !ok || existing.Size != entry.Size || existing.SourceHash != entry.SourceHash {
			work = append(work, entry)
		}
	}
	return work
}

func loadLocalManifest(path string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return manifest.New("", nil), nil
		}
		return manifest.New("", nil), nil // unreadable local manifest: proceed as if empty
	}
	m, err := manifest.Load(data)
	if err != nil {
		return manifest.New("", nil), nil
	}
	return m, nil
}

// commitLocalManifest writes the new local
// manifest atomically, including every file the remote manifest names that
// is now actually present under the install root.
func commitLocalManifest(opts Options, remote *manifest.Manifest, localManifestPath string) error {
	var present []manifest.FileEntry
	for _, entry := range remote.Files {
		if _, err := os.Stat(filepath.Join(opts.InstallRoot, filepath.FromSlash(entry.Path))); err == nil {
			present = append(present, entry)
		}
	}

	m := manifest.New(opts.ProfileKey, present)
	m.Stamp(time.Now())

	return saveManifestAtomic(localManifestPath, m)
}

// saveManifestAtomic writes m to path via a temp-file-then-rename sequence,
// fsyncing the temp file first so a crash between the write and the rename
// never leaves a partially-written local manifest in place. Used both for
// the full end-of-run commit and for the single-entry update recorded right
// after a self-update replaces the running executable.
func saveManifestAtomic(path string, m *manifest.Manifest) error {
	data, err := manifest.Save(m)
	if err != nil {
		return errkinds.IoError.New(err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errkinds.IoError.New(err.Error())
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return errkinds.IoError.New(err.Error())
	}
	if f, err := os.OpenFile(tmpPath, os.O_RDWR, 0); err == nil {
		f.Sync()
		f.Close()
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errkinds.IoError.New(err.Error())
	}
	return nil
}

// resultMu serializes writes into Result from concurrent Reconstructor
// goroutines.
type resultMu struct {
	mu stdsync.Mutex
}

func (r *resultMu) record(path string, err error, res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		res.Failed[path] = err
		return
	}
	res.Reconstructed = append(res.Reconstructed, path)
}
