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

// Package selfupdate implements the updater's own bootstrap: detecting
// that the remote manifest carries a newer copy of the running executable,
// replacing it in place, and resuming as the new process. It is the one
// part of the system where the thing being reconstructed is also the
// program doing the reconstructing, so every rename is ordered to leave a
// runnable binary on disk no matter when the process is killed.
package selfupdate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rednimgames/rose-updater/internal/archive"
	"github.com/rednimgames/rose-updater/internal/errkinds"
	"github.com/rednimgames/rose-updater/internal/fsutil"
	"github.com/rednimgames/rose-updater/internal/manifest"
	"github.com/rednimgames/rose-updater/internal/progress"
	"github.com/rednimgames/rose-updater/internal/reconstruct"
	"github.com/rednimgames/rose-updater/internal/transport"
)

// State names one step of the bootstrap state machine.
type State string

const (
	Initial        State = "Initial"
	CheckingSelf   State = "CheckingSelf"
	ReplacingSelf  State = "ReplacingSelf"
	PostSelfUpdate State = "PostSelfUpdate"
	Syncing        State = "Syncing"
	Done           State = "Done"
)

// oldSuffix names the sibling path the running executable is renamed to
// just before the new binary takes its place.
const oldSuffix = ".old"

// Plan captures what CheckSelf decided to do before any renames happen.
type Plan struct {
	State     State
	SelfEntry manifest.FileEntry // zero value if no self-update is needed
}

// RecoverCrashedRename repairs a half-finished swap: if
// `<name>.old` exists and `<name>` does not, a prior self-update was killed
// between the two renames. Rename `<name>.old` back so the updater is
// runnable again. Called once at process start, before anything else.
func RecoverCrashedRename(exePath string) error {
	oldPath := exePath + oldSuffix
	if _, err := os.Stat(exePath); err == nil {
		return nil // normal case: current binary is present
	} else if !os.IsNotExist(err) {
		return errkinds.IoError.New(err.Error())
	}
	if _, err := os.Stat(oldPath); err != nil {
		if os.IsNotExist(err) {
			return nil // nothing to recover
		}
		return errkinds.IoError.New(err.Error())
	}
	if err := os.Rename(oldPath, exePath); err != nil {
		return errkinds.SelfUpdateRaceLost.New(fmt.Sprintf("recover crashed rename: %v", err))
	}
	return nil
}

// CheckSelf implements the Initial/CheckingSelf transition: it looks up the
// running executable's path (relative to installRoot) in the remote
// manifest and decides whether a self-update is due.
func CheckSelf(exePath, installRoot string, remote *manifest.Manifest, forceRecheckUpdater bool) (Plan, error) {
	rel, err := filepath.Rel(installRoot, exePath)
	if err != nil {
		return Plan{State: Syncing}, nil
	}
	rel = filepath.ToSlash(rel)

	entry, ok := remote.Lookup(rel)
	if !ok {
		return Plan{State: Syncing}, nil
	}

	if !forceRecheckUpdater {
		curHash, err := hashFile(exePath)
		if err == nil && manifest.EncodeHash(curHash) == entry.SourceHash {
			return Plan{State: Syncing}, nil
		}
	}

	return Plan{State: ReplacingSelf, SelfEntry: entry}, nil
}

func hashFile(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, err
	}
	defer f.Close()
	return archive.WholeFileHash(f)
}

// ReplaceSelf performs the ReplacingSelf state: reconstruct the new
// updater binary to a sibling temp path (via the same Reconstructor every
// other file uses), rename the running executable to `<name>.old`, then
// rename the new binary into place. It does not re-exec; the caller spawns
// the new process with --post-self-update and exits.
func ReplaceSelf(ctx context.Context, exePath, installRoot string, entry manifest.FileEntry, origin transport.Origin, sink progress.Sink, cfg reconstruct.Config) error {
	dir := filepath.Dir(exePath)
	tmpName := ".self-update." + uuid.NewString() + ".tmp"
	tmpPath := filepath.Join(dir, tmpName)

	scratch := entry
	scratch.Path = tmpName
	job := reconstruct.Job{Entry: scratch, InstallRoot: dir, Origin: origin, Sink: sink}
	if err := reconstruct.Run(ctx, job, cfg); err != nil {
		return err
	}

	oldPath := exePath + oldSuffix
	os.Remove(oldPath)
	// Platform permitting (POSIX unlinks the old dentry out from under the
	// running process; Windows may refuse this while the binary is mapped).
	if err := os.Rename(exePath, oldPath); err != nil {
		os.Remove(tmpPath)
		return errkinds.IoError.New(fmt.Sprintf("rename running executable aside: %v", err))
	}

	if err := os.Chmod(tmpPath, 0o755); err != nil {
		os.Remove(tmpPath)
		return errkinds.IoError.New(err.Error())
	}
	if err := os.Rename(tmpPath, exePath); err != nil {
		os.Remove(tmpPath)
		return errkinds.IoError.New(fmt.Sprintf("rename new executable into place: %v", err))
	}
	fsutil.SyncDir(dir)

	return nil
}

// FinishPostSelfUpdate implements the PostSelfUpdate state: best-effort
// delete the `<name>.old` sibling the predecessor process left behind.
func FinishPostSelfUpdate(exePath string) {
	os.Remove(exePath + oldSuffix)
}
