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

package selfupdate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rednimgames/rose-updater/internal/archive"
	"github.com/rednimgames/rose-updater/internal/chunker"
	"github.com/rednimgames/rose-updater/internal/manifest"
	"github.com/rednimgames/rose-updater/internal/reconstruct"
)

type fakeOrigin struct{ body []byte }

func (o *fakeOrigin) Get(ctx context.Context, path string) ([]byte, error) {
	return append([]byte{}, o.body...), nil
}

func (o *fakeOrigin) GetRange(ctx context.Context, path string, start, length int64) ([]byte, error) {
	end := start + length
	if end > int64(len(o.body)) {
		end = int64(len(o.body))
	}
	return append([]byte{}, o.body[start:end]...), nil
}

func buildExeArchive(t *testing.T, data []byte) (archivePath string, hash [32]byte) {
	t.Helper()
	p := chunker.Params{Window: 16, Min: 256, Avg: 2048, Max: 8192}
	dir := t.TempDir()
	archivePath = filepath.Join(dir, "exe.rcar")

	w, err := archive.NewWriter(archivePath, p, 3)
	require.NoError(t, err)
	chunks, err := chunker.SplitBytes(data, p)
	require.NoError(t, err)
	for _, c := range chunks {
		require.NoError(t, w.AddChunk(data[c.Offset:c.Offset+uint64(c.Length)], c.Hash))
	}
	tmp, err := os.CreateTemp("", "exehash")
	require.NoError(t, err)
	tmp.Write(data)
	tmp.Seek(0, 0)
	hash, err = archive.WholeFileHash(tmp)
	require.NoError(t, err)
	tmp.Close()
	os.Remove(tmp.Name())
	require.NoError(t, w.Finish(hash))
	return archivePath, hash
}

func TestRecoverCrashedRenameRestoresOld(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "roseupdater")
	old := exe + oldSuffix
	require.NoError(t, os.WriteFile(old, []byte("previous binary"), 0o755))

	require.NoError(t, RecoverCrashedRename(exe))

	data, err := os.ReadFile(exe)
	require.NoError(t, err)
	require.Equal(t, "previous binary", string(data))
}

func TestRecoverCrashedRenameNoOpWhenCurrentPresent(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "roseupdater")
	require.NoError(t, os.WriteFile(exe, []byte("current"), 0o755))

	require.NoError(t, RecoverCrashedRename(exe))

	data, err := os.ReadFile(exe)
	require.NoError(t, err)
	require.Equal(t, "current", string(data))
}

func TestCheckSelfDetectsChangedHash(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "roseupdater")
	require.NoError(t, os.WriteFile(exe, []byte("old binary bytes"), 0o755))

	newData := []byte("new binary bytes, quite a bit longer than before")
	_, newHash := buildExeArchive(t, newData)

	remote := manifest.New("", []manifest.FileEntry{{
		Path:       "roseupdater",
		Size:       int64(len(newData)),
		SourceHash: manifest.EncodeHash(newHash),
	}})

	plan, err := CheckSelf(exe, dir, remote, false)
	require.NoError(t, err)
	require.Equal(t, ReplacingSelf, plan.State)
}

func TestCheckSelfSkipsWhenHashMatches(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "roseupdater")
	data := []byte("identical binary bytes")
	require.NoError(t, os.WriteFile(exe, data, 0o755))

	tmp, err := os.Open(exe)
	require.NoError(t, err)
	hash, err := archive.WholeFileHash(tmp)
	require.NoError(t, err)
	tmp.Close()

	remote := manifest.New("", []manifest.FileEntry{{
		Path:       "roseupdater",
		Size:       int64(len(data)),
		SourceHash: manifest.EncodeHash(hash),
	}})

	plan, err := CheckSelf(exe, dir, remote, false)
	require.NoError(t, err)
	require.Equal(t, Syncing, plan.State)
}

func TestReplaceSelfPerformsTwoRenameSequence(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "roseupdater")
	require.NoError(t, os.WriteFile(exe, []byte("old binary bytes"), 0o755))

	newData := []byte("new binary bytes, reconstructed via the normal chunk path")
	archivePath, newHash := buildExeArchive(t, newData)
	body, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	entry := manifest.FileEntry{
		Path:        "roseupdater",
		Size:        int64(len(newData)),
		SourceHash:  manifest.EncodeHash(newHash),
		ArchivePath: "archives/roseupdater.rcar",
		ArchiveSize: int64(len(body)),
	}

	err = ReplaceSelf(context.Background(), exe, dir, entry, &fakeOrigin{body: body}, nil, reconstruct.DefaultConfig())
	require.NoError(t, err)

	out, err := os.ReadFile(exe)
	require.NoError(t, err)
	require.Equal(t, newData, out)

	_, err = os.Stat(exe + oldSuffix)
	require.NoError(t, err, "the replaced binary should be parked at <name>.old")

	FinishPostSelfUpdate(exe)
	_, err = os.Stat(exe + oldSuffix)
	require.True(t, os.IsNotExist(err))
}
