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

package publish

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rednimgames/rose-updater/internal/archive"
	"github.com/rednimgames/rose-updater/internal/chunker"
)

func writeRandomFile(t *testing.T, path string, n int, seed int64) []byte {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	data := make([]byte, n)
	r.Read(data)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return data
}

func testParams() chunker.Params {
	return chunker.Params{Window: 16, Min: 256, Avg: 1024, Max: 4096}
}

func TestRunProducesLoadableManifestAndArchives(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()

	aData := writeRandomFile(t, filepath.Join(src, "a.dat"), 10*1024, 1)
	bData := writeRandomFile(t, filepath.Join(src, "sub", "b.dat"), 3*1024, 2)

	res, err := Run(context.Background(), Options{
		SourceRoot:    src,
		OutputDir:     out,
		ChunkerParams: testParams(),
		ZstdLevel:     3,
	})
	require.NoError(t, err)
	require.Empty(t, res.Failed)
	require.Len(t, res.Manifest.Files, 2)

	manifestBytes, err := os.ReadFile(filepath.Join(out, "manifest.toml"))
	require.NoError(t, err)
	require.Contains(t, string(manifestBytes), "a.dat")
	require.Contains(t, string(manifestBytes), "sub/b.dat")

	for relPath, data := range map[string][]byte{"a.dat": aData, "sub/b.dat": bData} {
		entry, ok := res.Manifest.Lookup(relPath)
		require.True(t, ok)
		require.EqualValues(t, len(data), entry.Size)

		f, err := os.Open(filepath.Join(out, filepath.FromSlash(entry.ArchivePath)))
		require.NoError(t, err)
		info, err := f.Stat()
		require.NoError(t, err)

		rdr, err := archive.Open(f, info.Size())
		require.NoError(t, err)
		require.EqualValues(t, len(data), rdr.SourceSize())

		var rebuilt []byte
		for i := range rdr.ReconstructionOrder() {
			chunk, err := rdr.ReadChunk(rdr.DictRecordAt(i))
			require.NoError(t, err)
			rebuilt = append(rebuilt, chunk...)
		}
		require.Equal(t, data, rebuilt)
		f.Close()
	}
}

func TestRunRecordsPerFileFailureWithoutAbortingTree(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("unreadable-file permission check is meaningless running as root")
	}
	src := t.TempDir()
	out := t.TempDir()

	writeRandomFile(t, filepath.Join(src, "ok.dat"), 2048, 3)
	badPath := filepath.Join(src, "bad.dat")
	writeRandomFile(t, badPath, 512, 4)
	require.NoError(t, os.Chmod(badPath, 0o000))
	t.Cleanup(func() { os.Chmod(badPath, 0o644) })

	res, err := Run(context.Background(), Options{
		SourceRoot:    src,
		OutputDir:     out,
		ChunkerParams: testParams(),
		ZstdLevel:     3,
	})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	require.Contains(t, res.Failed, "bad.dat")

	// A failed file blocks manifest.toml from being written at all: a
	// partial publish must not be mistaken for a complete release.
	_, err = os.Stat(filepath.Join(out, "manifest.toml"))
	require.True(t, os.IsNotExist(err))

	_, ok := res.Manifest.Lookup("ok.dat")
	require.True(t, ok)
}
