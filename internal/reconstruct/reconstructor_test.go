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
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/rednimgames/rose-updater/internal/archive"
	"github.com/rednimgames/rose-updater/internal/chunker"
	"github.com/rednimgames/rose-updater/internal/errkinds"
	"github.com/rednimgames/rose-updater/internal/manifest"
	"github.com/rednimgames/rose-updater/internal/sourceindex"
)

// fakeOrigin serves byte ranges out of an in-memory archive, counting calls
// and bytes served so tests can assert on how much remote traffic a
// reuse-heavy run avoided.
type fakeOrigin struct {
	body  []byte
	calls int32
	bytes int64
}

func (o *fakeOrigin) Get(ctx context.Context, path string) ([]byte, error) {
	atomic.AddInt32(&o.calls, 1)
	atomic.AddInt64(&o.bytes, int64(len(o.body)))
	return append([]byte{}, o.body...), nil
}

func (o *fakeOrigin) GetRange(ctx context.Context, path string, start, length int64) ([]byte, error) {
	atomic.AddInt32(&o.calls, 1)
	end := start + length
	if end > int64(len(o.body)) {
		end = int64(len(o.body))
	}
	atomic.AddInt64(&o.bytes, end-start)
	return append([]byte{}, o.body[start:end]...), nil
}

func buildTestArchive(t *testing.T, data []byte, p chunker.Params) (archivePath string, sourceHash [32]byte) {
	t.Helper()
	dir := t.TempDir()
	archivePath = filepath.Join(dir, "out.rcar")

	w, err := archive.NewWriter(archivePath, p, 3)
	require.NoError(t, err)
	chunks, err := chunker.SplitBytes(data, p)
	require.NoError(t, err)
	for _, c := range chunks {
		require.NoError(t, w.AddChunk(data[c.Offset:c.Offset+uint64(c.Length)], c.Hash))
	}
	tmp, err := os.CreateTemp("", "srchash")
	require.NoError(t, err)
	tmp.Write(data)
	tmp.Seek(0, 0)
	sourceHash, err = archive.WholeFileHash(tmp)
	require.NoError(t, err)
	tmp.Close()
	os.Remove(tmp.Name())
	require.NoError(t, w.Finish(sourceHash))
	return archivePath, sourceHash
}

func testEntry(sourceHash [32]byte, size int64, archiveSize int64) manifest.FileEntry {
	return manifest.FileEntry{
		Path:        "data/pak0.bin",
		Size:        size,
		SourceHash:  manifest.EncodeHash(sourceHash),
		ArchivePath: "archives/pak0.rcar",
		ArchiveSize: archiveSize,
	}
}

func TestRunFreshInstallDownloadsEverything(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	data := make([]byte, 256*1024)
	r.Read(data)
	p := chunker.Params{Window: 16, Min: 1024, Avg: 8192, Max: 32768}

	archivePath, srcHash := buildTestArchive(t, data, p)
	body, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	origin := &fakeOrigin{body: body}

	installRoot := t.TempDir()
	entry := testEntry(srcHash, int64(len(data)), int64(len(body)))

	err = Run(context.Background(), Job{Entry: entry, InstallRoot: installRoot, Origin: origin}, DefaultConfig())
	require.NoError(t, err)

	out, err := os.ReadFile(filepath.Join(installRoot, entry.Path))
	require.NoError(t, err)
	require.Equal(t, data, out)
	require.Greater(t, int(atomic.LoadInt32(&origin.calls)), 0)
}

func TestRunReusesLocalChunksAndAvoidsRefetch(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	oldData := make([]byte, 512*1024)
	r.Read(oldData)
	newData := append([]byte{}, oldData...)
	// Edit a small region far from the start; most chunk boundaries survive.
	copy(newData[300000:300040], []byte("0123456789ABCDEF0123456789ABCDEF01234567"))

	p := chunker.Params{Window: 16, Min: 4096, Avg: 16384, Max: 65536}
	archivePath, srcHash := buildTestArchive(t, newData, p)
	body, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	installRoot := t.TempDir()
	targetPath := filepath.Join(installRoot, "data/pak0.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(targetPath), 0o755))
	require.NoError(t, os.WriteFile(targetPath, oldData, 0o644))

	entry := testEntry(srcHash, int64(len(newData)), int64(len(body)))

	freshOrigin := &fakeOrigin{body: body}
	require.NoError(t, Run(context.Background(), Job{Entry: entry, InstallRoot: t.TempDir(), Origin: freshOrigin}, DefaultConfig()))

	reuseOrigin := &fakeOrigin{body: body}
	err = Run(context.Background(), Job{Entry: entry, InstallRoot: installRoot, Origin: reuseOrigin}, DefaultConfig())
	require.NoError(t, err)

	out, err := os.ReadFile(targetPath)
	require.NoError(t, err)
	require.Equal(t, newData, out)
	// Reusing the locally present, mostly-unchanged file should download far
	// fewer bytes than reconstructing from nothing. (Both runs coalesce their
	// missing chunks into a single ranged fetch, so the request count alone
	// does not tell them apart.)
	require.Less(t, atomic.LoadInt64(&reuseOrigin.bytes), atomic.LoadInt64(&freshOrigin.bytes))
}

func TestRunAlreadyCorrectFileMakesNoRemoteRequests(t *testing.T) {
	r := rand.New(rand.NewSource(19))
	data := make([]byte, 128*1024)
	r.Read(data)
	p := chunker.Params{Window: 16, Min: 1024, Avg: 8192, Max: 32768}

	archivePath, srcHash := buildTestArchive(t, data, p)
	body, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	origin := &fakeOrigin{body: body}

	installRoot := t.TempDir()
	entry := testEntry(srcHash, int64(len(data)), int64(len(body)))
	targetPath := filepath.Join(installRoot, entry.Path)
	require.NoError(t, os.MkdirAll(filepath.Dir(targetPath), 0o755))
	require.NoError(t, os.WriteFile(targetPath, data, 0o644))

	require.NoError(t, Run(context.Background(), Job{Entry: entry, InstallRoot: installRoot, Origin: origin}, DefaultConfig()))
	require.Zero(t, atomic.LoadInt32(&origin.calls), "a file that already matches its manifest entry must resolve without touching the origin")
}

func TestRunCorruptRemoteChunkFailsAndLeavesTargetUntouched(t *testing.T) {
	data := make([]byte, 64*1024)
	for i := range data {
		data[i] = byte(i)
	}
	p := chunker.Params{Window: 16, Min: 1024, Avg: 4096, Max: 8192}
	archivePath, srcHash := buildTestArchive(t, data, p)
	body, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	f, err := archive.Open(bytesReaderAt(body), int64(len(body)))
	require.NoError(t, err)
	rec := f.DictRecordAt(0)
	start, _ := f.PayloadRange(rec)
	body[start] ^= 0xFF

	origin := &fakeOrigin{body: body}
	installRoot := t.TempDir()
	entry := testEntry(srcHash, int64(len(data)), int64(len(body)))

	err = Run(context.Background(), Job{Entry: entry, InstallRoot: installRoot, Origin: origin}, DefaultConfig())
	require.Error(t, err)

	targetPath := filepath.Join(installRoot, entry.Path)
	_, statErr := os.Stat(targetPath)
	require.True(t, os.IsNotExist(statErr))

	entries, _ := os.ReadDir(filepath.Dir(targetPath))
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp")
	}
}

func TestReadLocalRejectsDataNotMatchingExpectedHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "candidate.bin")
	data := []byte("bytes the source index believed were still good")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loc := sourceindex.Location{Path: path, Offset: 0, Length: uint32(len(data))}

	got, err := readLocal(loc, blake2b.Sum256(data))
	require.NoError(t, err)
	require.Equal(t, data, got)

	var wrongHash [32]byte
	_, err = readLocal(loc, wrongHash)
	require.Error(t, err)
	require.True(t, errkinds.HashMismatch.Is(err), "a local read that no longer matches its indexed hash must be rejected, not silently reused")
}

type byteReaderAt []byte

func bytesReaderAt(b []byte) byteReaderAt { return byteReaderAt(b) }

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, b[off:])
	return n, nil
}
