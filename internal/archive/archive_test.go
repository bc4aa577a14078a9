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

package archive

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rednimgames/rose-updater/internal/chunker"
)

func buildArchive(t *testing.T, data []byte, p chunker.Params) (string, [32]byte) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "out.rcar")

	w, err := NewWriter(path, p, 3)
	require.NoError(t, err)

	chunks, err := chunker.SplitBytes(data, p)
	require.NoError(t, err)
	for _, c := range chunks {
		require.NoError(t, w.AddChunk(data[c.Offset:c.Offset+uint64(c.Length)], c.Hash))
	}

	srcHash, err := WholeFileHash(bytesReader(data))
	require.NoError(t, err)
	require.NoError(t, w.Finish(srcHash))

	return path, srcHash
}

func bytesReader(b []byte) *os.File {
	f, err := os.CreateTemp("", "srctmp")
	if err != nil {
		panic(err)
	}
	f.Write(b)
	f.Seek(0, 0)
	return f
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	data := make([]byte, 300*1024)
	r.Read(data)
	p := chunker.Params{Window: 16, Min: 1024, Avg: 8192, Max: 32768}

	path, srcHash := buildArchive(t, data, p)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	stat, err := f.Stat()
	require.NoError(t, err)

	rdr, err := Open(f, stat.Size())
	require.NoError(t, err)
	require.Equal(t, srcHash, rdr.SourceHash())
	require.EqualValues(t, len(data), rdr.SourceSize())

	var out []byte
	for i := range rdr.ReconstructionOrder() {
		rec := rdr.DictRecordAt(i)
		chunk, err := rdr.ReadChunk(rec)
		require.NoError(t, err)
		out = append(out, chunk...)
	}
	require.Equal(t, data, out)
}

func TestDuplicateChunksShareOnePayload(t *testing.T) {
	block := make([]byte, 4096)
	rand.New(rand.NewSource(2)).Read(block)
	data := append(append([]byte{}, block...), block...)
	// Min == Max pins every boundary at exactly 4 KiB, so the two identical
	// halves chunk to the same single hash.
	p := chunker.Params{Window: 16, Min: 4096, Avg: 4096, Max: 4096}

	path, _ := buildArchive(t, data, p)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	stat, _ := f.Stat()
	rdr, err := Open(f, stat.Size())
	require.NoError(t, err)

	require.Len(t, rdr.UniqueChunks(), 1)
	require.Len(t, rdr.ReconstructionOrder(), 2)
}

func TestCorruptChunkFailsHashCheck(t *testing.T) {
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i)
	}
	p := chunker.Params{Window: 16, Min: 1024, Avg: 2048, Max: 4096}
	path, _ := buildArchive(t, data, p)

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()
	stat, _ := f.Stat()

	rdr, err := Open(f, stat.Size())
	require.NoError(t, err)
	rec := rdr.DictRecordAt(0)

	// Flip a byte inside the compressed payload.
	start, _ := rdr.PayloadRange(rec)
	var b [1]byte
	f.ReadAt(b[:], start)
	b[0] ^= 0xFF
	f.WriteAt(b[:], start)

	rdr2, err := Open(f, stat.Size())
	require.NoError(t, err)
	_, err = rdr2.ReadChunk(rdr2.DictRecordAt(0))
	require.Error(t, err)
}
