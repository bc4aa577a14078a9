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

package sourceindex

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rednimgames/rose-updater/internal/chunker"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestBuildAndLookup(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 100*1024)
	rand.New(rand.NewSource(21)).Read(data)
	path := writeFile(t, dir, "a.dat", data)
	p := chunker.Params{Window: 16, Min: 1024, Avg: 4096, Max: 16384}

	chunks, err := chunker.SplitBytes(data, p)
	require.NoError(t, err)

	idx, err := Build([]string{path}, p)
	require.NoError(t, err)
	require.Equal(t, len(chunks), idx.Len())

	loc, ok := idx.Lookup(chunks[0].Hash)
	require.True(t, ok)
	require.Equal(t, path, loc.Path)
}

func TestBuildToleratesMissingFile(t *testing.T) {
	dir := t.TempDir()
	idx, err := Build([]string{filepath.Join(dir, "nope.dat")}, chunker.DefaultParams)
	require.NoError(t, err)
	require.Equal(t, 0, idx.Len())
}

func TestWideIndexRefreshAndLookup(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 64*1024)
	rand.New(rand.NewSource(23)).Read(data)
	path := writeFile(t, dir, "b.dat", data)
	p := chunker.Params{Window: 16, Min: 1024, Avg: 4096, Max: 16384}

	chunks, err := chunker.SplitBytes(data, p)
	require.NoError(t, err)

	wi, err := OpenWideIndex(filepath.Join(dir, "idx.db"), dir)
	require.NoError(t, err)
	defer wi.Close()

	require.NoError(t, wi.Refresh([]string{path}, p))

	loc, ok := wi.Lookup(chunks[0].Hash)
	require.True(t, ok)
	require.Equal(t, path, loc.Path)
}
