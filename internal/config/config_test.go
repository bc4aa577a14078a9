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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rose-updater.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[sync]
max_files_in_flight = 2
allow_wide_reuse = true
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, c.Sync.MaxFilesInFlight)
	require.True(t, c.Sync.AllowWideReuse)
	require.Equal(t, Default().Chunker, c.Chunker, "untouched sections keep their defaults")
}
