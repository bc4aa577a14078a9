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

package cliutil

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rednimgames/rose-updater/internal/progress"
)

func TestTruncateToWidthShortStringUnchanged(t *testing.T) {
	require.Equal(t, "data/pak0.bin", truncateToWidth("data/pak0.bin", 40))
}

func TestTruncateToWidthClipsLongPath(t *testing.T) {
	long := "data/textures/very/deeply/nested/path/that/does/not/fit/at/all.bin"
	out := truncateToWidth(long, 20)
	require.LessOrEqual(t, len(out), len(long))
	require.Contains(t, out, "…")
}

func TestTokenizeLaunchArgsHonorsQuoting(t *testing.T) {
	args, err := TokenizeLaunchArgs(`--server --name "Rose Keep" -x1`)
	require.NoError(t, err)
	require.Equal(t, []string{"--server", "--name", "Rose Keep", "-x1"}, args)
}

func TestTokenizeLaunchArgsEmpty(t *testing.T) {
	args, err := TokenizeLaunchArgs("")
	require.NoError(t, err)
	require.Nil(t, args)
}

func TestBarEmitDoesNotPanicOnPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	b := NewBar(w)
	require.False(t, b.colorize, "a pipe is never a real terminal")
	b.Emit(progress.Event{Kind: "chunk", Path: "data/pak0.bin", BytesDone: 5, BytesTotal: 10, Phase: progress.Fetching})
	b.Emit(progress.Event{Kind: "file", Path: "data/pak0.bin", BytesDone: 10, BytesTotal: 10, Phase: progress.Done})

	buf := make([]byte, 4096)
	w.Close()
	n, _ := r.Read(buf)
	require.NotZero(t, n)
	require.True(t, bytes.Contains(buf[:n], []byte("data/pak0.bin")))
}
