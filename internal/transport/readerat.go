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

package transport

import (
	"context"
	"io"
)

// RemoteReaderAt adapts an Origin to io.ReaderAt so archive.Reader can
// parse a remote archive's header and dictionary exactly as it would a
// local file, without knowing HTTP or any cloud SDK exists. Every ReadAt
// call becomes exactly one Origin.GetRange call, satisfying archive's
// "single ranged fetch" contract for ReadChunk; the Reconstructor bypasses
// this type for coalesced multi-chunk fetches and calls Origin directly.
type RemoteReaderAt struct {
	ctx    context.Context
	origin Origin
	path   string
}

// NewRemoteReaderAt builds a RemoteReaderAt for one archive path.
func NewRemoteReaderAt(ctx context.Context, origin Origin, path string) *RemoteReaderAt {
	return &RemoteReaderAt{ctx: ctx, origin: origin, path: path}
}

func (r *RemoteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	data, err := r.origin.GetRange(r.ctx, r.path, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}
