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

// Package archive implements the on-disk/wire layout of a per-file chunk
// archive: a fixed RCAR header, a chunk dictionary sorted by compressed
// offset, a reconstruction list of dictionary indices in output order, and
// a concatenated payload of compressed chunks. All integers are big-endian.
package archive

import "github.com/rednimgames/rose-updater/internal/chunker"

// Magic is the fixed 4-byte archive header magic.
const Magic = "RCAR"

// Version is the only archive format version this package writes or reads.
const Version uint16 = 1

// CompressionZstd is the only chunk_compression algorithm id defined by
// the wire format.
const CompressionZstd uint16 = 1

const (
	hashSize       = 32
	headerSize     = 4 + 2 + hashSize + 8 + 4 + 4 + 4 + 4 + 2 + 2 + 4 + 4
	dictRecordSize = hashSize + 8 + 4 + 4
)

// DictRecord is one entry in the archive's chunk dictionary, sorted
// ascending by CompressedOffset.
type DictRecord struct {
	Hash             [32]byte
	CompressedOffset uint64
	CompressedSize   uint32
	UncompressedSize uint32
}

// Header is the fixed-size archive preamble.
type Header struct {
	SourceHash     [32]byte
	SourceSize     uint64
	ChunkerParams  chunker.Params
	CompressionAlg uint16
	CompressionLvl uint16
	DictLen        uint32
	ReconLen       uint32
}
