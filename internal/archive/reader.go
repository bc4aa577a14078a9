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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dolthub/gozstd"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/rednimgames/rose-updater/internal/errkinds"
)

// Reader parses and serves one archive's header, dictionary, and chunk
// payload. It is backed by an io.ReaderAt so the same code path serves a
// local *os.File and a remote range-fetching adapter identically; every
// ReadAt on the remote adapter corresponds to exactly one ranged HTTP (or
// cloud SDK) request, so a chunk read costs a single round trip without
// archive knowing anything about HTTP.
type Reader struct {
	ra       io.ReaderAt
	size     int64
	header   Header
	dict     []DictRecord
	recon    []uint32
	dictBase int64
	cache    *lru.Cache[[32]byte, []byte]
}

// Open parses the header and dictionary from ra (which must expose exactly
// size bytes) and verifies the magic/version.
func Open(ra io.ReaderAt, size int64) (*Reader, error) {
	if size < headerSize {
		return nil, errkinds.ArchiveDecode.New("archive shorter than header")
	}

	hbuf := make([]byte, headerSize)
	if _, err := ra.ReadAt(hbuf, 0); err != nil {
		return nil, err
	}
	if string(hbuf[0:4]) != Magic {
		return nil, errkinds.ArchiveDecode.New("bad magic")
	}
	version := binary.BigEndian.Uint16(hbuf[4:6])
	if version != Version {
		return nil, errkinds.ArchiveDecode.New(fmt.Sprintf("unsupported version %d", version))
	}

	hdr := Header{CompressionAlg: CompressionZstd}
	copy(hdr.SourceHash[:], hbuf[6:6+hashSize])
	off := 6 + hashSize
	hdr.SourceSize = binary.BigEndian.Uint64(hbuf[off : off+8])
	off += 8
	hdr.ChunkerParams.Window = binary.BigEndian.Uint32(hbuf[off : off+4])
	off += 4
	hdr.ChunkerParams.Min = binary.BigEndian.Uint32(hbuf[off : off+4])
	off += 4
	hdr.ChunkerParams.Avg = binary.BigEndian.Uint32(hbuf[off : off+4])
	off += 4
	hdr.ChunkerParams.Max = binary.BigEndian.Uint32(hbuf[off : off+4])
	off += 4
	hdr.CompressionAlg = binary.BigEndian.Uint16(hbuf[off : off+2])
	off += 2
	hdr.CompressionLvl = binary.BigEndian.Uint16(hbuf[off : off+2])
	off += 2
	hdr.DictLen = binary.BigEndian.Uint32(hbuf[off : off+4])
	off += 4
	hdr.ReconLen = binary.BigEndian.Uint32(hbuf[off : off+4])

	dictBytes := int64(hdr.DictLen) * dictRecordSize
	reconBytes := int64(hdr.ReconLen) * 4
	dictBase := int64(headerSize)
	if dictBase+dictBytes+reconBytes > size {
		return nil, errkinds.ArchiveDecode.New("dictionary/reconstruction list exceeds archive size")
	}

	tail := make([]byte, dictBytes+reconBytes)
	if len(tail) > 0 {
		if _, err := ra.ReadAt(tail, dictBase); err != nil {
			return nil, err
		}
	}

	dict := make([]DictRecord, hdr.DictLen)
	for i := range dict {
		b := tail[i*dictRecordSize : (i+1)*dictRecordSize]
		copy(dict[i].Hash[:], b[0:32])
		dict[i].CompressedOffset = binary.BigEndian.Uint64(b[32:40])
		dict[i].CompressedSize = binary.BigEndian.Uint32(b[40:44])
		dict[i].UncompressedSize = binary.BigEndian.Uint32(b[44:48])
	}

	reconOff := dictBytes
	recon := make([]uint32, hdr.ReconLen)
	for i := range recon {
		b := tail[reconOff+int64(i)*4 : reconOff+int64(i+1)*4]
		recon[i] = binary.BigEndian.Uint32(b)
	}

	cache, _ := lru.New[[32]byte, []byte](256)

	return &Reader{
		ra:       ra,
		size:     size,
		header:   hdr,
		dict:     dict,
		recon:    recon,
		dictBase: dictBase,
		cache:    cache,
	}, nil
}

// SourceHash returns the whole-file hash the reconstructed output must
// equal.
func (r *Reader) SourceHash() [32]byte { return r.header.SourceHash }

// SourceSize returns the uncompressed size of the reconstructed output.
func (r *Reader) SourceSize() uint64 { return r.header.SourceSize }

// ChunkerParams returns the parameters this archive's chunks were produced
// with, needed to build a compatible Source Index.
func (r *Reader) ChunkerParams() (window, min, avg, max uint32) {
	p := r.header.ChunkerParams
	return p.Window, p.Min, p.Avg, p.Max
}

// UniqueChunks returns the dictionary in on-disk (compressed-offset) order.
func (r *Reader) UniqueChunks() []DictRecord { return r.dict }

// ReconstructionOrder returns dictionary indices in output order; the
// slice may repeat indices when the archive dedupes a chunk used more than
// once by the source file.
func (r *Reader) ReconstructionOrder() []uint32 { return r.recon }

// DictRecordAt exposes one dictionary entry by reconstruction-order index,
// so callers (the Reconstructor) can plan reads/fetches without decoding a
// chunk's bytes yet.
func (r *Reader) DictRecordAt(reconIndex int) DictRecord {
	return r.dict[r.recon[reconIndex]]
}

// ReadChunk fetches, decompresses, and hash-verifies one chunk by its
// dictionary record. A single call to ra.ReadAt is made for the compressed
// span; on a remote-backed Reader that is exactly one ranged request.
func (r *Reader) ReadChunk(rec DictRecord) ([]byte, error) {
	if cached, ok := r.cache.Get(rec.Hash); ok {
		return cached, nil
	}

	start, _ := r.PayloadRange(rec)
	compressed := make([]byte, rec.CompressedSize)
	if _, err := r.ra.ReadAt(compressed, start); err != nil {
		return nil, err
	}

	data, err := gozstd.Decompress(nil, compressed)
	if err != nil {
		return nil, errkinds.ArchiveDecode.New(fmt.Sprintf("decompress chunk: %v", err))
	}

	sum := chunkHash(data)
	if !bytes.Equal(sum[:], rec.Hash[:]) {
		return nil, errkinds.HashMismatch.New(fmt.Sprintf("chunk %x decompressed to unexpected bytes", rec.Hash))
	}

	r.cache.Add(rec.Hash, data)
	return data, nil
}

// PayloadRange returns the absolute byte range, within the archive, that
// holds the compressed bytes for one dictionary record. The Reconstructor
// uses this to plan and coalesce ranged fetches without going through
// ReadChunk (which always issues its own single-span read).
func (r *Reader) PayloadRange(rec DictRecord) (start, length int64) {
	base := r.dictBase + int64(len(r.dict))*dictRecordSize + int64(len(r.recon))*4
	return base + int64(rec.CompressedOffset), int64(rec.CompressedSize)
}

// DecompressVerify decompresses a raw compressed chunk payload obtained out
// of band (e.g. sliced from a coalesced multi-chunk response) and verifies
// it against the expected hash.
func DecompressVerify(compressed []byte, want [32]byte) ([]byte, error) {
	data, err := gozstd.Decompress(nil, compressed)
	if err != nil {
		return nil, errkinds.ArchiveDecode.New(fmt.Sprintf("decompress chunk: %v", err))
	}
	sum := chunkHash(data)
	if sum != want {
		return nil, errkinds.HashMismatch.New(fmt.Sprintf("chunk %x decompressed to unexpected bytes", want))
	}
	return data, nil
}

func chunkHash(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// VerifyChunk checks already-decompressed chunk bytes against the hash the
// dictionary recorded for them. Remote chunks are verified as a side effect
// of DecompressVerify/ReadChunk; this is the same check for bytes a
// Reconstructor read from a local source instead of fetching.
func VerifyChunk(data []byte, want [32]byte) error {
	sum := chunkHash(data)
	if sum != want {
		return errkinds.HashMismatch.New(fmt.Sprintf("chunk %x read from local source does not match its expected hash", want))
	}
	return nil
}
