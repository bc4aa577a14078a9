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
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/dolthub/gozstd"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/rednimgames/rose-updater/internal/chunker"
)

// Writer builds one archive file from a stream of chunks in a single pass.
// It deduplicates chunks by hash, compresses each unique chunk once, and
// defers the header/dictionary to Finish, since their lengths aren't known
// until every chunk has been staged.
type Writer struct {
	out          *os.File
	buf          *bufio.Writer
	level        int
	seen         map[[32]byte]uint32 // hash -> index into dict
	dict         []DictRecord
	recon        []uint32 // indices into dict, in reconstruction order
	bytesWritten uint64
	totalIn      uint64
	params       chunker.Params
}

// NewWriter creates a Writer that stages its payload directly into tmpPath.
// The header and dictionary are written only once Finish is called, since
// the dictionary must be known before the header's lengths can be filled in.
func NewWriter(tmpPath string, p chunker.Params, level int) (*Writer, error) {
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, errors.Wrap(err, "archive: create temp file")
	}
	// Reserve space for the header; it is rewritten in Finish once lengths
	// are known.
	if _, err := f.Write(make([]byte, headerSize)); err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{
		out:    f,
		buf:    bufio.NewWriterSize(f, 1<<20),
		level:  level,
		seen:   make(map[[32]byte]uint32),
		params: p,
	}, nil
}

// AddChunk stages one chunk for the reconstruction order, deduplicating by
// hash. Returns an error only on I/O failure.
func (w *Writer) AddChunk(data []byte, hash [32]byte) error {
	w.totalIn += uint64(len(data))
	if idx, ok := w.seen[hash]; ok {
		w.recon = append(w.recon, idx)
		return nil
	}

	compressed := gozstd.CompressLevel(nil, data, w.level)
	offset := w.bytesWritten
	n, err := w.buf.Write(compressed)
	if err != nil {
		return errors.Wrap(err, "archive: write chunk payload")
	}
	w.bytesWritten += uint64(n)

	rec := DictRecord{
		Hash:             hash,
		CompressedOffset: offset,
		CompressedSize:   uint32(len(compressed)),
		UncompressedSize: uint32(len(data)),
	}
	idx := uint32(len(w.dict))
	w.dict = append(w.dict, rec)
	w.seen[hash] = idx
	w.recon = append(w.recon, idx)
	return nil
}

// Finish writes the dictionary and reconstruction list between the header
// and the staged payload (reading the payload back into memory to move it
// behind them), rewrites the header now that all lengths are known, then
// fsyncs and closes the underlying file.
func (w *Writer) Finish(sourceHash [32]byte) error {
	if err := w.buf.Flush(); err != nil {
		return err
	}

	// The payload was staged straight after the reserved header; the
	// dictionary and reconstruction list go in front of it.
	payload := make([]byte, w.bytesWritten)
	if _, err := w.out.ReadAt(payload, headerSize); err != nil {
		return err
	}
	if _, err := w.out.Seek(headerSize, io.SeekStart); err != nil {
		return err
	}

	// Dictionary is already sorted by CompressedOffset because chunks were
	// appended to the payload in that order.
	for _, rec := range w.dict {
		var tmp [dictRecordSize]byte
		copy(tmp[0:32], rec.Hash[:])
		binary.BigEndian.PutUint64(tmp[32:40], rec.CompressedOffset)
		binary.BigEndian.PutUint32(tmp[40:44], rec.CompressedSize)
		binary.BigEndian.PutUint32(tmp[44:48], rec.UncompressedSize)
		if _, err := w.out.Write(tmp[:]); err != nil {
			return err
		}
	}

	for _, idx := range w.recon {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], idx)
		if _, err := w.out.Write(tmp[:]); err != nil {
			return err
		}
	}
	if _, err := w.out.Write(payload); err != nil {
		return err
	}

	hdr := Header{
		SourceHash:     sourceHash,
		SourceSize:     w.totalIn,
		ChunkerParams:  w.params,
		CompressionAlg: CompressionZstd,
		CompressionLvl: uint16(w.level),
		DictLen:        uint32(len(w.dict)),
		ReconLen:       uint32(len(w.recon)),
	}
	buf := encodeHeader(hdr)
	if _, err := w.out.WriteAt(buf, 0); err != nil {
		return err
	}

	if err := w.out.Sync(); err != nil {
		return err
	}
	return w.out.Close()
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], Magic)
	binary.BigEndian.PutUint16(buf[4:6], Version)
	copy(buf[6:6+hashSize], h.SourceHash[:])
	off := 6 + hashSize
	binary.BigEndian.PutUint64(buf[off:off+8], h.SourceSize)
	off += 8
	binary.BigEndian.PutUint32(buf[off:off+4], h.ChunkerParams.Window)
	off += 4
	binary.BigEndian.PutUint32(buf[off:off+4], h.ChunkerParams.Min)
	off += 4
	binary.BigEndian.PutUint32(buf[off:off+4], h.ChunkerParams.Avg)
	off += 4
	binary.BigEndian.PutUint32(buf[off:off+4], h.ChunkerParams.Max)
	off += 4
	binary.BigEndian.PutUint16(buf[off:off+2], h.CompressionAlg)
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], h.CompressionLvl)
	off += 2
	binary.BigEndian.PutUint32(buf[off:off+4], h.DictLen)
	off += 4
	binary.BigEndian.PutUint32(buf[off:off+4], h.ReconLen)
	return buf
}

// WholeFileHash computes the BLAKE2b-256 digest of an entire byte stream,
// used for both an archive's source_hash and a manifest entry's
// source_hash.
func WholeFileHash(r io.Reader) ([32]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return [32]byte{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
