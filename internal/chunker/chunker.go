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

// Package chunker splits a byte stream into variable-size content-defined
// chunks. Boundaries are picked by a rolling buzhash over the trailing
// |Window| bytes of input; the process is deterministic for identical
// input bytes and Params, and runs in O(Params.Max) peak memory regardless
// of stream length.
package chunker

import (
	"bufio"
	"io"
	"math/bits"

	"github.com/silvasur/buzhash"
	"golang.org/x/crypto/blake2b"
)

// Params configures chunk boundary selection. Window is the number of
// trailing bytes the rolling hash considers; Min, Avg, and Max bound the
// resulting chunk sizes. The boundary mask is Avg rounded down to a power
// of two, minus one, so Avg is typically a power of two such as 1<<16.
type Params struct {
	Window uint32
	Min    uint32
	Avg    uint32
	Max    uint32
}

// DefaultParams mirrors common game-patcher chunk sizing: small enough to
// reuse partial edits, large enough to keep archive dictionaries small.
var DefaultParams = Params{
	Window: 64,
	Min:    4 * 1024,
	Avg:    64 * 1024,
	Max:    1024 * 1024,
}

func (p Params) mask() uint32 {
	// An Avg of 2^k produces a boundary roughly every 2^k bytes when we
	// require the low k bits of the rolling hash to be zero.
	bitsSet := bits.Len32(p.Avg) - 1
	if bitsSet < 1 {
		bitsSet = 1
	}
	return uint32(1)<<uint(bitsSet) - 1
}

// Chunk describes one boundary found in the input stream.
type Chunk struct {
	Offset uint64
	Length uint32
	Hash   [32]byte
}

// Split reads all of r and invokes emit for every chunk boundary found, in
// stream order. It is streaming: only Params.Max bytes plus the rolling
// window are ever held in memory.
func Split(r io.Reader, p Params, emit func(Chunk) error) error {
	br := bufio.NewReaderSize(r, int(p.Max)+int(p.Window)+4096)
	buf := make([]byte, 0, p.Max)
	h := buzhash.NewBuzHash(p.Window)
	mask := p.mask()

	var offset uint64
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		sum := blake2b.Sum256(buf)
		c := Chunk{Offset: offset, Length: uint32(len(buf)), Hash: sum}
		offset += uint64(len(buf))
		buf = buf[:0]
		h = buzhash.NewBuzHash(p.Window)
		return emit(c)
	}

	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return flush()
		}
		if err != nil {
			return err
		}

		buf = append(buf, b)
		sum := h.HashByte(b)

		if uint32(len(buf)) >= p.Max {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if uint32(len(buf)) < p.Min {
			continue
		}
		if sum&mask == 0 {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// SplitBytes is a convenience wrapper around Split for in-memory input.
func SplitBytes(data []byte, p Params) ([]Chunk, error) {
	var out []Chunk
	err := Split(newByteReader(data), p, func(c Chunk) error {
		out = append(out, c)
		return nil
	})
	return out, err
}

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (b *byteReader) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}
