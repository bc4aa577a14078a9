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

// Package sourceindex builds the transient hash -> location map a
// Reconstructor consults to decide whether a chunk can be read locally
// instead of fetched. It is disposable and scoped to a single target file's
// candidate set.
package sourceindex

import (
	"os"
	"sort"

	"github.com/rednimgames/rose-updater/internal/chunker"
)

// Location names where a reusable chunk's bytes live on the local
// filesystem.
type Location struct {
	Path   string
	Offset uint64
	Length uint32
}

// Index maps a chunk hash to the first local location it was found at.
// Candidates are chunked in the order Build receives them (BuildSorted
// sorts them ascending first), so a fixed order resolves collisions the
// same way every time.
type Index struct {
	byHash map[[32]byte]Location
}

// Build chunks every candidate path with p and inserts hash -> location,
// keeping the first insertion on collision; a candidate that does not
// exist is skipped. Candidates
// are processed in the order given; callers that want determinism across
// runs must pass paths pre-sorted (Build does not sort for them, since a
// single-candidate build is the common case and sorting is free there).
func Build(candidates []string, p chunker.Params) (*Index, error) {
	idx := &Index{byHash: make(map[[32]byte]Location)}
	for _, path := range candidates {
		if err := idx.addFile(path, p); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// BuildSorted is Build with candidates sorted ascending first, for callers
// extending the reuse set to an entire install tree while keeping collision
// resolution deterministic across runs.
func BuildSorted(candidates []string, p chunker.Params) (*Index, error) {
	sorted := append([]string{}, candidates...)
	sort.Strings(sorted)
	return Build(sorted, p)
}

func (idx *Index) addFile(path string, p chunker.Params) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	return chunker.Split(f, p, func(c chunker.Chunk) error {
		if _, exists := idx.byHash[c.Hash]; !exists {
			idx.byHash[c.Hash] = Location{Path: path, Offset: c.Offset, Length: c.Length}
		}
		return nil
	})
}

// Lookup returns the location of hash, if any candidate produced it.
func (idx *Index) Lookup(hash [32]byte) (Location, bool) {
	loc, ok := idx.byHash[hash]
	return loc, ok
}

// Len reports how many distinct chunk hashes were indexed.
func (idx *Index) Len() int { return len(idx.byHash) }
