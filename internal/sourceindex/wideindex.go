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
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/rednimgames/rose-updater/internal/chunker"
)

var chunksBucket = []byte("chunks")
var statBucket = []byte("filestat")

// WideIndex is the opt-in, persistent counterpart to Index: a hash ->
// location map spanning the whole install tree, rebuilt incrementally
// across runs. When enabled, a Reconstructor may borrow chunks from any
// file under install_root, not just the one being replaced.
//
// It is backed by BoltDB so repeated runs don't re-chunk files that
// haven't changed since the last sync; each path's (size, mtime) at the
// time it was indexed is recorded, so a stale entry is detected and
// replaced rather than silently reused.
type WideIndex struct {
	db   *bolt.DB
	root string
}

// OpenWideIndex opens (creating if absent) the persistent index at path,
// scoped to files under root.
func OpenWideIndex(path, root string) (*WideIndex, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(chunksBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(statBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &WideIndex{db: db, root: root}, nil
}

func (w *WideIndex) Close() error { return w.db.Close() }

type fileStat struct {
	Size    int64
	ModUnix int64
}

func encodeFileStat(s fileStat) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(s.Size))
	binary.BigEndian.PutUint64(buf[8:16], uint64(s.ModUnix))
	return buf
}

func decodeFileStat(b []byte) fileStat {
	return fileStat{
		Size:    int64(binary.BigEndian.Uint64(b[0:8])),
		ModUnix: int64(binary.BigEndian.Uint64(b[8:16])),
	}
}

// Refresh ensures the index reflects the current contents of every path in
// paths, rechunking with p only those whose (size, mtime) differ from what
// was last indexed. Stale entries for a changed path are dropped from
// chunksBucket before being re-added, in one bolt transaction per path.
func (w *WideIndex) Refresh(paths []string, p chunker.Params) error {
	for _, path := range paths {
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		cur := fileStat{Size: info.Size(), ModUnix: info.ModTime().Unix()}

		var needsUpdate bool
		err = w.db.View(func(tx *bolt.Tx) error {
			v := tx.Bucket(statBucket).Get([]byte(rel))
			if v == nil {
				needsUpdate = true
				return nil
			}
			needsUpdate = decodeFileStat(v) != cur
			return nil
		})
		if err != nil {
			return err
		}
		if !needsUpdate {
			continue
		}

		chunks, err := chunkFile(path, p)
		if err != nil {
			return err
		}

		err = w.db.Update(func(tx *bolt.Tx) error {
			cb := tx.Bucket(chunksBucket)
			if err := deleteEntriesForPath(cb, rel); err != nil {
				return err
			}
			for _, c := range chunks {
				val := encodeLocation(rel, c.Offset, c.Length)
				if err := cb.Put(c.Hash[:], val); err != nil {
					return err
				}
			}
			return tx.Bucket(statBucket).Put([]byte(rel), encodeFileStat(cur))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func chunkFile(path string, p chunker.Params) ([]chunker.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []chunker.Chunk
	err = chunker.Split(f, p, func(c chunker.Chunk) error {
		out = append(out, c)
		return nil
	})
	return out, err
}

// deleteEntriesForPath removes every chunk record whose stored location
// names path. There is no secondary index from path to hash, so this walks
// the bucket; install trees are large but this only runs when a file's
// (size, mtime) actually changed, which is rare relative to sync runs.
func deleteEntriesForPath(cb *bolt.Bucket, path string) error {
	var toDelete [][]byte
	c := cb.Cursor()
	prefix := []byte(path + "\x00")
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if bytes.HasPrefix(v, prefix) {
			toDelete = append(toDelete, append([]byte{}, k...))
		}
	}
	for _, k := range toDelete {
		if err := cb.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func encodeLocation(path string, offset uint64, length uint32) []byte {
	buf := make([]byte, 0, len(path)+1+8+4)
	buf = append(buf, []byte(path)...)
	buf = append(buf, 0)
	var off [8]byte
	binary.BigEndian.PutUint64(off[:], offset)
	buf = append(buf, off[:]...)
	var ln [4]byte
	binary.BigEndian.PutUint32(ln[:], length)
	buf = append(buf, ln[:]...)
	return buf
}

func decodeLocation(root string, b []byte) Location {
	i := bytes.IndexByte(b, 0)
	rel := string(b[:i])
	offset := binary.BigEndian.Uint64(b[i+1 : i+9])
	length := binary.BigEndian.Uint32(b[i+9 : i+13])
	return Location{Path: filepath.Join(root, rel), Offset: offset, Length: length}
}

// Lookup returns the indexed location of hash, if present anywhere under
// root.
func (w *WideIndex) Lookup(hash [32]byte) (Location, bool) {
	var loc Location
	var found bool
	_ = w.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(chunksBucket).Get(hash[:])
		if v == nil {
			return nil
		}
		found = true
		loc = decodeLocation(w.root, v)
		return nil
	})
	return loc, found
}
