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

// Package manifest serializes and deserializes the catalog of files in a
// release (remote) or on a client (local). The wire form is TOML: a
// top-level table plus a sorted array of file entries.
package manifest

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/rednimgames/rose-updater/internal/errkinds"
)

// CurrentVersion is the only manifest schema version this package writes.
const CurrentVersion = 1

// FileEntry is one logical file's catalog record.
type FileEntry struct {
	Path        string `toml:"path"`
	Size        int64  `toml:"size"`
	SourceHash  string `toml:"source_hash"`
	ArchivePath string `toml:"archive_path"`
	ArchiveSize int64  `toml:"archive_size"`
}

// Manifest is the ordered catalog of files, sorted by Path ascending once
// serialized. ProfileKey and VerifiedAt are populated only on the local
// (client-cached) manifest.
type Manifest struct {
	Version    int         `toml:"version"`
	ProfileKey string      `toml:"profile_key,omitempty"`
	VerifiedAt string      `toml:"verified_at,omitempty"`
	Files      []FileEntry `toml:"files"`
}

// SourceHashBytes decodes the entry's hex-encoded source hash into raw bytes.
func (e FileEntry) SourceHashBytes() ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(e.SourceHash)
	if err != nil || len(raw) != 32 {
		return out, errkinds.ManifestDecode.New(fmt.Sprintf("bad source_hash for %s", e.Path))
	}
	copy(out[:], raw)
	return out, nil
}

// EncodeHash renders a strong hash as the lowercase hex form manifests use.
func EncodeHash(h [32]byte) string { return hex.EncodeToString(h[:]) }

// New builds a Manifest from a set of entries, stamping CurrentVersion and
// sorting by path as Save would, so callers constructing one in memory see
// the same order Load would hand back.
func New(profileKey string, files []FileEntry) *Manifest {
	m := &Manifest{Version: CurrentVersion, ProfileKey: profileKey, Files: append([]FileEntry{}, files...)}
	sortEntries(m.Files)
	return m
}

func sortEntries(files []FileEntry) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}

// Load decodes manifest bytes. Unknown top-level fields are tolerated by
// toml's default decode behavior. A file entry with a missing path, or a
// missing or malformed source_hash, is a ManifestDecode error; the other
// entry fields are not checked and decode to their zero values when absent.
func Load(data []byte) (*Manifest, error) {
	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, errkinds.ManifestDecode.New(err.Error())
	}
	for _, f := range m.Files {
		if f.Path == "" {
			return nil, errkinds.ManifestDecode.New("file entry missing path")
		}
		if f.SourceHash == "" {
			return nil, errkinds.ManifestDecode.New(fmt.Sprintf("file entry %s missing source_hash", f.Path))
		}
		if _, err := f.SourceHashBytes(); err != nil {
			return nil, err
		}
	}
	sortEntries(m.Files)
	return &m, nil
}

// Save serializes m with stable path-ascending ordering.
func Save(m *Manifest) ([]byte, error) {
	sortEntries(m.Files)
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Lookup returns the entry for path, or (zero, false) if absent. Manifest
// paths are unique, so the first match is the only match.
func (m *Manifest) Lookup(path string) (FileEntry, bool) {
	// Files are sorted; a linear scan is simplest and manifests are at most
	// a few tens of thousands of entries for a game install.
	for _, f := range m.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}

// Stamp sets VerifiedAt to the given time in RFC 3339, used when rewriting
// the local manifest after a successful sync run.
func (m *Manifest) Stamp(at time.Time) {
	m.VerifiedAt = at.UTC().Format(time.RFC3339)
}

// Upsert replaces the entry sharing e.Path, or appends e if no such entry
// exists, re-sorting afterward. Used to record a single file's new state
// (e.g. the updater binary right after it replaces itself) without waiting
// for a full-tree recheck to rebuild the rest of the manifest.
func (m *Manifest) Upsert(e FileEntry) {
	for i, f := range m.Files {
		if f.Path == e.Path {
			m.Files[i] = e
			sortEntries(m.Files)
			return
		}
	}
	m.Files = append(m.Files, e)
	sortEntries(m.Files)
}
