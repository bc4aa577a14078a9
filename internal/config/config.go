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

// Package config loads the TOML defaults file both binaries read before
// flags are applied on top: chunker sizing, coalescing, concurrency, and
// launch arguments.
package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/rednimgames/rose-updater/internal/chunker"
	"github.com/rednimgames/rose-updater/internal/reconstruct"
	"github.com/rednimgames/rose-updater/internal/sync"
)

// Config is the on-disk shape of rose-updater.toml.
type Config struct {
	Chunker struct {
		Window uint32 `toml:"window"`
		Min    uint32 `toml:"min"`
		Avg    uint32 `toml:"avg"`
		Max    uint32 `toml:"max"`
	} `toml:"chunker"`

	Transfer struct {
		CoalesceGap         int64 `toml:"coalesce_gap"`
		MaxRequestBytes     int64 `toml:"max_request_bytes"`
		MaxOutstanding      int   `toml:"max_outstanding_requests"`
		ReorderWindowChunks int   `toml:"reorder_window_chunks"`
		ReorderWindowBytes  int64 `toml:"reorder_window_bytes"`
	} `toml:"transfer"`

	Sync struct {
		MaxFilesInFlight int  `toml:"max_files_in_flight"`
		AllowWideReuse   bool `toml:"allow_wide_reuse"`
	} `toml:"sync"`

	Launch struct {
		Args string `toml:"args"` // shell-style string, tokenized with go-shlex
	} `toml:"launch"`
}

// Default returns the config matching every component's own DefaultConfig,
// so a missing rose-updater.toml behaves identically to one that spells
// the defaults out explicitly.
func Default() Config {
	var c Config
	c.Chunker.Window = chunker.DefaultParams.Window
	c.Chunker.Min = chunker.DefaultParams.Min
	c.Chunker.Avg = chunker.DefaultParams.Avg
	c.Chunker.Max = chunker.DefaultParams.Max

	rc := reconstruct.DefaultConfig()
	c.Transfer.CoalesceGap = rc.CoalesceGap
	c.Transfer.MaxRequestBytes = rc.MaxRequestBytes
	c.Transfer.MaxOutstanding = rc.MaxOutstanding
	c.Transfer.ReorderWindowChunks = rc.ReorderWindowChunks
	c.Transfer.ReorderWindowBytes = rc.ReorderWindowBytes

	c.Sync.MaxFilesInFlight = sync.DefaultMaxFilesInFlight
	c.Sync.AllowWideReuse = false
	return c
}

// Load reads path if present, overlaying it onto Default(); a missing file
// is not an error.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, err
	}
	if _, err := toml.Decode(string(data), &c); err != nil {
		return c, err
	}
	return c, nil
}

// ChunkerParams extracts the Chunker section as chunker.Params.
func (c Config) ChunkerParams() chunker.Params {
	return chunker.Params{Window: c.Chunker.Window, Min: c.Chunker.Min, Avg: c.Chunker.Avg, Max: c.Chunker.Max}
}

// ReconstructConfig extracts the Transfer section as reconstruct.Config.
func (c Config) ReconstructConfig() reconstruct.Config {
	return reconstruct.Config{
		CoalesceGap:         c.Transfer.CoalesceGap,
		MaxRequestBytes:     c.Transfer.MaxRequestBytes,
		MaxOutstanding:      c.Transfer.MaxOutstanding,
		ReorderWindowChunks: c.Transfer.ReorderWindowChunks,
		ReorderWindowBytes:  c.Transfer.ReorderWindowBytes,
	}
}
