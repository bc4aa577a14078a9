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

// Package errkinds defines the fixed set of error kinds that cross component
// boundaries in the updater. Every kind is distinct, so callers classify a
// failure with the kind's own Is method without parsing strings.
package errkinds

import errors "gopkg.in/src-d/go-errors.v1"

var (
	NetworkTransient   = errors.NewKind("transient network error: %s")
	NetworkFatal       = errors.NewKind("fatal network error: %s")
	ManifestDecode     = errors.NewKind("malformed manifest: %s")
	ArchiveDecode      = errors.NewKind("malformed archive: %s")
	ArchiveMismatch    = errors.NewKind("archive does not match manifest entry: %s")
	HashMismatch       = errors.NewKind("hash mismatch: %s")
	IoError            = errors.NewKind("local I/O error: %s")
	Cancelled          = errors.NewKind("operation cancelled")
	SelfUpdateRaceLost = errors.NewKind("self-update race lost: %s")
)
