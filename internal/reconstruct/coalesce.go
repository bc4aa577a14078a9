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

// Package reconstruct rebuilds one target file from its chunk archive: for one
// target file, diff its archive's chunk list against a Source Index, issue
// local reads and coalesced ranged fetches, and stream a verified,
// bit-identical output file into place.
package reconstruct

import "github.com/rednimgames/rose-updater/internal/archive"

// DefaultCoalesceGap is the maximum byte distance between two remote
// chunks' compressed spans that still lets them merge into one HTTP Range
// request.
const DefaultCoalesceGap = 1 << 20 // 1 MiB

// DefaultMaxRequestBytes caps a single coalesced request's span.
const DefaultMaxRequestBytes = 16 << 20 // 16 MiB

// Batch is one coalesced ranged fetch: a contiguous archive byte span
// covering one or more dictionary records, in ascending CompressedOffset
// order (the order archive.Writer laid them out in).
type Batch struct {
	Start   int64
	Length  int64
	Records []archive.DictRecord
}

// CoalesceMissing groups the dictionary records not present in a Source
// Index into minimal-request batches: adjacent records (or records
// separated by at most gapMax bytes of archive padding) merge into one
// request, capped at maxBytes per request. Records must already be in
// ascending CompressedOffset order, which archive.Reader guarantees.
func CoalesceMissing(rdr *archive.Reader, missing []archive.DictRecord, gapMax, maxBytes int64) []Batch {
	if len(missing) == 0 {
		return nil
	}

	var batches []Batch
	cur := Batch{Records: []archive.DictRecord{missing[0]}}
	curStart, curLen := rdr.PayloadRange(missing[0])
	cur.Start = curStart
	cur.Length = curLen

	for _, rec := range missing[1:] {
		start, length := rdr.PayloadRange(rec)
		gap := start - (cur.Start + cur.Length)
		merged := cur.Length + gap + length

		if gap <= gapMax && merged <= maxBytes {
			cur.Length = merged
			cur.Records = append(cur.Records, rec)
			continue
		}

		batches = append(batches, cur)
		cur = Batch{Start: start, Length: length, Records: []archive.DictRecord{rec}}
	}
	batches = append(batches, cur)
	return batches
}

// Split slices a coalesced response body back into each record's
// compressed bytes, in the same order CoalesceMissing listed them.
func (b Batch) Split(body []byte) map[[32]byte][]byte {
	out := make(map[[32]byte][]byte, len(b.Records))
	base := b.Records[0].CompressedOffset
	for _, rec := range b.Records {
		start := int64(rec.CompressedOffset - base)
		out[rec.Hash] = body[start : start+int64(rec.CompressedSize)]
	}
	return out
}
