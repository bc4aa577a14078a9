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

// Package progress defines the structured event stream the Orchestrator
// and Reconstructor emit, and the GUI/logger both consume. Neither this
// package nor its callers depend on any particular consumer; Sink is a
// small capability interface so tests can inject an in-memory one.
package progress

// Phase is one stage of processing a single file.
type Phase string

const (
	Planning  Phase = "Planning"
	Fetching  Phase = "Fetching"
	Writing   Phase = "Writing"
	Verifying Phase = "Verifying"
	Done      Phase = "Done"
	Failed    Phase = "Failed"
)

// Event is one structured progress update.
type Event struct {
	Kind       string
	Path       string
	BytesDone  int64
	BytesTotal int64
	Phase      Phase
}

// Sink receives progress events. Emit must not block meaningfully; a slow
// consumer should buffer internally rather than stalling the engine.
type Sink interface {
	Emit(Event)
}

// Discard is a Sink that drops every event, used by callers that don't
// need progress reporting (tests, one-shot CLI invocations without a
// progress bar).
type Discard struct{}

func (Discard) Emit(Event) {}

// Collector is an in-memory Sink for tests: it appends every event it
// sees, in order.
type Collector struct {
	Events []Event
}

func (c *Collector) Emit(e Event) { c.Events = append(c.Events, e) }
