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

// Package cliutil renders progress.Events as a single updating terminal
// line: a fixed-width colored bar, plus humanized byte counts. It is a progress.Sink implementation, not a component with
// its own semantics — every byte it prints comes straight from events the
// Orchestrator and Reconstructor already emit.
package cliutil

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/rivo/uniseg"

	"github.com/rednimgames/rose-updater/internal/progress"
)

// Bar is a progress.Sink that renders a single live-updating line to an
// io.Writer (normally os.Stdout).
type Bar struct {
	out      io.Writer
	width    int
	colorize bool

	mu   sync.Mutex
	last string
}

// NewBar builds a Bar writing to out. Color is enabled only when out is a
// real terminal; pipes and redirected output stay plain.
func NewBar(out *os.File) *Bar {
	width := 80
	colorize := !color.NoColor && (isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()))
	return &Bar{out: out, width: width, colorize: colorize}
}

// Emit renders one progress.Event, overwriting the previous line.
func (b *Bar) Emit(e progress.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pct := 0.0
	if e.BytesTotal > 0 {
		pct = float64(e.BytesDone) / float64(e.BytesTotal)
	}
	filled := int(pct * float64(barCells))

	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barCells-filled)
	label := fmt.Sprintf("%-10s %-40s [%s] %s/%s",
		e.Phase, truncateToWidth(e.Path, 40),
		bar,
		humanize.Bytes(uint64(e.BytesDone)),
		humanize.Bytes(uint64(maxInt64(e.BytesTotal, e.BytesDone))),
	)

	if b.colorize {
		label = colorForPhase(e.Phase)(label)
	}

	b.clearLast()
	fmt.Fprint(b.out, label)
	b.last = label
	if e.Phase == progress.Done || e.Phase == progress.Failed {
		fmt.Fprintln(b.out)
		b.last = ""
	}
}

const barCells = 30

func (b *Bar) clearLast() {
	if b.last == "" {
		return
	}
	fmt.Fprint(b.out, "\r"+strings.Repeat(" ", uniseg.StringWidth(b.last))+"\r")
}

func colorForPhase(p progress.Phase) func(string, ...interface{}) string {
	switch p {
	case progress.Done:
		return color.New(color.FgGreen).SprintfFunc()
	case progress.Failed:
		return color.New(color.FgRed).SprintfFunc()
	default:
		return color.New(color.FgCyan).SprintfFunc()
	}
}

// truncateToWidth clips s to at most n display cells, accounting for
// multi-byte runes the way a monospace terminal actually renders them.
func truncateToWidth(s string, n int) string {
	if uniseg.StringWidth(s) <= n {
		return s
	}
	var out []rune
	w := 0
	for _, r := range s {
		rw := uniseg.StringWidth(string(r))
		if w+rw > n-1 {
			break
		}
		out = append(out, r)
		w += rw
	}
	return string(out) + "…"
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
