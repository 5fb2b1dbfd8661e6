// Copyright 2025 Poiesic Systems
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

package ingestion

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/poiesic/docingest/core"
)

// ProgressReporter is an Observer that writes batch progress to a writer.
// It reports real per-stage state: how many documents are in each stage
// and how many have finished.
type ProgressReporter struct {
	writer    io.Writer
	total     int
	stages    map[core.State]int
	done      int
	failed    int
	startTime time.Time
	started   bool
	mu        sync.Mutex
}

var _ Observer = (*ProgressReporter)(nil)

// NewProgressReporter creates a new progress reporter.
// writer: where to write progress output (typically os.Stderr)
// total: number of documents in the batch
func NewProgressReporter(writer io.Writer, total int) *ProgressReporter {
	return &ProgressReporter{
		writer: writer,
		total:  total,
		stages: make(map[core.State]int),
	}
}

// Start begins tracking progress.
func (p *ProgressReporter) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.done = 0
	p.failed = 0
	clear(p.stages)
}

// OnTransition updates the counters and reports.
func (p *ProgressReporter) OnTransition(t core.Transition) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	if t.From != 0 && p.stages[t.From] > 0 {
		p.stages[t.From]--
	}
	switch t.To {
	case core.StateDone:
		p.done++
	case core.StateFailed:
		p.failed++
	default:
		p.stages[t.To]++
	}

	p.report()
}

// Finish prints final progress followed by a newline.
func (p *ProgressReporter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.report()
	fmt.Fprintln(p.writer)
	p.started = false
}

// Counts returns the number of stored and failed documents so far.
func (p *ProgressReporter) Counts() (done, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.failed
}

// Elapsed returns the time elapsed since Start was called.
func (p *ProgressReporter) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}

	return time.Since(p.startTime)
}

// report prints the current progress. Must be called with lock held.
func (p *ProgressReporter) report() {
	finished := p.done + p.failed

	percentage := 0.0
	if p.total > 0 {
		percentage = float64(finished) / float64(p.total) * 100.0
	}

	fmt.Fprintf(p.writer, "\rProgress: %d/%d (%.1f%%) - %d stored, %d failed, %d extracting, %d embedding",
		finished, p.total, percentage, p.done, p.failed,
		p.stages[core.StateExtracting], p.stages[core.StateEmbedding])
}
