package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressReporter renders per-phase item progress. Update matches the
// driver's progress callback.
type ProgressReporter interface {
	Update(runID, phase string, done, total int)
	Finish()
}

// SimpleProgress implements a single-line text progress bar per phase.
type SimpleProgress struct {
	mu      sync.Mutex
	writer  io.Writer
	phase   string
	total   int
	current int
	started time.Time
}

// NewProgressReporter creates a new progress reporter that writes to w.
// If w is nil, it defaults to os.Stderr.
func NewProgressReporter(w io.Writer) ProgressReporter {
	if w == nil {
		w = os.Stderr
	}
	return &SimpleProgress{writer: w}
}

// Update records that done of total items of phase are processed.
func (p *SimpleProgress) Update(runID, phase string, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if phase != p.phase {
		if p.phase != "" {
			fmt.Fprintln(p.writer)
		}
		p.phase = phase
		p.started = time.Now()
	}
	p.total = total
	p.current = done
	p.render()
}

// Finish ends the current line.
func (p *SimpleProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != "" {
		fmt.Fprintln(p.writer)
		p.phase = ""
	}
}

func (p *SimpleProgress) render() {
	if p.total == 0 {
		return
	}

	percent := float64(p.current) / float64(p.total) * 100
	barWidth := 30
	filled := min(int(float64(barWidth)*percent/100), barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	rate := 0.0
	if elapsed := time.Since(p.started).Seconds(); elapsed > 0 {
		rate = float64(p.current) / elapsed
	}

	fmt.Fprintf(p.writer, "\r%-12s [%s] %5.1f%% (%d/%d) %.1f items/s",
		p.phase, bar, percent, p.current, p.total, rate)
}
