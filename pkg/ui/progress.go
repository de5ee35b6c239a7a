package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gosuri/uilive"
)

// BatchProgress renders the download scheduler's progress on one live
// terminal line.
type BatchProgress struct {
	mu         sync.Mutex
	writer     *uilive.Writer
	interval   time.Duration
	lastRender time.Time
	startTime  time.Time

	batch     int
	batches   int
	size      int
	completed int
	bytes     int64
	total     int64
}

// NewBatchProgress creates a display writing to out
func NewBatchProgress(out io.Writer) *BatchProgress {
	w := uilive.New()
	w.Out = out
	return &BatchProgress{
		writer:    w,
		interval:  100 * time.Millisecond,
		startTime: time.Now(),
	}
}

// StartBatch resets the per-batch counters
func (p *BatchProgress) StartBatch(batch, batches, size int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batch, p.batches, p.size = batch, batches, size
	p.completed, p.bytes = 0, 0
	p.render()
}

// Update records progress inside the current batch. Renders are throttled.
func (p *BatchProgress) Update(completed int, bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if completed > p.completed {
		p.completed = completed
	}
	if bytes > p.bytes {
		p.bytes = bytes
	}
	if time.Since(p.lastRender) >= p.interval {
		p.render()
	}
}

// FinishBatch renders the final state of a batch
func (p *BatchProgress) FinishBatch(completed int, bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completed = completed
	p.bytes = bytes
	p.total += bytes
	p.render()
}

// Complete prints the run summary below the live line
func (p *BatchProgress) Complete(downloaded, skipped, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := fmt.Sprintf("%s %d downloaded • %d already present • %s in %s",
		Green("✓"), downloaded, skipped, FormatBytes(p.total), formatDuration(time.Since(p.startTime)))
	if failed > 0 {
		line += " • " + Red(fmt.Sprintf("%d failed", failed))
	}
	fmt.Fprintln(p.writer.Newline(), line)
	_ = p.writer.Flush()
}

func (p *BatchProgress) render() {
	const barWidth = 20
	filled := 0
	if p.size > 0 {
		filled = p.completed * barWidth / p.size
	}
	bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)

	fmt.Fprintf(p.writer, "%s batch %d/%d [%s] %d/%d • %s\n",
		Cyan("media"), p.batch, p.batches, bar, p.completed, p.size, FormatBytes(p.bytes))
	_ = p.writer.Flush()
	p.lastRender = time.Now()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
