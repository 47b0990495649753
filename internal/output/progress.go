package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// BatchProgress draws a bar for accounts finished in a refresh
type BatchProgress struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewBatchProgress creates a bar over total accounts written to out
func NewBatchProgress(total int, description string, out io.Writer) *BatchProgress {
	if out == nil {
		out = os.Stderr
	}
	return &BatchProgress{
		out: out,
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		),
	}
}

// Update moves the bar to done; it matches orchestrator.ProgressFunc
func (p *BatchProgress) Update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar.GetMax() != total {
		p.bar.ChangeMax(total)
	}
	_ = p.bar.Set(done)
}

// Finish completes the bar
func (p *BatchProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Finish()
}

// progressReader wraps an io.Reader to track progress
type progressReader struct {
	reader io.Reader
	bar    *progressbar.ProgressBar
}

func newProgressReader(r io.Reader, size int64, description string, out io.Writer) *progressReader {
	return &progressReader{
		reader: r,
		bar: progressbar.NewOptions64(size,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(15),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(out)
			}),
		),
	}
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if addErr := r.bar.Add(n); addErr != nil {
		fmt.Fprintf(os.Stderr, "Error updating progress bar: %v\n", addErr)
	}
	return n, err
}
