// Package retention enforces the byte budget of the persisted output tree
// by deleting the oldest files first.
package retention

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tickvault/internal/clock"
	"github.com/xtxerr/tickvault/internal/logging"
	"github.com/xtxerr/tickvault/internal/telemetry"
)

// Enforcer periodically checks the output tree against a byte budget and
// deletes oldest-modified files until the total is back under. Files whose
// embedded date token equals the current UTC date are exempt: a topic
// buffer may still be appending to them.
type Enforcer struct {
	root    string
	budget  int64
	period  time.Duration
	ledger  *Ledger
	clock   clock.Clock
	metrics *telemetry.Metrics
	log     *slog.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stats Stats
}

// Stats holds retention statistics.
type Stats struct {
	PassesRun    atomic.Int64
	FilesDeleted atomic.Int64
	BytesFreed   atomic.Int64
	FilesSkipped atomic.Int64
	Errors       atomic.Int64
}

// PassResult holds the result of a single enforcement pass.
type PassResult struct {
	TotalBefore  int64
	TotalAfter   int64
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
}

// New creates a retention enforcer.
func New(root string, budget int64, period time.Duration, ledger *Ledger, clk clock.Clock, metrics *telemetry.Metrics) *Enforcer {
	return &Enforcer{
		root:    root,
		budget:  budget,
		period:  period,
		ledger:  ledger,
		clock:   clk,
		metrics: metrics,
		log:     logging.Component("retention"),
	}
}

// Start launches the enforcement loop.
func (e *Enforcer) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go e.loop(ctx)
}

// Stop halts the loop. A pass in progress is interrupted at the next file;
// passes are idempotent and resume correctly on the next run.
func (e *Enforcer) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.cancel()
	e.wg.Wait()
}

func (e *Enforcer) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunPass(ctx)
		}
	}
}

// RunPass reconciles the ledger and, if the total exceeds the budget,
// deletes oldest-modified non-exempt files until it does not.
func (e *Enforcer) RunPass(ctx context.Context) PassResult {
	e.stats.PassesRun.Add(1)

	// Full-walk reconcile each pass keeps the incremental counter honest.
	total, err := e.ledger.Reconcile(e.root)
	if err != nil {
		e.stats.Errors.Add(1)
		e.log.Warn("ledger reconcile failed", "error", err)
	}

	result := PassResult{TotalBefore: total, TotalAfter: total}
	if total <= e.budget {
		return result
	}

	e.log.Info("over budget, evicting oldest files",
		"total_bytes", total, "budget_bytes", e.budget)

	today := clock.UTCDate(e.clock.Now())
	files := e.listByAge()

	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		// Once a pass triggers, evict until strictly under budget so the
		// tree has headroom before the next check.
		if e.ledger.Total() < e.budget {
			break
		}

		if isExempt(f.name, today) {
			result.FilesSkipped++
			e.stats.FilesSkipped.Add(1)
			continue
		}

		if err := os.Remove(f.path); err != nil {
			// The file may have been compacted away mid-pass.
			e.stats.Errors.Add(1)
			e.log.Warn("delete failed", "path", f.path, "error", err)
			continue
		}

		e.ledger.Add(-f.size)
		result.FilesDeleted++
		result.BytesFreed += f.size
		e.stats.FilesDeleted.Add(1)
		e.stats.BytesFreed.Add(f.size)
		if e.metrics != nil {
			e.metrics.FilesEvicted.Inc()
			e.metrics.BytesEvicted.Add(float64(f.size))
		}
		e.log.Info("evicted", "path", f.path, "bytes_freed", f.size,
			"remaining_bytes", e.ledger.Total())
	}

	result.TotalAfter = e.ledger.Total()
	if result.TotalAfter > e.budget {
		e.log.Warn("still over budget, only active files remain",
			"total_bytes", result.TotalAfter, "budget_bytes", e.budget)
	}

	return result
}

// Stats returns a snapshot of enforcement statistics.
func (e *Enforcer) Stats() EnforcerStats {
	return EnforcerStats{
		PassesRun:    e.stats.PassesRun.Load(),
		FilesDeleted: e.stats.FilesDeleted.Load(),
		BytesFreed:   e.stats.BytesFreed.Load(),
		FilesSkipped: e.stats.FilesSkipped.Load(),
		Errors:       e.stats.Errors.Load(),
	}
}

// EnforcerStats holds enforcement statistics.
type EnforcerStats struct {
	PassesRun    int64
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// fileInfo holds information about a candidate file.
type fileInfo struct {
	name  string
	path  string
	size  int64
	mtime time.Time
}

// listByAge lists all files under the root sorted by modification time,
// oldest first. Files that vanish mid-walk are skipped.
func (e *Enforcer) listByAge() []fileInfo {
	var files []fileInfo

	filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileInfo{
			name:  d.Name(),
			path:  path,
			size:  info.Size(),
			mtime: info.ModTime(),
		})
		return nil
	})

	sort.Slice(files, func(i, j int) bool {
		return files[i].mtime.Before(files[j].mtime)
	})

	return files
}

// isExempt reports whether a filename belongs to today's active output.
// Output filenames embed the date as a leading YYYY-MM-DD token.
func isExempt(name, today string) bool {
	return strings.HasPrefix(name, today)
}
