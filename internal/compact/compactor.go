// Package compact converts rotated output files to a compressed form.
//
// A file is eligible when its filename's embedded date token is not the
// current UTC date and it still carries the uncompressed extension. No
// catalog is kept: eligibility is recomputed by scan on each pass, which
// makes the operation idempotent and safe to interrupt.
package compact

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/tickvault/internal/clock"
	apperrors "github.com/xtxerr/tickvault/internal/errors"
	"github.com/xtxerr/tickvault/internal/logging"
	"github.com/xtxerr/tickvault/internal/retention"
	"github.com/xtxerr/tickvault/internal/telemetry"
)

// GzipExt is the suffix appended to compressed files.
const GzipExt = ".gz"

// Compactor compresses rotated files on a long period, and once at
// startup to catch files left over from a previous run or crash.
type Compactor struct {
	root    string
	ext     string
	period  time.Duration
	workers int
	ledger  *retention.Ledger
	clock   clock.Clock
	metrics *telemetry.Metrics
	log     *slog.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stats Stats
}

// Stats holds compaction statistics.
type Stats struct {
	PassesRun       atomic.Int64
	FilesCompressed atomic.Int64
	BytesIn         atomic.Int64
	BytesOut        atomic.Int64
	Errors          atomic.Int64
}

// PassResult holds the result of a single compaction pass.
type PassResult struct {
	Eligible   int
	Compressed int
	Failed     int
}

// New creates a compactor for files with the given uncompressed extension
// under root. An empty ext disables compaction entirely (the sink's
// output is already compressed).
func New(root, ext string, period time.Duration, workers int, ledger *retention.Ledger, clk clock.Clock, metrics *telemetry.Metrics) *Compactor {
	if workers <= 0 {
		workers = 1
	}
	return &Compactor{
		root:    root,
		ext:     ext,
		period:  period,
		workers: workers,
		ledger:  ledger,
		clock:   clk,
		metrics: metrics,
		log:     logging.Component("compactor"),
	}
}

// Start runs a startup pass, then launches the periodic loop.
func (c *Compactor) Start() {
	if c.ext == "" {
		c.log.Info("sink output is pre-compressed, compaction disabled")
		return
	}
	if !c.running.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		// Catch files left over from a previous run before waiting a
		// full period.
		c.RunPass(ctx)

		ticker := time.NewTicker(c.period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunPass(ctx)
			}
		}
	}()
}

// Stop interrupts the loop. A pass in progress finishes its in-flight
// files; interrupted work is picked up by the next pass.
func (c *Compactor) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.cancel()
	c.wg.Wait()
}

// RunPass compresses every eligible file once. Files are processed in
// parallel up to the worker limit; a failure on one file never aborts the
// others.
func (c *Compactor) RunPass(ctx context.Context) PassResult {
	c.stats.PassesRun.Add(1)

	today := clock.UTCDate(c.clock.Now())
	eligible := c.findEligible(today)

	result := PassResult{Eligible: len(eligible)}
	if len(eligible) == 0 {
		c.log.Debug("no files eligible for compaction")
		return result
	}

	c.log.Info("compacting rotated files", "count", len(eligible))

	var compressed, failed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, path := range eligible {
		path := path
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := c.compressFile(path); err != nil {
				failed.Add(1)
				c.stats.Errors.Add(1)
				c.log.Warn("compaction failed, skipping file", "path", path, "error", err)
				return nil
			}
			compressed.Add(1)
			return nil
		})
	}
	g.Wait()

	result.Compressed = int(compressed.Load())
	result.Failed = int(failed.Load())
	return result
}

// findEligible lists files under the root whose extension matches and
// whose leading date token is not today. Already-compressed files no
// longer carry the extension and are skipped, which is what makes
// re-running a pass a no-op.
func (c *Compactor) findEligible(today string) []string {
	var eligible []string

	filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, c.ext) {
			return nil
		}
		if strings.HasPrefix(name, today) {
			return nil
		}
		eligible = append(eligible, path)
		return nil
	})

	return eligible
}

// compressFile gzips path to path+".gz" and removes the original on
// success. The ledger is adjusted by the size delta.
func (c *Compactor) compressFile(path string) error {
	gzPath := path + GzipExt

	src, err := os.Open(path)
	if err != nil {
		// The file may have been evicted between listing and opening.
		return apperrors.Persistencef("open %s: %v", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return apperrors.Persistencef("stat %s: %v", path, err)
	}
	srcSize := info.Size()

	dst, err := os.Create(gzPath)
	if err != nil {
		return apperrors.Persistencef("create %s: %v", gzPath, err)
	}

	gw := gzip.NewWriter(dst)
	_, err = io.Copy(gw, src)
	if cerr := gw.Close(); err == nil {
		err = cerr
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(gzPath)
		return apperrors.Persistencef("compress %s: %v", path, err)
	}

	gzInfo, err := os.Stat(gzPath)
	if err != nil {
		return apperrors.Persistencef("stat %s: %v", gzPath, err)
	}

	if err := os.Remove(path); err != nil {
		return apperrors.Persistencef("remove original %s: %v", path, err)
	}

	if c.ledger != nil {
		c.ledger.Add(gzInfo.Size() - srcSize)
	}
	c.stats.FilesCompressed.Add(1)
	c.stats.BytesIn.Add(srcSize)
	c.stats.BytesOut.Add(gzInfo.Size())
	if c.metrics != nil {
		c.metrics.FilesCompacted.Inc()
	}

	c.log.Info("compressed", "path", path,
		"bytes_in", srcSize, "bytes_out", gzInfo.Size())
	return nil
}

// Stats returns a snapshot of compaction statistics.
func (c *Compactor) Stats() CompactorStats {
	return CompactorStats{
		PassesRun:       c.stats.PassesRun.Load(),
		FilesCompressed: c.stats.FilesCompressed.Load(),
		BytesIn:         c.stats.BytesIn.Load(),
		BytesOut:        c.stats.BytesOut.Load(),
		Errors:          c.stats.Errors.Load(),
	}
}

// CompactorStats holds compaction statistics.
type CompactorStats struct {
	PassesRun       int64
	FilesCompressed int64
	BytesIn         int64
	BytesOut        int64
	Errors          int64
}
