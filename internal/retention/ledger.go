package retention

import (
	"io/fs"
	"path/filepath"
	"sync/atomic"
)

// Ledger is a running total of bytes occupied by the output tree. Topic
// buffers add bytes on flush, the compactor adjusts for size deltas, and
// the enforcer subtracts on delete. Drift is corrected by Reconcile.
type Ledger struct {
	total atomic.Int64
}

// Add adjusts the running total by delta (negative to subtract).
func (l *Ledger) Add(delta int64) {
	l.total.Add(delta)
}

// Total returns the current running total in bytes.
func (l *Ledger) Total() int64 {
	return l.total.Load()
}

// Reconcile replaces the running total with the result of a full walk of
// root. Files that vanish mid-walk are skipped; a missing root counts as
// zero bytes.
func (l *Ledger) Reconcile(root string) (int64, error) {
	var total int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Tolerate concurrent mutation of the tree.
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return l.Total(), err
	}

	l.total.Store(total)
	return total, nil
}
