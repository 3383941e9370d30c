// Package sink provides append-capable, path-addressable persistence for
// serialized stream records.
//
// Two implementations exist behind the Sink interface: LineSink appends
// newline-delimited records to date-stamped .csv files (compressed later
// by the compactor), and ParquetSink writes columnar part files that are
// compressed at write time.
package sink

import (
	"path/filepath"

	"github.com/xtxerr/tickvault/internal/manifest"
)

// Sink persists one flush of serialized records for a (group, topic, date)
// triple and reports the bytes added to the output tree.
type Sink interface {
	// Append durably appends records in order. It creates parent
	// directories as needed and returns the number of bytes the output
	// tree grew by.
	Append(group, topic, date string, records [][]byte) (int64, error)

	// Ext returns the uncompressed filename extension this sink writes,
	// e.g. ".csv". The compactor uses it for eligibility; sinks whose
	// output is already compressed return "".
	Ext() string
}

// Layout derives output paths from the storage root:
//
//	{root}/{group}/{symbol}/{topicBase}/{date}_{topic}{ext}
type Layout struct {
	Root string
}

// Dir returns the directory holding a topic's output files.
func (l Layout) Dir(group, topic string) string {
	base, symbol := manifest.SplitTopic(topic)
	return filepath.Join(l.Root, group, symbol, base)
}

// File returns the output path for one (group, topic, date) triple.
func (l Layout) File(group, topic, date, ext string) string {
	return filepath.Join(l.Dir(group, topic), date+"_"+topic+ext)
}
