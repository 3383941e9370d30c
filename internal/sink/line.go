package sink

import (
	"bytes"
	"os"

	apperrors "github.com/xtxerr/tickvault/internal/errors"
)

// LineExt is the extension of line-delimited output files.
const LineExt = ".csv"

// LineSink appends records as newline-delimited text, one record per line
// with a trailing delimiter, to a per-(topic, date) file.
type LineSink struct {
	layout Layout
}

// NewLineSink creates a line sink rooted at root.
func NewLineSink(root string) *LineSink {
	return &LineSink{layout: Layout{Root: root}}
}

// Ext returns ".csv".
func (s *LineSink) Ext() string { return LineExt }

// Append appends all records to the (group, topic, date) file in order.
// The whole batch is written with a single write call so a concurrent
// reader never observes a torn line boundary between flushes.
func (s *LineSink) Append(group, topic, date string, records [][]byte) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	dir := s.layout.Dir(group, topic)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, apperrors.Persistencef("create dir %s: %v", dir, err)
	}

	var buf bytes.Buffer
	for _, rec := range records {
		buf.Write(rec)
		buf.WriteByte('\n')
	}

	path := s.layout.File(group, topic, date, LineExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, apperrors.Persistencef("open %s: %v", path, err)
	}

	n, err := f.Write(buf.Bytes())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return int64(n), apperrors.Persistencef("append %s: %v", path, err)
	}

	return int64(n), nil
}
