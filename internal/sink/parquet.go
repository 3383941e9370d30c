package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	apperrors "github.com/xtxerr/tickvault/internal/errors"
)

// ParquetExt is the extension of columnar part files.
const ParquetExt = ".parquet"

// Row is the parquet schema for one stream record. The payload is the
// verbatim frame text, so decompressing a part file reproduces the exact
// bytes that arrived (round-trip fidelity matches the line sink).
type Row struct {
	TimestampMs int64  `parquet:"timestamp_ms"`
	Topic       string `parquet:"topic,zstd"`
	Payload     []byte `parquet:"payload,zstd"`
}

// ParquetSink writes each flush as a sequenced, zstd-compressed part file:
//
//	{root}/{group}/{symbol}/{topicBase}/{date}_{topic}.{seq}.parquet
//
// Parquet files cannot be appended in place, so append semantics come from
// the monotonic part sequence. Parts are born compressed; the compactor
// skips them.
type ParquetSink struct {
	layout Layout

	mu   sync.Mutex
	seqs map[string]int // file key (path without seq/ext) → next seq
}

// NewParquetSink creates a parquet sink rooted at root.
func NewParquetSink(root string) *ParquetSink {
	return &ParquetSink{
		layout: Layout{Root: root},
		seqs:   make(map[string]int),
	}
}

// Ext returns "": parquet parts are compressed at write time and are never
// compaction-eligible.
func (s *ParquetSink) Ext() string { return "" }

// Append writes records as one new part file and returns its size.
func (s *ParquetSink) Append(group, topic, date string, records [][]byte) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	dir := s.layout.Dir(group, topic)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, apperrors.Persistencef("create dir %s: %v", dir, err)
	}

	key := filepath.Join(dir, date+"_"+topic)
	seq, err := s.nextSeq(dir, date, topic, key)
	if err != nil {
		return 0, err
	}

	path := fmt.Sprintf("%s.%06d%s", key, seq, ParquetExt)

	now := time.Now().UTC().UnixMilli()
	rows := make([]Row, len(records))
	for i, rec := range records {
		rows[i] = Row{TimestampMs: now, Topic: topic, Payload: rec}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return 0, apperrors.Persistencef("create part %s: %v", path, err)
	}

	writer := parquet.NewGenericWriter[Row](f, parquet.Compression(&parquet.Zstd))
	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		f.Close()
		os.Remove(path)
		return 0, apperrors.Persistencef("write part %s: %v", path, err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return 0, apperrors.Persistencef("close part %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		return 0, apperrors.Persistencef("close part %s: %v", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, apperrors.Persistencef("stat part %s: %v", path, err)
	}

	s.commitSeq(key, seq)
	return info.Size(), nil
}

// nextSeq returns the next part sequence for a file key, scanning the
// directory once per key to resume after a restart.
func (s *ParquetSink) nextSeq(dir, date, topic, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq, ok := s.seqs[key]; ok {
		return seq, nil
	}

	prefix := date + "_" + topic + "."
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, apperrors.Persistencef("scan parts in %s: %v", dir, err)
	}

	next := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ParquetExt) {
			continue
		}
		var seq int
		token := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ParquetExt)
		if _, err := fmt.Sscanf(token, "%d", &seq); err != nil {
			continue
		}
		if seq >= next {
			next = seq + 1
		}
	}

	return next, nil
}

func (s *ParquetSink) commitSeq(key string, used int) {
	s.mu.Lock()
	s.seqs[key] = used + 1
	s.mu.Unlock()
}

// ReadParts reads back the payloads of all part files for a (group, topic,
// date) triple, in part order. Used by verification tooling and tests.
func (s *ParquetSink) ReadParts(group, topic, date string) ([][]byte, error) {
	dir := s.layout.Dir(group, topic)
	prefix := date + "_" + topic + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ParquetExt) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var payloads [][]byte
	for _, name := range names {
		rows, err := readPart(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		for i := range rows {
			payloads = append(payloads, rows[i].Payload)
		}
	}

	return payloads, nil
}

func readPart(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := parquet.NewGenericReader[Row](f)
	defer reader.Close()

	rows := make([]Row, 0, reader.NumRows())
	buf := make([]Row, 64)
	for {
		n, err := reader.Read(buf)
		for i := 0; i < n; i++ {
			row := buf[i]
			row.Payload = append([]byte(nil), row.Payload...)
			rows = append(rows, row)
		}
		if err != nil {
			break
		}
	}

	return rows, nil
}
