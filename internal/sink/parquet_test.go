package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParquetSink_RoundTrip(t *testing.T) {
	s := NewParquetSink(t.TempDir())

	records := [][]byte{
		[]byte(`{"topic":"publicTrade.BTCUSDT","seq":1}`),
		[]byte(`{"topic":"publicTrade.BTCUSDT","seq":2}`),
		[]byte(`{"topic":"publicTrade.BTCUSDT","seq":3}`),
	}
	n, err := s.Append("linear", "publicTrade.BTCUSDT", "2026-08-26", records)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if n <= 0 {
		t.Errorf("Append() bytes = %d, want positive", n)
	}

	got, err := s.ReadParts("linear", "publicTrade.BTCUSDT", "2026-08-26")
	if err != nil {
		t.Fatalf("ReadParts() error = %v", err)
	}
	if !reflect.DeepEqual(got, records) {
		t.Errorf("ReadParts() = %s, want %s", got, records)
	}
}

func TestParquetSink_SequencedParts(t *testing.T) {
	root := t.TempDir()
	s := NewParquetSink(root)

	for i := 0; i < 3; i++ {
		rec := [][]byte{[]byte(fmt.Sprintf(`{"seq":%d}`, i))}
		if _, err := s.Append("linear", "tickers.BTCUSDT", "2026-08-26", rec); err != nil {
			t.Fatalf("Append() #%d error = %v", i, err)
		}
	}

	dir := filepath.Join(root, "linear", "BTCUSDT", "tickers")
	for i := 0; i < 3; i++ {
		part := filepath.Join(dir, fmt.Sprintf("2026-08-26_tickers.BTCUSDT.%06d.parquet", i))
		if _, err := os.Stat(part); err != nil {
			t.Errorf("part file %s missing: %v", part, err)
		}
	}

	// Order across parts is preserved on read.
	got, err := s.ReadParts("linear", "tickers.BTCUSDT", "2026-08-26")
	if err != nil {
		t.Fatalf("ReadParts() error = %v", err)
	}
	want := [][]byte{[]byte(`{"seq":0}`), []byte(`{"seq":1}`), []byte(`{"seq":2}`)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadParts() = %s, want %s", got, want)
	}
}

func TestParquetSink_ResumesSequenceAfterRestart(t *testing.T) {
	root := t.TempDir()

	first := NewParquetSink(root)
	if _, err := first.Append("spot", "tickers.ETHUSDT", "2026-08-26", [][]byte{[]byte("a")}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// A fresh sink over the same root must not clobber existing parts.
	second := NewParquetSink(root)
	if _, err := second.Append("spot", "tickers.ETHUSDT", "2026-08-26", [][]byte{[]byte("b")}); err != nil {
		t.Fatalf("Append() after restart error = %v", err)
	}

	got, err := second.ReadParts("spot", "tickers.ETHUSDT", "2026-08-26")
	if err != nil {
		t.Fatalf("ReadParts() error = %v", err)
	}
	want := [][]byte{[]byte("a"), []byte("b")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadParts() = %s, want %s", got, want)
	}
}

func TestParquetSink_NoCompactionExt(t *testing.T) {
	if ext := NewParquetSink(t.TempDir()).Ext(); ext != "" {
		t.Errorf("Ext() = %q, want empty (output is pre-compressed)", ext)
	}
}
