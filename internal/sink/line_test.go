package sink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLayout_Paths(t *testing.T) {
	l := Layout{Root: "/data"}

	dir := l.Dir("linear", "orderbook.1.BTCUSDT")
	if want := filepath.Join("/data", "linear", "BTCUSDT", "orderbook.1"); dir != want {
		t.Errorf("Dir() = %q, want %q", dir, want)
	}

	file := l.File("linear", "orderbook.1.BTCUSDT", "2026-08-26", ".csv")
	if want := filepath.Join("/data", "linear", "BTCUSDT", "orderbook.1",
		"2026-08-26_orderbook.1.BTCUSDT.csv"); file != want {
		t.Errorf("File() = %q, want %q", file, want)
	}
}

func TestLineSink_AppendCreatesTree(t *testing.T) {
	root := t.TempDir()
	s := NewLineSink(root)

	records := [][]byte{
		[]byte(`{"topic":"publicTrade.BTCUSDT","seq":1}`),
		[]byte(`{"topic":"publicTrade.BTCUSDT","seq":2}`),
	}
	n, err := s.Append("linear", "publicTrade.BTCUSDT", "2026-08-26", records)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	path := filepath.Join(root, "linear", "BTCUSDT", "publicTrade",
		"2026-08-26_publicTrade.BTCUSDT.csv")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}

	want := `{"topic":"publicTrade.BTCUSDT","seq":1}` + "\n" +
		`{"topic":"publicTrade.BTCUSDT","seq":2}` + "\n"
	if string(data) != want {
		t.Errorf("file content = %q, want %q", data, want)
	}
	if n != int64(len(want)) {
		t.Errorf("Append() bytes = %d, want %d", n, len(want))
	}
}

func TestLineSink_AppendIsAppend(t *testing.T) {
	s := NewLineSink(t.TempDir())

	if _, err := s.Append("spot", "tickers.ETHUSDT", "2026-08-26", [][]byte{[]byte("a")}); err != nil {
		t.Fatalf("first Append() error = %v", err)
	}
	if _, err := s.Append("spot", "tickers.ETHUSDT", "2026-08-26", [][]byte{[]byte("b")}); err != nil {
		t.Fatalf("second Append() error = %v", err)
	}

	path := Layout{Root: s.layout.Root}.File("spot", "tickers.ETHUSDT", "2026-08-26", LineExt)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "a\nb\n" {
		t.Errorf("file content = %q, want %q", data, "a\nb\n")
	}
}

func TestLineSink_EmptyBatch(t *testing.T) {
	s := NewLineSink(t.TempDir())

	n, err := s.Append("linear", "tickers.BTCUSDT", "2026-08-26", nil)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Append() bytes = %d, want 0", n)
	}
}
