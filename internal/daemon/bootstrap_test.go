package daemon

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestRotateLogBelowThresholdIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilotty.log")
	if err := os.WriteFile(path, []byte("small"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := RotateLog(path, 1024); err != nil {
		t.Fatalf("RotateLog: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "small" {
		t.Errorf("log rewritten: %q", data)
	}
	if _, err := os.Stat(path + ".1.zst"); !os.IsNotExist(err) {
		t.Error("no rotation expected below threshold")
	}
}

func TestRotateLogCompressesAndTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilotty.log")
	payload := bytes.Repeat([]byte("log line about sessions\n"), 200)
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := RotateLog(path, 100); err != nil {
		t.Fatalf("RotateLog: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat log: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("log not truncated, size = %d", info.Size())
	}

	compressed, err := os.ReadFile(path + ".1.zst")
	if err != nil {
		t.Fatalf("rotated file missing: %v", err)
	}
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("open decoder: %v", err)
	}
	defer dec.Close()
	out := new(bytes.Buffer)
	if _, err := out.ReadFrom(dec.IOReadCloser()); err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Error("rotated content does not round-trip")
	}
}

func TestRemoveStaleSocketLeavesRegularFiles(t *testing.T) {
	dir := t.TempDir()
	regular := filepath.Join(dir, "pilotty.sock")
	if err := os.WriteFile(regular, []byte("not a socket"), 0o600); err != nil {
		t.Fatal(err)
	}
	removeStaleSocket(regular)
	if _, err := os.Stat(regular); err != nil {
		t.Error("regular file should not be removed")
	}
}
