package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// id3Header is a minimal empty ID3v2.3 tag, enough for tools that sniff
// the first bytes of a download.
var id3Header = []byte{'I', 'D', '3', 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// WriteFile fills the target path with the requested number of bytes of
// mp3-shaped content: an ID3v2 header followed by repeated MPEG frame
// sync words. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	frame := []byte{0xFF, 0xFB, 0x90, 0x64}
	buf := make([]byte, 0, 32*1024)
	buf = append(buf, id3Header...)
	for int64(len(buf)) < size && len(buf)+len(frame) <= cap(buf) {
		buf = append(buf, frame...)
	}
	if int64(len(buf)) > size {
		buf = buf[:size]
	}

	remaining := size
	for remaining > 0 {
		chunk := buf
		if remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		if _, err := f.Write(chunk); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= int64(len(chunk))
	}
}
