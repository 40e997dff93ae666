package downloader

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jbrannan/flowgate/pkg/ferr"
)

func rangeServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}
		spec := strings.TrimPrefix(rangeHeader, "bytes=")
		parts := strings.SplitN(spec, "-", 2)
		start, _ := strconv.ParseInt(parts[0], 10, 64)
		end := int64(len(body)) - 1
		if len(parts) > 1 && parts[1] != "" {
			end, _ = strconv.ParseInt(parts[1], 10, 64)
		}
		if start >= int64(len(body)) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if end >= int64(len(body)) {
			end = int64(len(body)) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
}

func TestRun_SingleConnection(t *testing.T) {
	body := []byte(strings.Repeat("x", 4096))
	server := rangeServer(t, body)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	d := New()
	req := Request{
		URL:             server.URL,
		Dest:            dest,
		SizeTotal:       int64(len(body)),
		Connections:     1,
		BufferBytes:     1 << 16,
		WriteBatchBytes: 1 << 16,
		FlushInterval:   50 * time.Millisecond,
		Preallocate:     true,
	}

	var lastDone int64
	err := d.Run(context.Background(), req, func(sizeDone int64, speed float64) {
		lastDone = sizeDone
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if lastDone != int64(len(body)) {
		t.Errorf("expected final progress %d, got %d", len(body), lastDone)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading dest: %v", err)
	}
	if string(got) != string(body) {
		t.Error("downloaded content does not match source")
	}
}

func TestRun_MultiConnection(t *testing.T) {
	body := []byte(strings.Repeat("abcdefgh", 2048)) // 16KiB
	server := rangeServer(t, body)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	d := New()
	req := Request{
		URL:             server.URL,
		Dest:            dest,
		SizeTotal:       int64(len(body)),
		Connections:     4,
		BufferBytes:     1 << 16,
		WriteBatchBytes: 1 << 14,
		FlushInterval:   50 * time.Millisecond,
		Preallocate:     true,
	}

	if err := d.Run(context.Background(), req, func(int64, float64) {}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading dest: %v", err)
	}
	if string(got) != string(body) {
		t.Error("downloaded content does not match source across segments")
	}
}

func TestRun_Resume(t *testing.T) {
	body := []byte(strings.Repeat("y", 8192))
	server := rangeServer(t, body)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	d := New()

	half := int64(len(body)) / 2
	if err := os.WriteFile(dest, body[:half], 0o644); err != nil {
		t.Fatalf("seed partial file: %v", err)
	}

	req := Request{
		URL:             server.URL,
		Dest:            dest,
		SizeTotal:       int64(len(body)),
		Offset:          half,
		Connections:     1,
		BufferBytes:     1 << 16,
		WriteBatchBytes: 1 << 16,
		FlushInterval:   50 * time.Millisecond,
		Preallocate:     true,
	}
	if err := d.Run(context.Background(), req, func(int64, float64) {}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading dest: %v", err)
	}
	if string(got) != string(body) {
		t.Error("resumed download does not match source")
	}
}

// noRangeServer always returns 200 with the full body, ignoring any Range
// header, simulating a server with no range support.
func noRangeServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
}

func TestRun_ResumeAgainstNonRangeServer_RestartsFromZero(t *testing.T) {
	body := []byte(strings.Repeat("z", 8192))
	server := noRangeServer(t, body)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	d := New()

	half := int64(len(body)) / 2
	// Seed the file with garbage at the resume offset: a correct restart
	// must overwrite this, not splice the 200 body in at byte half.
	if err := os.WriteFile(dest, bytes.Repeat([]byte{'x'}, int(half)), 0o644); err != nil {
		t.Fatalf("seed partial file: %v", err)
	}

	req := Request{
		URL:             server.URL,
		Dest:            dest,
		SizeTotal:       int64(len(body)),
		Offset:          half,
		Connections:     1,
		BufferBytes:     1 << 16,
		WriteBatchBytes: 1 << 16,
		FlushInterval:   50 * time.Millisecond,
		Preallocate:     true,
	}
	if err := d.Run(context.Background(), req, func(int64, float64) {}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading dest: %v", err)
	}
	if string(got) != string(body) {
		t.Error("restarted download does not match source; resume garbage was not overwritten")
	}
}

func TestRun_ExpiredURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	d := New()
	req := Request{
		URL:         server.URL,
		Dest:        dest,
		SizeTotal:   1024,
		Connections: 1,
		BufferBytes: 1 << 16,
	}

	err := d.Run(context.Background(), req, func(int64, float64) {})
	if err == nil {
		t.Fatal("expected an error for an expired URL")
	}
	if ferr.KindOf(err) != ferr.UrlExpired {
		t.Errorf("expected UrlExpired, got %v", ferr.KindOf(err))
	}
}

func TestRun_MidTransferDrop(t *testing.T) {
	body := []byte(strings.Repeat("z", 4096))
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(body)-1, len(body)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(body[:len(body)/2])
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", 0, len(body)-1, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	d := New()
	req := Request{
		URL:         server.URL,
		Dest:        dest,
		SizeTotal:   int64(len(body)),
		Connections: 1,
		BufferBytes: 1 << 16,
		Preallocate: true,
	}

	err := d.Run(context.Background(), req, func(int64, float64) {})
	if err == nil {
		t.Fatal("expected an incomplete-transfer error on the truncated first attempt")
	}
	if !ferr.KindOf(err).Transient() {
		t.Errorf("expected a transient error, got %v", ferr.KindOf(err))
	}
}

func TestSplitWindows(t *testing.T) {
	windows := splitWindows(0, 100, 4)
	if len(windows) != 4 {
		t.Fatalf("expected 4 windows, got %d", len(windows))
	}
	if windows[0].start != 0 || windows[len(windows)-1].end != 100 {
		t.Errorf("windows don't cover the full range: %+v", windows)
	}
	for i := 1; i < len(windows); i++ {
		if windows[i].start != windows[i-1].end {
			t.Errorf("windows are not contiguous: %+v", windows)
		}
	}
}

func TestSplitWindows_SingleConnection(t *testing.T) {
	windows := splitWindows(10, 100, 1)
	if len(windows) != 1 || windows[0].start != 10 || windows[0].end != 100 {
		t.Errorf("unexpected single-connection window: %+v", windows)
	}
}
