package r2s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSigningKey_KnownVector(t *testing.T) {
	got := hex.EncodeToString(signingKey("wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", "20120215", "us-east-1", "iam"))
	want := "f4780e2d9f65fa895f9c67b32ce1baf0b0d8a43505a000a1a9e090d414db404d"
	if got != want {
		t.Fatalf("signingKey: got %s want %s", got, want)
	}
}

func TestCleanKey(t *testing.T) {
	cases := map[string]string{
		"matches/m1/header.json": "matches/m1/header.json",
		"\\a\\b":                 "a/b",
		"/../x":                  "x",
		"  ":                     "",
		"./":                     "",
	}
	for in, want := range cases {
		if got := cleanKey(in); got != want {
			t.Fatalf("cleanKey(%q): got %q want %q", in, got, want)
		}
	}
}

func TestClient_PutSignsRequest(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotHash string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "bucket", "AK", "SK")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	body := "hello tide"
	if err := c.Put(context.Background(), "matches/m 1/a.json", strings.NewReader(body), int64(len(body))); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if gotPath != "/bucket/matches/m%201/a.json" {
		t.Fatalf("path: got %s", gotPath)
	}
	sum := sha256.Sum256([]byte(body))
	if gotHash != hex.EncodeToString(sum[:]) || string(gotBody) != body {
		t.Fatalf("payload: hash=%s body=%q", gotHash, gotBody)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AK/20260501/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("authorization: got %s", gotAuth)
	}
}

func TestClient_PutReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "denied", http.StatusForbidden)
	}))
	defer srv.Close()
	c, err := New(srv.URL, "b", "AK", "SK")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = c.Put(context.Background(), "k", strings.NewReader("x"), 1)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("Put: got %v want status 403", err)
	}
}

func TestNew_RequiresFields(t *testing.T) {
	if _, err := New("", "b", "a", "s"); err == nil {
		t.Fatalf("empty endpoint: want error")
	}
	c, err := New("r2.example.com", "b", "a", "s")
	if err != nil || c.endpoint != "https://r2.example.com" {
		t.Fatalf("bare host: got %v err=%v", c, err)
	}
}

type fakePutter struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakePutter) PutFile(ctx context.Context, key, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("flaky")
	}
	f.keys = append(f.keys, key)
	return nil
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func TestMirror_EnqueueDir(t *testing.T) {
	data := t.TempDir()
	dir := filepath.Join(data, "matches", "m1")
	for _, name := range []string{"header.json", "ticks-2026-05-01-12.jsonl.zst", "header.json.tmp", "rounds/round_001/result.json"} {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	fp := &fakePutter{fails: 1}
	m := NewMirror(fp, data, "tidewar/", 2, 16, quiet())
	m.sleep = func(time.Duration) {}
	if err := m.EnqueueDir(dir); err != nil {
		t.Fatalf("EnqueueDir: %v", err)
	}
	m.Close()

	sort.Strings(fp.keys)
	want := []string{
		"tidewar/matches/m1/header.json",
		"tidewar/matches/m1/rounds/round_001/result.json",
		"tidewar/matches/m1/ticks-2026-05-01-12.jsonl.zst",
	}
	if strings.Join(fp.keys, ",") != strings.Join(want, ",") {
		t.Fatalf("keys: got %v want %v", fp.keys, want)
	}
	st := m.Stats()
	if st.EnqueuedTotal != 3 || st.UploadedTotal != 3 || st.FailedTotal != 0 {
		t.Fatalf("stats: got %+v", st)
	}
	m.Enqueue(filepath.Join(dir, "header.json"))
	if m.Stats().EnqueuedTotal != 3 {
		t.Fatalf("enqueue after close: got %d", m.Stats().EnqueuedTotal)
	}
}

func TestMirror_RejectsOutsideDataDir(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "x.json")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fp := &fakePutter{}
	m := NewMirror(fp, t.TempDir(), "", 1, 4, quiet())
	m.Enqueue(outside)
	m.Close()
	if len(fp.keys) != 0 || m.Stats().FailedTotal != 1 {
		t.Fatalf("outside path: keys=%v stats=%+v", fp.keys, m.Stats())
	}
}
