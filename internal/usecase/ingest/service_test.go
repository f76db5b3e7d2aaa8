package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

func longText(n int) string {
	var sb strings.Builder
	for i := 0; sb.Len() < n; i++ {
		fmt.Fprintf(&sb, "word%d ", i%97)
	}
	return sb.String()[:n]
}

func TestIngest_ChunksAndArchives(t *testing.T) {
	f := newFixture(t)
	path := f.put(t, "a.txt", longText(3000))

	res, err := f.svc.Ingest(context.Background(), path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != "a.txt" || res.ChunksAdded < 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	sets := f.store.chunks("a.txt")
	if len(sets) != 1 || len(sets[0]) != res.ChunksAdded {
		t.Fatalf("store holds %v", sets)
	}
	chunks := sets[0]
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 1000 {
			t.Errorf("chunk %d has %d runes", i, n)
		}
		if i > 0 {
			prev := chunks[i-1]
			if !strings.Contains(c, prev[len(prev)-200:]) {
				t.Errorf("chunks %d and %d share under 200 chars", i-1, i)
			}
		}
	}

	if exists(path) {
		t.Error("inbox file should be moved")
	}
	if !exists(filepath.Join(f.done, "a.txt")) {
		t.Error("file should be archived in done dir")
	}
}

func TestIngest_UnsupportedRemovesFile(t *testing.T) {
	f := newFixture(t)
	path := f.put(t, "photo.png", "binary")

	_, err := f.svc.Ingest(context.Background(), path, "")
	var ufe *domain.UnsupportedFormatError
	if !errors.As(err, &ufe) || ufe.Ext != ".png" {
		t.Fatalf("expected UnsupportedFormatError, got %v", err)
	}
	if exists(path) {
		t.Error("unsupported file should be removed")
	}
	if f.store.upserts != 0 {
		t.Error("store must not be written")
	}
}

func TestIngest_EmptyTextSucceedsWithZeroChunks(t *testing.T) {
	f := newFixture(t)
	path := f.put(t, "blank.md", " \n\t\n ")

	res, err := f.svc.Ingest(context.Background(), path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ChunksAdded != 0 {
		t.Errorf("chunks = %d, want 0", res.ChunksAdded)
	}
	if exists(path) || exists(filepath.Join(f.done, "blank.md")) {
		t.Error("empty file should be removed, not archived")
	}
	if f.store.upserts != 0 {
		t.Error("store must not be written")
	}
}

func TestIngest_ExtractionFailureRemovesFile(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.inbox, "bad.txt")
	if err := os.WriteFile(path, []byte{0xff, 0xfe}, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Ingest(context.Background(), path, "")
	if !errors.Is(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
	if exists(path) {
		t.Error("unreadable file should be removed")
	}
}

func TestIngest_UpsertFailureRemovesFile(t *testing.T) {
	f := newFixture(t)
	f.store.upsertErr = fmt.Errorf("exec: %w", domain.ErrVectorStore)
	path := f.put(t, "a.txt", "some content")

	_, err := f.svc.Ingest(context.Background(), path, "")
	if !errors.Is(err, domain.ErrVectorStore) {
		t.Fatalf("expected ErrVectorStore, got %v", err)
	}
	if exists(path) || exists(filepath.Join(f.done, "a.txt")) {
		t.Error("file should be removed on upsert failure")
	}
}

func TestIngest_MissingFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ingest(context.Background(), filepath.Join(f.inbox, "nope.txt"), "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIngest_ClaimedPathRejected(t *testing.T) {
	f := newFixture(t)
	path := f.put(t, "a.txt", "content")
	f.svc.claim(path)

	if _, err := f.svc.Ingest(context.Background(), path, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if !exists(path) {
		t.Error("claimed file must be left alone")
	}
}

func TestUpload(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Upload(context.Background(), "../../My Notes.txt", strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != "My_Notes.txt" || res.ChunksAdded != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if !exists(filepath.Join(f.done, "My_Notes.txt")) {
		t.Error("upload should be archived under the sanitized name")
	}
}

func TestUpload_Rejections(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Upload(context.Background(), "...", strings.NewReader("x")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty name: expected ErrInvalidInput, got %v", err)
	}

	big := strings.NewReader(strings.Repeat("x", 1<<20+1))
	if _, err := f.svc.Upload(context.Background(), "big.txt", big); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("oversize: expected ErrInvalidInput, got %v", err)
	}
	if exists(filepath.Join(f.inbox, "big.txt")) {
		t.Error("oversize upload should be removed")
	}
}

func TestIngestTwiceThenDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for range 2 {
		if _, err := f.svc.Upload(ctx, "a.txt", strings.NewReader("same document")); err != nil {
			t.Fatal(err)
		}
	}
	if sets := f.store.chunks("a.txt"); len(sets) != 2 {
		t.Fatalf("expected two independent chunk sets, got %d", len(sets))
	}

	if err := f.svc.Delete(ctx, "a.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sources, chunks, err := f.svc.Inventory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 0 || chunks != 0 {
		t.Errorf("inventory after delete: %v, %d", sources, chunks)
	}
	if exists(filepath.Join(f.done, "a.txt")) {
		t.Error("archived file should be deleted")
	}
}

func TestDelete_InvalidSource(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"", "..", "../etc/passwd", `a\b`} {
		if err := f.svc.Delete(context.Background(), name); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("Delete(%q) = %v, want ErrInvalidInput", name, err)
		}
	}
}

func TestDelete_UnknownSourceIsNoop(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Delete(context.Background(), "ghost.txt"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClearAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Upload(ctx, "a.txt", strings.NewReader("content")); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.ClearAll(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, err := os.ReadDir(f.done)
	if err != nil {
		t.Fatalf("done dir should be recreated: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("done dir not empty: %v", entries)
	}
	if sources, _ := f.store.ListSources(ctx); len(sources) != 0 {
		t.Errorf("sources after clear: %v", sources)
	}
}

func TestClearAll_StoreErrorStillClearsDir(t *testing.T) {
	f := newFixture(t)
	f.store.clearErr = fmt.Errorf("drop: %w", domain.ErrVectorStore)
	if err := os.WriteFile(filepath.Join(f.done, "old.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := f.svc.ClearAll(context.Background())
	if !errors.Is(err, domain.ErrVectorStore) {
		t.Fatalf("expected ErrVectorStore, got %v", err)
	}
	if exists(filepath.Join(f.done, "old.txt")) {
		t.Error("done dir should be cleared despite the store error")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"My Report (v2).pdf", "My_Report_v2_.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\notes.md`, "notes.md"},
		{".hidden.txt", "hidden.txt"},
		{"...", ""},
		{"  ", ""},
	}
	for _, tc := range tests {
		if got := SanitizeFilename(tc.in); got != tc.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "sub", "dst.txt")
	if err := os.WriteFile(src, []byte("data"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := moveFile(src, dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "data" {
		t.Errorf("dst = %q, %v", data, err)
	}
	if exists(src) {
		t.Error("src should be gone")
	}
}
