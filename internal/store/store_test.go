package store

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestStore(t *testing.T, now time.Time) (*FrameStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s.WithClock(fixedClock(now)), dir
}

func TestFileName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 2, 0, time.Local)
	if got := FileName(ts, 0); got != "raspi-camera-20240309070502.jpg" {
		t.Errorf("FileName(0) = %q", got)
	}
	if got := FileName(ts, 2); got != "raspi-camera-20240309070502-2.jpg" {
		t.Errorf("FileName(2) = %q", got)
	}
}

func TestSave_WritesAllBytes(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 2, 0, time.Local)
	s, dir := newTestStore(t, ts)
	frame := []byte("\xff\xd8fake jpeg\xff\xd9")

	img, err := s.Save(frame)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if img.Name != "raspi-camera-20240309070502.jpg" {
		t.Errorf("Name = %q", img.Name)
	}
	if img.Path != filepath.Join(dir, img.Name) {
		t.Errorf("Path = %q, want under %q", img.Path, dir)
	}
	if !filepath.IsAbs(img.Path) {
		t.Errorf("Path should be absolute: %q", img.Path)
	}
	if img.Size != int64(len(frame)) || !img.CreatedAt.Equal(ts) {
		t.Errorf("unexpected metadata: %+v", img)
	}

	// The path is safe to open immediately.
	data, err := os.ReadFile(img.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, frame) {
		t.Errorf("file contents differ")
	}
}

func TestSave_DistinctSecondsDistinctFiles(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 2, 0, time.Local)
	s, dir := newTestStore(t, ts)

	first, err := s.Save([]byte("one"))
	if err != nil {
		t.Fatalf("Save 1: %v", err)
	}
	s.WithClock(fixedClock(ts.Add(time.Second)))
	second, err := s.Save([]byte("two"))
	if err != nil {
		t.Fatalf("Save 2: %v", err)
	}

	if first.Path == second.Path {
		t.Fatalf("saves at different seconds share a path: %s", first.Path)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("expected 2 files, got %d", len(entries))
	}
	if data, _ := os.ReadFile(first.Path); string(data) != "one" {
		t.Errorf("first file overwritten: %q", data)
	}
}

func TestSave_SameSecondNeverOverwrites(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 2, 0, time.Local)
	s, _ := newTestStore(t, ts)

	names := map[string]bool{}
	for i := 0; i < 3; i++ {
		img, err := s.Save([]byte{byte(i)})
		if err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
		if names[img.Name] {
			t.Fatalf("name reused: %s", img.Name)
		}
		names[img.Name] = true
	}
	for _, want := range []string{
		"raspi-camera-20240309070502.jpg",
		"raspi-camera-20240309070502-1.jpg",
		"raspi-camera-20240309070502-2.jpg",
	} {
		if !names[want] {
			t.Errorf("missing %s in %v", want, names)
		}
	}
}

func TestSave_MissingDirectory(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "static"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = s.Save([]byte("x"))
	var saveErr *SaveError
	if !errors.As(err, &saveErr) {
		t.Fatalf("expected *SaveError, got %T %v", err, err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist cause, got %v", err)
	}
	if _, statErr := os.Stat(s.Dir()); !os.IsNotExist(statErr) {
		t.Error("store must not create its directory")
	}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)
	if err := s.Check(); err != nil {
		t.Errorf("Check on existing dir: %v", err)
	}

	file := filepath.Join(dir, "plain")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	s, _ = New(file)
	if err := s.Check(); err == nil {
		t.Error("Check on a file should fail")
	}

	s, _ = New(filepath.Join(dir, "missing"))
	if err := s.Check(); err == nil {
		t.Error("Check on missing dir should fail")
	}
}
