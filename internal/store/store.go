package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cjeanneret/RaspiCam/internal/debug"
)

const (
	filePrefix = "raspi-camera-"
	fileExt    = ".jpg"
	timeLayout = "20060102150405"

	// maxSuffix bounds the search for a free name within one second.
	maxSuffix = 999
)

// StoredImage is a frame that has been fully written to disk.
// Path is its identity for every downstream consumer.
type StoredImage struct {
	Path      string    // absolute path
	Name      string    // base filename
	CreatedAt time.Time // wall clock used for the name
	Size      int64
}

// SaveError reports why a frame could not be persisted
// (missing directory, permission denied, disk full, ...).
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save frame to %s: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// FrameStore writes captured frames under a fixed directory.
// The directory must already exist; the store never creates it.
type FrameStore struct {
	dir string
	now func() time.Time
}

// New returns a store rooted at dir. Relative paths are resolved against
// the process working directory.
func New(dir string) (*FrameStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve store directory %q: %w", dir, err)
	}
	return &FrameStore{dir: abs, now: time.Now}, nil
}

// WithClock replaces the wall clock used for filenames.
func (s *FrameStore) WithClock(now func() time.Time) *FrameStore {
	s.now = now
	return s
}

// Dir returns the absolute directory frames are written to.
func (s *FrameStore) Dir() string { return s.dir }

// Check reports whether the directory exists and is a directory.
func (s *FrameStore) Check() error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return &SaveError{Path: s.dir, Err: err}
	}
	if !info.IsDir() {
		return &SaveError{Path: s.dir, Err: fmt.Errorf("not a directory")}
	}
	return nil
}

// FileName returns the name for a frame taken at t. suffix 0 gives the
// plain name; n > 0 appends "-n" before the extension.
func FileName(t time.Time, suffix int) string {
	if suffix == 0 {
		return filePrefix + t.Format(timeLayout) + fileExt
	}
	return fmt.Sprintf("%s%s-%d%s", filePrefix, t.Format(timeLayout), suffix, fileExt)
}

// Save writes frame to a new file and returns once the data is fsynced and
// the file closed. An existing file is never overwritten: if the plain name
// for this second is taken, a numeric suffix is added.
func (s *FrameStore) Save(frame []byte) (StoredImage, error) {
	now := s.now()

	var (
		f    *os.File
		path string
		name string
		err  error
	)
	for suffix := 0; suffix <= maxSuffix; suffix++ {
		name = FileName(now, suffix)
		path = filepath.Join(s.dir, name)
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return StoredImage{}, &SaveError{Path: path, Err: err}
		}
		debug.Verbose("Store: %s exists, trying next suffix", name)
	}
	if err != nil {
		return StoredImage{}, &SaveError{Path: path, Err: err}
	}

	debug.Verbose("Store: creating file at %s", path)
	n, werr := f.Write(frame)
	if werr == nil {
		werr = f.Sync()
	}
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(path)
		return StoredImage{}, &SaveError{Path: path, Err: werr}
	}

	debug.Info("Saved image as %s", name)
	return StoredImage{
		Path:      path,
		Name:      name,
		CreatedAt: now,
		Size:      int64(n),
	}, nil
}
