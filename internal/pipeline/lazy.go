package pipeline

import (
	"io"
	"os"
	"sync"
)

// LazyFile is a stream over a file on disk that opens the file on the
// first Read. Matching a large tree therefore holds no descriptors until
// each file is actually consumed.
type LazyFile struct {
	path string

	once sync.Once
	f    *os.File
	err  error
}

var _ io.ReadCloser = (*LazyFile)(nil)

func OpenLazy(path string) *LazyFile {
	return &LazyFile{path: path}
}

func (l *LazyFile) Path() string { return l.path }

// Opened reports whether the underlying file has been opened.
func (l *LazyFile) Opened() bool { return l.f != nil }

func (l *LazyFile) Read(p []byte) (int, error) {
	l.once.Do(func() { l.f, l.err = os.Open(l.path) })
	if l.err != nil {
		return 0, l.err
	}
	return l.f.Read(p)
}

// Close releases the descriptor if one was opened. Reads after Close fail
// with os.ErrClosed.
func (l *LazyFile) Close() error {
	l.once.Do(func() { l.err = os.ErrClosed })
	if l.f == nil {
		return nil
	}
	return l.f.Close()
}
