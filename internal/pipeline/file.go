package pipeline

import (
	"io"
	"path/filepath"
	"strings"
)

// Upload is the remote service metadata attached to a file after a
// successful upload.
//
// Fields holds the service response plus the locally injected fields.
// ManifestKey is the key the manifest stage files the metadata under; it is
// kept apart from Fields so it never leaks into the written manifest.
type Upload struct {
	Fields      map[string]any
	ManifestKey string
}

// File is a single unit flowing through a pipeline.
//
// A file carries at most one kind of content: none (a null file such as a
// directory), a fully read buffer, or an open stream. Ownership of the file
// moves to the next stage when a stage emits it.
type File struct {
	Cwd  string
	Base string
	Path string

	// Contents is set in buffer mode.
	Contents []byte
	// Stream is set in streaming mode. Whoever consumes it closes it.
	Stream io.ReadCloser

	upload *Upload
}

// IsNull reports whether the file carries no content.
func (f *File) IsNull() bool {
	return f.Contents == nil && f.Stream == nil
}

// IsBuffer reports whether the file content is fully materialized.
func (f *File) IsBuffer() bool {
	return f.Contents != nil
}

// IsStream reports whether the file content is an open stream.
func (f *File) IsStream() bool {
	return f.Contents == nil && f.Stream != nil
}

// Relative returns Path relative to Base. When the two do not share a
// prefix the base name is returned.
func (f *File) Relative() string {
	rel, err := filepath.Rel(f.Base, f.Path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return f.Basename()
	}
	return rel
}

// Basename returns the last element of Path, extension included.
func (f *File) Basename() string {
	return filepath.Base(f.Path)
}

// Ext returns the extension of Path, dot included.
func (f *File) Ext() string {
	return filepath.Ext(f.Path)
}

// Stem returns the base name of Path without its extension.
func (f *File) Stem() string {
	return Stem(f.Path)
}

// Upload returns the attached upload metadata, if any.
func (f *File) Upload() (*Upload, bool) {
	return f.upload, f.upload != nil
}

// SetUpload attaches upload metadata, replacing what was there.
func (f *File) SetUpload(u *Upload) {
	f.upload = u
}

// ClearUpload detaches upload metadata.
func (f *File) ClearUpload() {
	f.upload = nil
}

// Close releases the stream, if the file has one.
func (f *File) Close() error {
	if f.Stream == nil {
		return nil
	}
	err := f.Stream.Close()
	f.Stream = nil
	return err
}

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext == base {
		// dotfiles such as ".env" have no extension
		return base
	}
	return strings.TrimSuffix(base, ext)
}
