// Package manifest implements the manifest stage: it collects the upload
// metadata attached by the uploader stage and, once the input is exhausted,
// emits a single JSON file mapping manifest keys to that metadata.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/dmitrijs2005/cloudup/internal/common"
	"github.com/dmitrijs2005/cloudup/internal/logging"
	"github.com/dmitrijs2005/cloudup/internal/pipeline"
)

var errAlreadyFlushed = errors.New("manifest already flushed")

// Options configure the manifest stage.
type Options struct {
	// Path of the manifest. Relative paths resolve against Cwd.
	// Defaults to common.DefaultManifestPath.
	Path string
	// Merge overlays the new entries on the manifest already at Path instead
	// of replacing it.
	Merge bool
	// Cwd defaults to the working directory.
	Cwd string
}

// ReadFunc materializes the existing manifest. It must return an error
// matching fs.ErrNotExist when there is none.
type ReadFunc func(path string, opts pipeline.ReadOptions) (*pipeline.File, error)

// Stage is the manifest pipeline stage. It keeps state for one run and must
// be piped with a single worker.
type Stage struct {
	path    string
	cwd     string
	merge   bool
	entries *Manifest
	flushed bool
	read    ReadFunc
	logger  logging.Logger
}

func New(opts Options, logger logging.Logger) (*Stage, error) {
	if opts.Path == "" {
		opts.Path = common.DefaultManifestPath
	}

	cwd := opts.Cwd
	if cwd == "" {
		wd, err := filepath.Abs(".")
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		cwd = wd
	}

	path := opts.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}

	return &Stage{
		path:    path,
		cwd:     cwd,
		merge:   opts.Merge,
		entries: NewManifest(),
		read:    pipeline.ReadFile,
		logger:  logging.OrNop(logger).With("stage", "manifest", "path", path),
	}, nil
}

// WithReader replaces the function used to load an existing manifest.
func (s *Stage) WithReader(read ReadFunc) *Stage {
	s.read = read
	return s
}

func (s *Stage) Name() string { return "manifest" }

// Path returns the absolute manifest path.
func (s *Stage) Path() string { return s.path }

// Process records the upload metadata of f, if any. Nothing is passed on.
func (s *Stage) Process(_ context.Context, f *pipeline.File) ([]*pipeline.File, error) {
	defer f.Close()

	if s.flushed {
		return nil, errAlreadyFlushed
	}
	u, ok := f.Upload()
	if !ok {
		return nil, nil
	}
	s.entries.Set(u.ManifestKey, u.Fields)
	return nil, nil
}

// Flush emits the manifest file. Nothing is emitted when no file carried
// metadata. With Merge set, an unreadable or non-object manifest on disk is
// treated as empty.
func (s *Stage) Flush(ctx context.Context) ([]*pipeline.File, error) {
	if s.flushed {
		return nil, errAlreadyFlushed
	}
	s.flushed = true

	if s.entries.Len() == 0 {
		s.logger.Debug(ctx, "no uploads, skipping manifest")
		return nil, nil
	}

	base := filepath.Dir(s.path)
	file, err := s.read(s.path, pipeline.ReadOptions{Cwd: s.cwd, Base: base})
	switch {
	case errors.Is(err, fs.ErrNotExist):
		file = &pipeline.File{Cwd: s.cwd, Base: base, Path: s.path}
	case err != nil:
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	out := NewManifest()
	if s.merge && !file.IsNull() {
		old, err := s.previous(file)
		if err != nil {
			s.logger.Warn(ctx, "ignoring unreadable manifest", "error", err)
		} else {
			out = old
		}
	}
	out.Merge(s.entries)

	data, err := out.Indent()
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	_ = file.Close()
	file.Contents = data
	file.ClearUpload()

	s.logger.Info(ctx, "manifest ready", "entries", out.Len(), "merged", s.merge)
	return []*pipeline.File{file}, nil
}

func (s *Stage) previous(file *pipeline.File) (*Manifest, error) {
	data := file.Contents
	if file.IsStream() {
		b, err := io.ReadAll(file.Stream)
		if err != nil {
			return nil, err
		}
		data = b
	}

	old := NewManifest()
	if err := json.Unmarshal(data, old); err != nil {
		return nil, err
	}
	return old, nil
}
