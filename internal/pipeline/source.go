package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dmitrijs2005/cloudup/internal/common"
)

// SrcOptions controls how Src materializes files.
type SrcOptions struct {
	// Cwd resolves relative patterns. Defaults to the working directory.
	Cwd string
	// Base overrides the base derived from each pattern's non-glob prefix.
	Base string
	// Buffer reads contents into memory; false attaches a stream that opens
	// the file on first read.
	Buffer bool
	// Read false produces null files for everything matched.
	Read bool
}

// DefaultSrcOptions reads every file into a buffer.
func DefaultSrcOptions() SrcOptions {
	return SrcOptions{Buffer: true, Read: true}
}

// ReadOptions controls ReadFile.
type ReadOptions struct {
	Cwd  string
	Base string
}

// Src expands glob patterns into files. A pattern starting with "!"
// excludes matches of earlier and later patterns. A pattern without glob
// characters must match an existing path. Matches are de-duplicated and keep
// pattern order.
func Src(ctx context.Context, patterns []string, opts SrcOptions) ([]*File, error) {
	cwd, err := resolveCwd(opts.Cwd)
	if err != nil {
		return nil, err
	}

	var include, exclude []string
	for _, p := range patterns {
		if neg, ok := strings.CutPrefix(p, "!"); ok {
			exclude = append(exclude, absSlash(cwd, neg))
			continue
		}
		include = append(include, p)
	}
	if len(include) == 0 {
		return nil, common.ErrNoSources
	}

	seen := make(map[string]struct{})
	var files []*File

	for _, p := range include {
		base, pattern := doublestar.SplitPattern(absSlash(cwd, p))
		matches, err := doublestar.Glob(os.DirFS(filepath.FromSlash(base)), pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", p, err)
		}
		if len(matches) == 0 && !hasMeta(p) {
			return nil, fmt.Errorf("file not found with singular glob %q: %w", p, fs.ErrNotExist)
		}

		fileBase := opts.Base
		if fileBase == "" {
			fileBase = filepath.FromSlash(base)
		}

		for _, m := range matches {
			if err := ctx.Err(); err != nil {
				closeAll(files)
				return nil, err
			}

			full := filepath.Join(filepath.FromSlash(base), filepath.FromSlash(m))
			if _, dup := seen[full]; dup || excluded(exclude, full) {
				continue
			}
			seen[full] = struct{}{}

			f, err := load(full, cwd, fileBase, opts)
			if err != nil {
				closeAll(files)
				return nil, err
			}
			files = append(files, f)
		}
	}

	return files, nil
}

// ReadFile reads path into a buffer file. A missing file yields an error
// matching fs.ErrNotExist.
func ReadFile(path string, opts ReadOptions) (*File, error) {
	cwd, err := resolveCwd(opts.Cwd)
	if err != nil {
		return nil, err
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(cwd, full)
	}
	base := opts.Base
	if base == "" {
		base = filepath.Dir(full)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return &File{Cwd: cwd, Base: base, Path: full, Contents: data}, nil
}

func load(path, cwd, base string, opts SrcOptions) (*File, error) {
	f := &File{Cwd: cwd, Base: base, Path: path}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() || !opts.Read {
		return f, nil
	}

	if opts.Buffer {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if data == nil {
			data = []byte{}
		}
		f.Contents = data
		return f, nil
	}

	f.Stream = OpenLazy(path)
	return f, nil
}

func resolveCwd(cwd string) (string, error) {
	if cwd != "" {
		return filepath.Abs(cwd)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}
	return wd, nil
}

func absSlash(cwd, p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(cwd, p)
	}
	return filepath.ToSlash(filepath.Clean(p))
}

func excluded(patterns []string, path string) bool {
	slash := filepath.ToSlash(path)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, slash); ok {
			return true
		}
	}
	return false
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
