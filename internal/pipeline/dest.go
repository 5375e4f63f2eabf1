package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/cloudup/internal/logging"
)

// DestStage writes every non-null file under Dir at its relative path and
// passes it on. Stream contents are drained into the target, after which
// the file is emitted as a buffer-less, stream-less null file.
type DestStage struct {
	Dir    string
	logger logging.Logger
}

func Dest(dir string, logger logging.Logger) *DestStage {
	return &DestStage{Dir: dir, logger: logging.OrNop(logger)}
}

func (d *DestStage) Name() string { return "dest" }

func (d *DestStage) Process(ctx context.Context, f *File) ([]*File, error) {
	if f.IsNull() {
		return []*File{f}, nil
	}

	target := filepath.Join(d.Dir, f.Relative())
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}

	if f.IsBuffer() {
		if err := os.WriteFile(target, f.Contents, 0o644); err != nil {
			return nil, err
		}
	} else {
		if err := drain(target, f); err != nil {
			return nil, err
		}
	}

	d.logger.Debug(ctx, "wrote file", "path", target)
	return []*File{f}, nil
}

func (d *DestStage) Flush(context.Context) ([]*File, error) { return nil, nil }

func drain(target string, f *File) error {
	defer f.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, f.Stream); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", target, err)
	}
	return out.Close()
}
