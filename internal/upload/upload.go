// Package upload implements the uploader stage: every file with content is
// sent to a remote media host and the host's response is attached to the
// file for later stages.
package upload

import (
	"context"
	"fmt"
	"io"
	"maps"
	"path/filepath"

	"github.com/dmitrijs2005/cloudup/internal/common"
	"github.com/dmitrijs2005/cloudup/internal/logging"
	"github.com/dmitrijs2005/cloudup/internal/pipeline"
)

// Well-known parameter and result fields.
const (
	ParamOverwrite = "overwrite"
	ParamPublicID  = "public_id"
	ParamFolder    = "folder"

	FieldOriginalFilename = "original_filename"
	FieldManifestKey      = "manifest_key"
)

// Params are the upload parameters sent with one file.
type Params map[string]any

// Result is the structured response of the remote host.
type Result map[string]any

// Client is the remote upload client. Implementations own protocol,
// chunking, authentication and timeouts.
type Client interface {
	UploadBuffer(ctx context.Context, data []byte, params Params) (Result, error)
	UploadStream(ctx context.Context, r io.Reader, params Params) (Result, error)
}

// Resolver turns a file path into a string: a manifest key or a folder.
type Resolver func(path string) string

// BaseName is the default KeyResolver: the base filename with extension.
func BaseName(path string) string {
	return filepath.Base(path)
}

// Options configure the uploader stage.
//
// KeyResolver defaults to BaseName. FolderResolver is optional; when nil no
// folder parameter is sent. The two hooks are independent.
type Options struct {
	Params         Params
	KeyResolver    Resolver
	FolderResolver Resolver
}

// Stage is the uploader pipeline stage.
type Stage struct {
	client Client
	opts   Options
	logger logging.Logger
}

// New builds the uploader stage. A nil client means the remote host was never
// configured and is reported as a configuration error.
func New(client Client, opts Options, logger logging.Logger) (*Stage, error) {
	if client == nil {
		return nil, &pipeline.PluginError{
			Plugin:  common.PluginName,
			Message: "Missing cloudinary config",
			Err:     common.ErrMissingConfig,
		}
	}
	if opts.KeyResolver == nil {
		opts.KeyResolver = BaseName
	}
	return &Stage{
		client: client,
		opts:   opts,
		logger: logging.OrNop(logger).With("stage", "upload"),
	}, nil
}

func (s *Stage) Name() string { return "upload" }

// Params returns the parameters sent for path: overwrite=false, then the
// configured params, then public_id derived from the file name, then the
// resolved folder.
func (s *Stage) Params(path string) Params {
	p := Params{ParamOverwrite: false}
	maps.Copy(p, s.opts.Params)
	p[ParamPublicID] = pipeline.Stem(path)
	if s.opts.FolderResolver != nil {
		p[ParamFolder] = s.opts.FolderResolver(path)
	}
	return p
}

// Process uploads f and attaches the response. Null files pass through
// untouched. A streamed file is consumed by the upload; it is closed
// afterwards and continues downstream as a null file carrying its metadata.
func (s *Stage) Process(ctx context.Context, f *pipeline.File) ([]*pipeline.File, error) {
	if f.IsNull() {
		return []*pipeline.File{f}, nil
	}

	params := s.Params(f.Path)
	key := s.opts.KeyResolver(f.Path)
	log := s.logger.With("file", f.Path, "key", key)
	log.Debug(ctx, "uploading", "public_id", params[ParamPublicID])

	var (
		res Result
		err error
	)
	if f.IsBuffer() {
		res, err = s.client.UploadBuffer(ctx, f.Contents, params)
	} else {
		res, err = s.client.UploadStream(ctx, f.Stream, params)
		if cerr := f.Close(); cerr != nil && err == nil {
			log.Warn(ctx, "closing stream", "error", cerr)
		}
	}
	if err != nil {
		log.Error(ctx, "upload failed", "error", err)
		return nil, &pipeline.PluginError{Plugin: common.PluginName, Message: err.Error(), Err: err}
	}
	if res == nil {
		return nil, &pipeline.PluginError{
			Plugin:  common.PluginName,
			Message: "empty upload response",
			Err:     fmt.Errorf("%w: empty response", common.ErrUploadRejected),
		}
	}

	fields := make(map[string]any, len(res)+1)
	maps.Copy(fields, res)
	delete(fields, FieldManifestKey)
	fields[FieldOriginalFilename] = f.Stem()

	f.SetUpload(&pipeline.Upload{Fields: fields, ManifestKey: key})
	log.Info(ctx, "uploaded", "public_id", fields[ParamPublicID], "url", fields["url"])

	return []*pipeline.File{f}, nil
}

func (s *Stage) Flush(context.Context) ([]*pipeline.File, error) { return nil, nil }
