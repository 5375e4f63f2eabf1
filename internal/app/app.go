// Package app wires configuration, the media host client and the pipeline
// stages into one command run, optionally repeated on file changes.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dmitrijs2005/cloudup/internal/cloudinary"
	"github.com/dmitrijs2005/cloudup/internal/common"
	"github.com/dmitrijs2005/cloudup/internal/config"
	"github.com/dmitrijs2005/cloudup/internal/filex"
	"github.com/dmitrijs2005/cloudup/internal/logging"
	"github.com/dmitrijs2005/cloudup/internal/manifest"
	"github.com/dmitrijs2005/cloudup/internal/pipeline"
	"github.com/dmitrijs2005/cloudup/internal/s3store"
	"github.com/dmitrijs2005/cloudup/internal/upload"
	"github.com/dmitrijs2005/cloudup/internal/watch"
)

var (
	logOutput io.Writer = os.Stderr

	newCloudinaryClient = func(c cloudinary.Credentials, l logging.Logger) (upload.Client, error) {
		return cloudinary.NewClient(c, l)
	}
	newS3Client = func(ctx context.Context, c s3store.Config, l logging.Logger) (upload.Client, error) {
		return s3store.New(ctx, c, l)
	}
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	client  upload.Client
	cwd     string
	destDir string
}

// NewApp validates c and builds the backend client. Nothing is read or
// uploaded until Run.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.LogLevel, logOutput)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	cwd, err := filepath.Abs(c.Cwd)
	if err != nil {
		return nil, fmt.Errorf("resolve cwd: %w", err)
	}

	var client upload.Client
	switch c.Backend {
	case config.BackendCloudinary:
		client, err = newCloudinaryClient(cloudinary.Credentials{
			URL:       c.CloudinaryURL,
			CloudName: c.CloudName,
			APIKey:    c.APIKey,
			APISecret: c.APISecret,
		}, logger)
	case config.BackendS3:
		client, err = newS3Client(ctx, s3store.Config{
			Region:       c.S3Region,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			Bucket:       c.S3Bucket,
			BaseEndpoint: c.S3BaseEndpoint,
			PublicURL:    c.S3PublicURL,
		}, logger)
	default:
		err = fmt.Errorf("%w: %q", common.ErrUnknownBackend, c.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%s backend: %w", c.Backend, err)
	}

	return &App{
		config: c,
		logger: logger.With("backend", c.Backend),
		client: client,
		cwd:    cwd,
	}, nil
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

// Run performs one upload pass. In watch mode a failed first pass is
// logged and further passes follow every change until ctx is done or a
// signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.initSignalHandler(ctx, cancelFunc)

	app.logger.Info(ctx, "Starting app...", "sources", app.config.Sources, "watch", app.config.Watch)

	err := app.RunOnce(ctx)
	if !app.config.Watch {
		return err
	}
	if err != nil {
		app.logger.Error(ctx, "initial run failed", "error", err)
	}

	w := watch.New(
		watch.Roots(app.cwd, app.config.Sources),
		app.config.WatchDebounce,
		app.logger,
		watch.WithIgnore(app.destDir, app.manifestPath()),
	)
	return w.Run(ctx, app.RunOnce)
}

// RunOnce reads the sources and pushes them through
// upload -> manifest -> dest.
func (app *App) RunOnce(ctx context.Context) error {
	start := time.Now()

	destDir, err := filex.EnsureDir(app.cwd, app.config.DestDir)
	if err != nil {
		return err
	}
	app.destDir = destDir

	files, err := pipeline.Src(ctx, app.config.Sources, pipeline.SrcOptions{
		Cwd:    app.cwd,
		Buffer: !app.config.Streaming,
		Read:   true,
	})
	if err != nil {
		return fmt.Errorf("read sources: %w", err)
	}

	up, err := upload.New(app.client, app.uploadOptions(), app.logger)
	if err != nil {
		return err
	}
	mf, err := manifest.New(manifest.Options{
		Path:  app.config.ManifestPath,
		Merge: app.config.Merge,
		Cwd:   app.cwd,
	}, app.logger)
	if err != nil {
		return err
	}

	out, err := pipeline.New(app.logger).
		Pipe(up, pipeline.WithWorkers(app.config.Workers)).
		Pipe(mf).
		Pipe(pipeline.Dest(destDir, app.logger)).
		Run(ctx, files)
	if err != nil {
		return err
	}

	written := make([]string, 0, len(out))
	for _, f := range out {
		written = append(written, filepath.Join(destDir, f.Relative()))
	}
	app.logger.Info(ctx, "run finished",
		"files", len(files),
		"written", written,
		"elapsed", time.Since(start).String(),
	)
	return nil
}

func (app *App) manifestPath() string {
	if filepath.IsAbs(app.config.ManifestPath) {
		return app.config.ManifestPath
	}
	return filepath.Join(app.cwd, app.config.ManifestPath)
}

func (app *App) uploadOptions() upload.Options {
	opts := upload.Options{Params: upload.Params{}}
	for k, v := range app.config.Params {
		opts.Params[k] = v
	}

	if app.config.KeyMode == config.KeyModeRelative {
		opts.KeyResolver = app.relative
	}

	if folder := app.config.Folder; folder != "" {
		opts.FolderResolver = func(path string) string {
			dir := filepath.ToSlash(filepath.Dir(app.relative(path)))
			if dir == "." {
				dir = ""
			}
			resolved := strings.ReplaceAll(folder, config.FolderDirPlaceholder, dir)
			return strings.Trim(strings.ReplaceAll(resolved, "//", "/"), "/")
		}
	}
	return opts
}

// relative is path relative to the working directory with forward
// slashes. Paths outside it fall back to the base name.
func (app *App) relative(path string) string {
	rel, err := filepath.Rel(app.cwd, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}
