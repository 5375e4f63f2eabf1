// Package config handles configuration for the cloudup command,
// including defaults, the process environment, a JSON overlay and
// command-line flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/cloudup/internal/common"
)

const (
	BackendCloudinary = "cloudinary"
	BackendS3         = "s3"

	KeyModeBasename = "basename"
	KeyModeRelative = "relative"

	// FolderDirPlaceholder in Folder is replaced with the directory of the
	// file relative to Cwd.
	FolderDirPlaceholder = "{dir}"
)

// Config holds runtime settings for one cloudup run.
//
// Fields:
//   - Backend: media host, "cloudinary" or "s3".
//   - CloudinaryURL / CloudName / APIKey / APISecret: Cloudinary account.
//     The URL form wins when both are set.
//   - S3*: object storage settings for the s3 backend.
//   - Sources: glob patterns; a leading "!" excludes.
//   - Cwd: directory globs and relative paths resolve against.
//   - DestDir: where processed files and the manifest are written.
//   - ManifestPath / Merge: manifest target and merge mode.
//   - Streaming: read sources as streams instead of buffers.
//   - Workers: concurrent uploads.
//   - Params: extra upload parameters sent with every file.
//   - Folder: remote folder template, may contain "{dir}". Empty sends none.
//   - KeyMode: manifest key, "basename" or "relative".
//   - LogLevel: debug, info, warn or error.
//   - Watch / WatchDebounce: rerun on source changes.
type Config struct {
	Backend       string
	CloudinaryURL string
	CloudName     string
	APIKey        string
	APISecret     string

	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3BaseEndpoint string
	S3PublicURL    string

	Sources      []string
	Cwd          string
	DestDir      string
	ManifestPath string
	Merge        bool
	Streaming    bool
	Workers      int

	Params  map[string]any
	Folder  string
	KeyMode string

	LogLevel      string
	Watch         bool
	WatchDebounce time.Duration
}

// LoadDefaults populates Config with defaults that upload nothing until
// sources and credentials are supplied.
func (c *Config) LoadDefaults() {
	c.Backend = BackendCloudinary
	c.S3Region = "us-east-1"
	c.Cwd = "."
	c.DestDir = "build"
	c.ManifestPath = common.DefaultManifestPath
	c.Workers = 1
	c.KeyMode = KeyModeBasename
	c.LogLevel = "info"
	c.WatchDebounce = 300 * time.Millisecond
}

var getenv = os.Getenv

// applyEnv reads the process environment. It is the only place cloudup
// looks at CLOUDINARY_URL. It returns the URL it applied.
func (c *Config) applyEnv() string {
	v := getenv(common.EnvCloudinaryURL)
	if v != "" {
		c.CloudinaryURL = v
	}
	return v
}

// dropEnvURL clears a CLOUDINARY_URL taken from the environment when a
// later layer supplied the account as separate fields, so that the fields
// win as the layer order says.
func (c *Config) dropEnvURL(envURL string) {
	if envURL == "" || c.CloudinaryURL != envURL {
		return
	}
	if c.CloudName != "" && c.APIKey != "" && c.APISecret != "" {
		c.CloudinaryURL = ""
	}
}

// LoadConfig builds a Config by applying defaults, the environment, an
// optional JSON file and finally command-line flags. Later layers win.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	envURL := cfg.applyEnv()
	parseJson(cfg)
	parseFlags(cfg)
	cfg.dropEnvURL(envURL)
	return cfg
}

// Validate reports settings that cannot produce a run. Credentials are
// checked later by the backend clients.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendCloudinary, BackendS3:
	default:
		return fmt.Errorf("%w: %q", common.ErrUnknownBackend, c.Backend)
	}
	if len(c.Sources) == 0 {
		return common.ErrNoSources
	}
	switch c.KeyMode {
	case KeyModeBasename, KeyModeRelative:
	default:
		return fmt.Errorf("%w: key mode %q", common.ErrInvalidConfig, c.KeyMode)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive, got %d", common.ErrInvalidConfig, c.Workers)
	}
	if c.Watch && c.WatchDebounce <= 0 {
		return fmt.Errorf("%w: watch debounce must be positive", common.ErrInvalidConfig)
	}
	if strings.TrimSpace(c.ManifestPath) == "" {
		return fmt.Errorf("%w: manifest path", common.ErrMissingConfig)
	}
	return nil
}
