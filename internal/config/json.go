package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/cloudup/internal/flagx"
	"github.com/dmitrijs2005/cloudup/internal/timex"
)

// JsonConfig is the on-disk form of Config. Absent fields leave the
// current value alone, so booleans and numbers are pointers.
type JsonConfig struct {
	Backend       string `json:"backend"`
	CloudinaryURL string `json:"cloudinary_url"`
	CloudName     string `json:"cloud_name"`
	APIKey        string `json:"api_key"`
	APISecret     string `json:"api_secret"`

	S3Region       string `json:"s3_region"`
	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3Bucket       string `json:"s3_bucket"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	S3PublicURL    string `json:"s3_public_url"`

	Sources      []string `json:"sources"`
	Cwd          string   `json:"cwd"`
	DestDir      string   `json:"dest_dir"`
	ManifestPath string   `json:"manifest_path"`
	Merge        *bool    `json:"merge"`
	Streaming    *bool    `json:"streaming"`
	Workers      *int     `json:"workers"`

	Params  map[string]any `json:"params"`
	Folder  string         `json:"folder"`
	KeyMode string         `json:"key_mode"`

	LogLevel      string          `json:"log_level"`
	Watch         *bool           `json:"watch"`
	WatchDebounce *timex.Duration `json:"watch_debounce"`
}

// parseJson overlays values from the JSON file named by -c or -config.
// Without the flag nothing is loaded. An unreadable or invalid file panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.Backend, c.Backend)
	setString(&config.CloudinaryURL, c.CloudinaryURL)
	setString(&config.CloudName, c.CloudName)
	setString(&config.APIKey, c.APIKey)
	setString(&config.APISecret, c.APISecret)

	setString(&config.S3Region, c.S3Region)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3PublicURL, c.S3PublicURL)

	if c.Sources != nil {
		config.Sources = c.Sources
	}
	setString(&config.Cwd, c.Cwd)
	setString(&config.DestDir, c.DestDir)
	setString(&config.ManifestPath, c.ManifestPath)
	if c.Merge != nil {
		config.Merge = *c.Merge
	}
	if c.Streaming != nil {
		config.Streaming = *c.Streaming
	}
	if c.Workers != nil {
		config.Workers = *c.Workers
	}

	if c.Params != nil {
		config.Params = c.Params
	}
	setString(&config.Folder, c.Folder)
	setString(&config.KeyMode, c.KeyMode)

	setString(&config.LogLevel, c.LogLevel)
	if c.Watch != nil {
		config.Watch = *c.Watch
	}
	if c.WatchDebounce != nil {
		config.WatchDebounce = c.WatchDebounce.Duration
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
