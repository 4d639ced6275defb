// Package config provides configuration management for clusterlens.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

const (
	// DefaultWorkerPort is the default HTTP port.
	DefaultWorkerPort = 37800
	// DefaultWorkerHost binds to loopback.
	DefaultWorkerHost = "127.0.0.1"
	// DefaultExtractorURL is where the embedding sidecar listens by default.
	DefaultExtractorURL = "http://127.0.0.1:37801/embed"

	DefaultEps          = 0.25
	DefaultMinSamples   = 2
	DefaultSeed         = 42
	DefaultMaxUploadMB  = 32
	DefaultIngestLimit  = 4
	DefaultExtractorSec = 60

	BlobBackendLocal = "local"
	BlobBackendMinio = "minio"

	dataDirName  = ".clusterlens"
	envPrefix    = "CLUSTERLENS_"
	settingsFile = "settings.json"
)

// Config holds clusterlens configuration.
type Config struct {
	WorkerHost       string  `json:"CLUSTERLENS_WORKER_HOST"`
	DBDriver         string  `json:"CLUSTERLENS_DB_DRIVER"`
	DBPath           string  `json:"CLUSTERLENS_DB_PATH"`
	DBDSN            string  `json:"CLUSTERLENS_DB_DSN"`
	BlobBackend      string  `json:"CLUSTERLENS_BLOB_BACKEND"`
	UploadDir        string  `json:"CLUSTERLENS_UPLOAD_DIR"`
	MinioEndpoint    string  `json:"CLUSTERLENS_MINIO_ENDPOINT"`
	MinioBucket      string  `json:"CLUSTERLENS_MINIO_BUCKET"`
	MinioAccessKey   string  `json:"CLUSTERLENS_MINIO_ACCESS_KEY"`
	MinioSecretKey   string  `json:"CLUSTERLENS_MINIO_SECRET_KEY"`
	MinioPrefix      string  `json:"CLUSTERLENS_MINIO_PREFIX"`
	ExtractorURL     string  `json:"CLUSTERLENS_EXTRACTOR_URL"`
	LogLevel         string  `json:"CLUSTERLENS_LOG_LEVEL"`
	DefaultEps       float64 `json:"CLUSTERLENS_DEFAULT_EPS"`
	WorkerPort       int     `json:"CLUSTERLENS_WORKER_PORT"`
	MaxConns         int     `json:"CLUSTERLENS_MAX_CONNS"`
	ExtractorTimeout int     `json:"CLUSTERLENS_EXTRACTOR_TIMEOUT_SECONDS"`
	DefaultMinSample int     `json:"CLUSTERLENS_DEFAULT_MIN_SAMPLES"`
	KMeansSeed       uint64  `json:"CLUSTERLENS_KMEANS_SEED"`
	MaxIngest        int     `json:"CLUSTERLENS_MAX_CONCURRENT_INGEST"`
	MaxUploadMB      int     `json:"CLUSTERLENS_MAX_UPLOAD_MB"`
	MinioUseSSL      bool    `json:"CLUSTERLENS_MINIO_USE_SSL"`
	ExportManifest   bool    `json:"CLUSTERLENS_EXPORT_MANIFEST"`
}

var (
	global     *Config
	globalOnce sync.Once
)

// DataDir returns the data directory path.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, dataDirName)
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "clusterlens.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), settingsFile)
}

// UploadDir returns the default local blob directory.
func UploadDir() string {
	return filepath.Join(DataDir(), "uploads")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory, settings file and upload directory.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	if err := EnsureSettings(); err != nil {
		return err
	}
	return os.MkdirAll(UploadDir(), 0750)
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		WorkerHost:       DefaultWorkerHost,
		WorkerPort:       DefaultWorkerPort,
		DBDriver:         "sqlite",
		DBPath:           DBPath(),
		MaxConns:         4,
		BlobBackend:      BlobBackendLocal,
		UploadDir:        UploadDir(),
		ExtractorURL:     DefaultExtractorURL,
		ExtractorTimeout: DefaultExtractorSec,
		LogLevel:         "info",
		DefaultEps:       DefaultEps,
		DefaultMinSample: DefaultMinSamples,
		KMeansSeed:       DefaultSeed,
		MaxIngest:        DefaultIngestLimit,
		MaxUploadMB:      DefaultMaxUploadMB,
		ExportManifest:   true,
	}
}

// Load reads the settings file, then applies environment overrides.
// A missing or malformed settings file yields defaults, not an error.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err == nil {
		var settings map[string]interface{}
		if json.Unmarshal(data, &settings) == nil {
			cfg.apply(func(key string) (string, bool) {
				v, ok := settings[key]
				if !ok || v == nil {
					return "", false
				}
				return stringify(v), true
			})
		}
	}

	cfg.apply(func(key string) (string, bool) {
		return os.LookupEnv(key)
	})
	return cfg, nil
}

// Get returns the configuration, loading it on first use.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		global = cfg
	})
	return global
}

// GetWorkerPort returns the worker port, preferring a valid
// CLUSTERLENS_WORKER_PORT environment value over the loaded config.
func GetWorkerPort() int {
	if port, err := strconv.Atoi(os.Getenv(envPrefix + "WORKER_PORT")); err == nil && port > 0 {
		return port
	}
	return Get().WorkerPort
}

// apply overrides fields with every key lookup returns. Values that fail to
// parse are ignored.
func (c *Config) apply(lookup func(key string) (string, bool)) {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(envPrefix + name); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	flt := func(name string, dst *float64) {
		if v, ok := lookup(envPrefix + name); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f > 0 {
				*dst = f
			}
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(envPrefix + name); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	str("WORKER_HOST", &c.WorkerHost)
	num("WORKER_PORT", &c.WorkerPort)
	str("DB_DRIVER", &c.DBDriver)
	str("DB_PATH", &c.DBPath)
	str("DB_DSN", &c.DBDSN)
	num("MAX_CONNS", &c.MaxConns)
	str("BLOB_BACKEND", &c.BlobBackend)
	str("UPLOAD_DIR", &c.UploadDir)
	str("MINIO_ENDPOINT", &c.MinioEndpoint)
	str("MINIO_BUCKET", &c.MinioBucket)
	str("MINIO_ACCESS_KEY", &c.MinioAccessKey)
	str("MINIO_SECRET_KEY", &c.MinioSecretKey)
	str("MINIO_PREFIX", &c.MinioPrefix)
	flag("MINIO_USE_SSL", &c.MinioUseSSL)
	str("EXTRACTOR_URL", &c.ExtractorURL)
	num("EXTRACTOR_TIMEOUT_SECONDS", &c.ExtractorTimeout)
	str("LOG_LEVEL", &c.LogLevel)
	flt("DEFAULT_EPS", &c.DefaultEps)
	num("DEFAULT_MIN_SAMPLES", &c.DefaultMinSample)
	num("MAX_CONCURRENT_INGEST", &c.MaxIngest)
	num("MAX_UPLOAD_MB", &c.MaxUploadMB)
	flag("EXPORT_MANIFEST", &c.ExportManifest)

	if v, ok := lookup(envPrefix + "KMEANS_SEED"); ok {
		if seed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil {
			c.KMeansSeed = seed
		}
	}
}

// stringify renders a decoded JSON value the way it would appear in an
// environment variable.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		data, _ := json.Marshal(t)
		return string(data)
	}
}
