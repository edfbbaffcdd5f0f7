package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database   DatabaseConfig
	Paths      PathsConfig
	Detector   DetectorConfig
	Blob       BlobConfig
	Server     ServerConfig
	Clustering ClusteringConfig `yaml:"clustering"`
	Detection  DetectionConfig  `yaml:"detection"`
	Thumbnails ThumbnailConfig  `yaml:"thumbnails"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

type PathsConfig struct {
	ImportDir        string
	UploadDir        string
	ThumbnailDir     string
	ProcessedLogFile string
}

// ImageThumbDir is where whole-image thumbnails are written.
func (p *PathsConfig) ImageThumbDir() string {
	return filepath.Join(p.ThumbnailDir, "images")
}

// FaceThumbDir is where face crops and representative thumbnails are written.
func (p *PathsConfig) FaceThumbDir() string {
	return filepath.Join(p.ThumbnailDir, "faces")
}

type DetectorConfig struct {
	URL string // face embedding server, defaults to http://localhost:8000
}

type BlobConfig struct {
	AccountID string
	AccessKey string
	SecretKey string
	Bucket    string
	Endpoint  string // overrides the account-derived R2 endpoint when set
}

// Configured reports whether blob credentials are present.
func (b *BlobConfig) Configured() bool {
	return b.Bucket != "" && b.AccessKey != "" && b.SecretKey != "" &&
		(b.AccountID != "" || b.Endpoint != "")
}

type ServerConfig struct {
	Host string
	Port int
}

type ClusteringConfig struct {
	InsightFaceTolerance     float64 `yaml:"insightface_tolerance"`
	FaceRecognitionTolerance float64 `yaml:"face_recognition_tolerance"`
	RunClusterTolerance      float64 `yaml:"run_cluster_tolerance"`
}

type DetectionConfig struct {
	MinScore   float64 `yaml:"min_score"`
	EdgeMargin int     `yaml:"edge_margin"`
}

type ThumbnailConfig struct {
	ImageSize    int     `yaml:"image_size"`
	ImageQuality int     `yaml:"image_quality"`
	FaceSize     int     `yaml:"face_size"`
	FaceQuality  int     `yaml:"face_quality"`
	FacePadding  float64 `yaml:"face_padding"`
}

type SchedulerConfig struct {
	InitialWorkers       int     `yaml:"initial_workers"`
	ScaleCooldownSeconds int     `yaml:"scale_cooldown_seconds"`
	MemoryHighWatermark  float64 `yaml:"memory_high_watermark"`
	MemoryLowWatermark   float64 `yaml:"memory_low_watermark"`
	CPUHighWatermark     float64 `yaml:"cpu_high_watermark"`
	BacklogFactor        int     `yaml:"backlog_factor"`
	ShutdownGraceSeconds int     `yaml:"shutdown_grace_seconds"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a positive float, falling back
// to the default when unset or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	cfg.Database = DatabaseConfig{
		URL:          os.Getenv("DATABASE_URL"),
		MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
	}
	cfg.Paths = PathsConfig{
		ImportDir:        envString("IMPORT_DIR", "./import"),
		UploadDir:        envString("UPLOAD_DIR", "./uploads"),
		ThumbnailDir:     envString("THUMBNAIL_DIR", "./thumbnails"),
		ProcessedLogFile: envString("PROCESSED_LOG_FILE", "./uploads/processed.log"),
	}
	cfg.Detector = DetectorConfig{
		URL: os.Getenv("EMBEDDING_URL"),
	}
	cfg.Blob = BlobConfig{
		AccountID: os.Getenv("R2_ACCOUNT_ID"),
		AccessKey: os.Getenv("R2_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		Bucket:    os.Getenv("R2_BUCKET_NAME"),
		Endpoint:  os.Getenv("R2_ENDPOINT"),
	}
	cfg.Server = ServerConfig{
		Host: envString("SERVER_HOST", "127.0.0.1"),
		Port: envInt("SERVER_PORT", 8090),
	}

	// Tolerances are the only tuning knobs exposed through the environment.
	cfg.Clustering.InsightFaceTolerance = envFloat("FACE_MATCH_TOLERANCE", cfg.Clustering.InsightFaceTolerance)
	cfg.Clustering.FaceRecognitionTolerance = envFloat("FACE_RECOGNITION_TOLERANCE", cfg.Clustering.FaceRecognitionTolerance)

	return cfg
}

// SetupDirectories creates the thumbnail and upload directories if missing.
func (c *Config) SetupDirectories() error {
	dirs := []string{
		c.Paths.UploadDir,
		c.Paths.ThumbnailDir,
		c.Paths.ImageThumbDir(),
		c.Paths.FaceThumbDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}
