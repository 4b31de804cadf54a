package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// StorageMode selects the object storage backend for preview images.
type StorageMode string

const (
	StorageMemory     StorageMode = "memory"
	StorageFilesystem StorageMode = "filesystem"
	StorageS3         StorageMode = "s3"
)

// IndexMode selects where preview records and pending deletions are kept.
type IndexMode string

const (
	IndexMemory IndexMode = "memory"
	IndexSQLite IndexMode = "sqlite"
)

const (
	defaultLocalPath      = "./data/previews"
	defaultDataSourceName = "previews.db"
	defaultSweepSchedule  = "0 */5 * * * *"
	defaultSweepBatchSize = 50
	defaultMaxUploadBytes = 10 << 20
	maxUploadBytesLimit   = 100 << 20
)

type (
	Config struct {
		Storage        StorageConfig
		Index          IndexConfig
		Sweeper        SweeperConfig
		MaxUploadBytes int64
		AllowedOrigins []string
	}

	StorageConfig struct {
		Mode StorageMode

		// KeyPrefix is prepended to every object key, e.g. "workflow-previews".
		KeyPrefix string

		LocalPath     string
		PublicBaseURL string

		Bucket    string
		Region    string
		Endpoint  string
		PublicURL string
	}

	IndexConfig struct {
		Mode           IndexMode
		DataSourceName string
	}

	SweeperConfig struct {
		Schedule  string
		BatchSize int
	}
)

// Load reads the configuration from environment variables. A .env file is loaded by main.
func Load() (*Config, error) {
	maxUpload, err := readInt("MAX_UPLOAD_BYTES", defaultMaxUploadBytes, 1, maxUploadBytesLimit)
	if err != nil {
		return nil, err
	}
	batchSize, err := readInt("SWEEP_BATCH_SIZE", defaultSweepBatchSize, 1, 1000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Storage: StorageConfig{
			Mode:          StorageMode(strings.ToLower(getEnv("STORAGE_TYPE", string(StorageMemory)))),
			KeyPrefix:     strings.Trim(os.Getenv("PREVIEW_KEY_PREFIX"), "/"),
			LocalPath:     getEnv("LOCAL_STORAGE_PATH", defaultLocalPath),
			PublicBaseURL: strings.TrimRight(os.Getenv("PREVIEW_PUBLIC_URL"), "/"),
			Bucket:        os.Getenv("S3_BUCKET_NAME"),
			Region:        os.Getenv("S3_REGION"),
			Endpoint:      os.Getenv("S3_ENDPOINT"),
			PublicURL:     strings.TrimRight(os.Getenv("S3_PUBLIC_URL"), "/"),
		},
		Index: IndexConfig{
			Mode:           IndexMode(strings.ToLower(getEnv("INDEX_TYPE", string(IndexMemory)))),
			DataSourceName: getEnv("DATA_SOURCE_NAME", defaultDataSourceName),
		},
		Sweeper: SweeperConfig{
			Schedule:  getEnv("SWEEP_SCHEDULE", defaultSweepSchedule),
			BatchSize: batchSize,
		},
		MaxUploadBytes: int64(maxUpload),
		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "https://*,http://*")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case StorageMemory:
	case StorageFilesystem:
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("LOCAL_STORAGE_PATH is required for filesystem storage")
		}
	case StorageS3:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
	default:
		return fmt.Errorf("STORAGE_TYPE must be one of memory, filesystem, s3; got %q", c.Storage.Mode)
	}

	switch c.Index.Mode {
	case IndexMemory:
	case IndexSQLite:
		if c.Index.DataSourceName == "" {
			return fmt.Errorf("DATA_SOURCE_NAME is required for sqlite index")
		}
	default:
		return fmt.Errorf("INDEX_TYPE must be one of memory, sqlite; got %q", c.Index.Mode)
	}

	if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(c.Sweeper.Schedule); err != nil {
		return fmt.Errorf("SWEEP_SCHEDULE is not a valid cron expression: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func readInt(key string, fallback, min, max int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	if parsed < min || parsed > max {
		return 0, fmt.Errorf("%s must be between %d and %d", key, min, max)
	}
	return parsed, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
