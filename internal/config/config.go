package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendRemote = "remote"
	BackendONNX   = "onnx"
)

type Config struct {
	Env            string
	ListenAddr     string
	MaxConns       int
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	UploadDir      string
	MaxUploadBytes int64

	Detector DetectorConfig

	StatsCacheTTL time.Duration

	MQTT MQTTConfig

	SweepInterval time.Duration
	SweepMinAge   time.Duration
}

type DetectorConfig struct {
	Backend      string
	InferenceURL string
	Timeout      time.Duration
	ModelPath    string
	LibraryPath  string
	Concurrency  int
}

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
}

// NewViper returns a viper instance with defaults registered and environment
// lookup enabled. Keys map to upper-cased environment variables
// (listen_addr -> LISTEN_ADDR).
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("app_env", "development")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("max_conns", 256)
	v.SetDefault("request_timeout", "60s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("store_driver", DriverSQLite)
	v.SetDefault("database_url", "")
	v.SetDefault("sqlite_path", "database/detections.db")
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("max_upload_bytes", 32<<20)
	v.SetDefault("detector_backend", BackendRemote)
	v.SetDefault("inference_url", "http://localhost:5001/predict")
	v.SetDefault("inference_timeout", "30s")
	v.SetDefault("model_path", "models/best.onnx")
	v.SetDefault("onnx_library_path", "")
	v.SetDefault("detector_concurrency", 1)
	v.SetDefault("stats_cache_ttl", "30s")
	v.SetDefault("mqtt_broker", "")
	v.SetDefault("mqtt_topic", "roadscan/detections")
	v.SetDefault("mqtt_client_id", "roadscan")
	v.SetDefault("sweep_interval", "0s")
	v.SetDefault("sweep_min_age", "24h")
	return v
}

// Load reads the configuration from v. The returned Config is populated even
// when validation fails so callers can decide what is fatal.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Env:            v.GetString("app_env"),
		ListenAddr:     v.GetString("listen_addr"),
		MaxConns:       v.GetInt("max_conns"),
		RequestTimeout: v.GetDuration("request_timeout"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
		StoreDriver:    strings.ToLower(v.GetString("store_driver")),
		DatabaseURL:    v.GetString("database_url"),
		SQLitePath:     v.GetString("sqlite_path"),
		UploadDir:      v.GetString("upload_dir"),
		MaxUploadBytes: v.GetInt64("max_upload_bytes"),
		Detector: DetectorConfig{
			Backend:      strings.ToLower(v.GetString("detector_backend")),
			InferenceURL: v.GetString("inference_url"),
			Timeout:      v.GetDuration("inference_timeout"),
			ModelPath:    v.GetString("model_path"),
			LibraryPath:  v.GetString("onnx_library_path"),
			Concurrency:  v.GetInt("detector_concurrency"),
		},
		StatsCacheTTL: v.GetDuration("stats_cache_ttl"),
		MQTT: MQTTConfig{
			Broker:   v.GetString("mqtt_broker"),
			Topic:    v.GetString("mqtt_topic"),
			ClientID: v.GetString("mqtt_client_id"),
		},
		SweepInterval: v.GetDuration("sweep_interval"),
		SweepMinAge:   v.GetDuration("sweep_min_age"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.Detector.Backend {
	case BackendRemote:
		if c.Detector.InferenceURL == "" {
			errs = append(errs, errors.New("INFERENCE_URL is required for the remote detector"))
		}
	case BackendONNX:
		if c.Detector.ModelPath == "" {
			errs = append(errs, errors.New("MODEL_PATH is required for the onnx detector"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DETECTOR_BACKEND %q", c.Detector.Backend))
	}
	if c.Detector.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("DETECTOR_CONCURRENCY must be at least 1, got %d", c.Detector.Concurrency))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes))
	}
	if c.UploadDir == "" {
		errs = append(errs, errors.New("UPLOAD_DIR is required"))
	}
	if c.SweepInterval < 0 || c.SweepMinAge < 0 {
		errs = append(errs, errors.New("sweep durations must not be negative"))
	}
	return errors.Join(errs...)
}
