// Package config loads the runtime configuration for the pipeline
// binaries from the process environment, with an optional .env file for
// local development.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every knob the binaries need. All values are resolved
// once by Load at startup and are read-only afterwards.
type Config struct {
	// ServiceName tags logs and metrics so multiple deployments can be
	// told apart.
	ServiceName string
	// InstanceID identifies this process (hostname by default).
	InstanceID string

	// Environment is the top-level namespace in the object store
	// (keys look like {env}/{timestamp}/raw/{source}).
	Environment string

	// Object store connection.
	Bucket    string
	Region    string
	Endpoint  string // optional; set for MinIO or localstack
	AccessKey string
	SecretKey string

	// Relational store.
	StorageKind string // postgres | sqlite | mssql
	StorageDSN  string
	AutoCreate  bool

	// Ingest run parameters.
	Workers     int
	RunDeadline time.Duration
	RunEvery    time.Duration // 0 means run once and exit
	DLQDir      string

	// Scraper parameters.
	Airports     []string
	ScrapeEvery  time.Duration
	HTTPTimeout  time.Duration
	FetchRetries int

	// Metrics.
	MetricsBackend string // datadog | none
	MetricsTags    string // extra comma-separated key:value tags

	// Logging.
	LogLevel   string
	LogPretty  bool
	LogSampleN uint32
}

// Load resolves the configuration from the environment. A .env file in
// the working directory is applied first when present so local runs do
// not need a wrapper script. Missing required values are fatal.
func Load() Config {
	// Ignore the error: a missing .env simply means everything comes
	// from the real environment.
	_ = godotenv.Load()

	return Config{
		ServiceName: envOr("SERVICE_NAME", "flightetl"),
		InstanceID:  instanceID(),

		Environment: must("FLIGHT_ENV"),

		Bucket:    must("RAW_BUCKET"),
		Region:    envOr("AWS_REGION", "us-east-1"),
		Endpoint:  os.Getenv("S3_ENDPOINT"),
		AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),

		StorageKind: envOr("STORAGE_KIND", "postgres"),
		StorageDSN:  must("STORAGE_DSN"),
		AutoCreate:  boolOr("STORAGE_AUTOCREATE", true),

		Workers:     intOr("INGEST_WORKERS", 8),
		RunDeadline: durOr("INGEST_DEADLINE", 30*time.Minute),
		RunEvery:    durOr("INGEST_EVERY", 0),
		DLQDir:      envOr("DLQ_DIR", "dlq"),

		Airports:     splitCSV(os.Getenv("SCRAPE_AIRPORTS")),
		ScrapeEvery:  durOr("SCRAPE_EVERY", 0),
		HTTPTimeout:  durOr("HTTP_TIMEOUT", 30*time.Second),
		FetchRetries: intOr("FETCH_RETRIES", 5),

		MetricsBackend: envOr("METRICS_BACKEND", "none"),
		MetricsTags:    os.Getenv("METRICS_TAGS"),

		LogLevel:   envOr("LOG_LEVEL", "info"),
		LogPretty:  boolOr("LOG_PRETTY", false),
		LogSampleN: uint32(intOr("LOG_SAMPLE_N", 1)),
	}
}

func must(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing required env: %s", key)
	}
	return v
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int env %s=%q: %v", key, v, err)
	}
	return n
}

func boolOr(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid bool env %s=%q: %v", key, v, err)
	}
	return b
}

func durOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration env %s=%q: %v", key, v, err)
	}
	return d
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func instanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
