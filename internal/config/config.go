package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/quake-alert/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreKafka  = "kafka"
)

// Config holds all service settings, populated from environment variables
// and, when CONFIG_FILE is set, a YAML file keyed by the same names.
// Environment variables win over the file.
type Config struct {
	// Reference location and relevance radius.
	ReferenceName     string
	ReferenceLat      float64
	ReferenceLon      float64
	RelevanceRadiusKm float64

	PollInterval time.Duration

	// USGS feed.
	FeedBaseURL      string
	FeedMinMagnitude float64
	FeedBatchLimit   int
	FeedOrder        string
	FeedTimeout      time.Duration
	FeedMaxBackoff   time.Duration
	Timezone         string

	// Notified-event store.
	StoreBackend  string
	LastEventFile string
	SQLitePath    string
	KafkaBrokers  []string
	KafkaTopic    string

	// Telegram.
	TelegramToken   string
	TelegramChatID  int64
	TelegramAPIURL  string
	TelegramTimeout time.Duration
	ChatIDFile      string

	// Map rendering.
	MapImageDir   string
	MapCacheSize  int
	MapboxToken   string
	MapboxEnabled bool
	MapboxStyle   string
	MapboxTimeout time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration, applying defaults where unset.
func Load() (*Config, error) {
	file, err := readFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	p := parser{file: file}

	cfg := &Config{
		ReferenceName:     p.str("REFERENCE_NAME", "Bangkok"),
		ReferenceLat:      p.float("REFERENCE_LAT", 13.7563),
		ReferenceLon:      p.float("REFERENCE_LON", 100.5018),
		RelevanceRadiusKm: p.float("RELEVANCE_RADIUS_KM", 2500),
		PollInterval:      p.seconds("FETCH_INTERVAL_SECONDS", 5),

		FeedBaseURL:      p.str("FEED_BASE_URL", "https://earthquake.usgs.gov/fdsnws/event/1/"),
		FeedMinMagnitude: p.float("FEED_MIN_MAGNITUDE", 4),
		FeedBatchLimit:   p.int("FEED_BATCH_LIMIT", 10),
		FeedOrder:        p.str("FEED_ORDER", "time"),
		FeedTimeout:      p.duration("FEED_TIMEOUT", "10s"),
		FeedMaxBackoff:   p.duration("FEED_MAX_BACKOFF", "5m"),
		Timezone:         p.str("TIMEZONE", "Asia/Bangkok"),

		StoreBackend:  p.str("STORE_BACKEND", StoreFile),
		LastEventFile: p.str("LAST_EVENT_FILE", "last_event.txt"),
		SQLitePath:    p.str("SQLITE_PATH", "notified.db"),
		KafkaBrokers:  sharedcfg.ParseBrokers(p.str("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:    p.str("KAFKA_TOPIC", "notified-earthquakes"),

		TelegramToken:   p.str("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:  p.int64("TELEGRAM_CHAT_ID", 0),
		TelegramAPIURL:  p.str("TELEGRAM_API_URL", "https://api.telegram.org"),
		TelegramTimeout: p.duration("TELEGRAM_TIMEOUT", "10s"),
		ChatIDFile:      p.str("CHAT_ID_FILE", "chat_id.txt"),

		MapImageDir:   p.str("MAP_IMAGE_DIR", os.TempDir()),
		MapCacheSize:  p.int("MAP_CACHE_SIZE", 32),
		MapboxToken:   p.str("MAPBOX_TOKEN", ""),
		MapboxStyle:   p.str("MAPBOX_STYLE", "mapbox/outdoors-v12"),
		MapboxTimeout: p.duration("MAPBOX_TIMEOUT", "10s"),

		HTTPAddr:        p.str("HTTP_ADDR", ":8080"),
		LogLevel:        p.str("LOG_LEVEL", "info"),
		LogFormat:       p.str("LOG_FORMAT", "json"),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", "10s"),
	}

	cfg.MapboxEnabled = cfg.MapboxToken != ""
	if v := p.str("MAPBOX_ENABLED", ""); v != "" {
		cfg.MapboxEnabled = v == "true"
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reference returns the configured point of interest.
func (c *Config) Reference() domain.ReferenceLocation {
	return domain.ReferenceLocation{
		Name:     c.ReferenceName,
		Geo:      domain.Geo{Lat: c.ReferenceLat, Lon: c.ReferenceLon},
		RadiusKm: c.RelevanceRadiusKm,
	}
}

func (c *Config) validate() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if c.ReferenceLat < -90 || c.ReferenceLat > 90 {
		return errors.New("REFERENCE_LAT must be within [-90, 90]")
	}
	if c.ReferenceLon < -180 || c.ReferenceLon > 180 {
		return errors.New("REFERENCE_LON must be within [-180, 180]")
	}
	if c.RelevanceRadiusKm <= 0 {
		return errors.New("RELEVANCE_RADIUS_KM must be positive")
	}
	if c.FeedBatchLimit < 1 || c.FeedBatchLimit > 20000 {
		return errors.New("FEED_BATCH_LIMIT must be between 1 and 20000")
	}
	if c.FeedOrder != "time" && c.FeedOrder != "time-asc" {
		return errors.New(`FEED_ORDER must be "time" or "time-asc"`)
	}
	if c.FeedMaxBackoff < c.PollInterval {
		return errors.New("FEED_MAX_BACKOFF must not be shorter than FETCH_INTERVAL_SECONDS")
	}
	if c.MapCacheSize < 1 {
		return errors.New("MAP_CACHE_SIZE must be positive")
	}
	switch c.StoreBackend {
	case StoreFile:
		if c.LastEventFile == "" {
			return errors.New("LAST_EVENT_FILE is required for the file store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	case StoreKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required for the kafka store")
		}
		if c.KafkaTopic == "" {
			return errors.New("KAFKA_TOPIC is required for the kafka store")
		}
	default:
		return fmt.Errorf("STORE_BACKEND %q is not one of file, sqlite, kafka", c.StoreBackend)
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	return nil
}

func readFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse CONFIG_FILE %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case []any:
			parts := make([]string, len(val))
			for i, item := range val {
				parts[i] = fmt.Sprint(item)
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	}
	return out, nil
}

// parser resolves a key from the environment, then the file, then the
// default, and keeps the first parse error.
type parser struct {
	file map[string]string
	err  error
}

func (p *parser) str(key, def string) string {
	if v, ok := p.file[key]; ok {
		def = v
	}
	return sharedcfg.EnvOrDefault(key, def)
}

func (p *parser) fail(key string, v string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %q", key, v)
	}
}

func (p *parser) float(key string, def float64) float64 {
	s := p.str(key, "")
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(key, s)
		return def
	}
	return v
}

func (p *parser) int(key string, def int) int {
	s := p.str(key, "")
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		p.fail(key, s)
		return def
	}
	return v
}

func (p *parser) int64(key string, def int64) int64 {
	s := p.str(key, "")
	if s == "" {
		return def
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		p.fail(key, s)
		return def
	}
	return v
}

func (p *parser) duration(key, def string) time.Duration {
	s := p.str(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		p.fail(key, s)
		return 0
	}
	return d
}

func (p *parser) seconds(key string, def int) time.Duration {
	n := p.int(key, def)
	if n <= 0 {
		p.fail(key, strconv.Itoa(n))
		return 0
	}
	return time.Duration(n) * time.Second
}
