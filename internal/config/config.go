package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/example/ride-dispatch/internal/schedule"
)

// Store backends accepted by STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config captures every tunable of the server, consumer and ridectl
// binaries. Defaults let the server run locally on the in-memory store.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":2112"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StoreBackend  string `env:"STORE_BACKEND" envDefault:"memory"`
	PGDSN         string `env:"PG_DSN"`
	RunMigrations bool   `env:"MIGRATE" envDefault:"false"`
	MongoURI      string `env:"MONGODB_URI"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"ride_dispatch"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	GuardTTL      time.Duration `env:"GUARD_TTL" envDefault:"168h"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"ride-changes"`
	KafkaGroup   string   `env:"KAFKA_GROUP" envDefault:"ride-dispatch-triggers"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `env:"TWILIO_FROM"`
	FCMEndpoint      string `env:"FCM_ENDPOINT"`
	FCMKey           string `env:"FCM_KEY"`

	AdminToken string `env:"ADMIN_TOKEN"`

	ScheduleEnabled  bool     `env:"SCHEDULE_ENABLED" envDefault:"true"`
	ScheduleTimeZone string   `env:"SCHEDULE_TIME_ZONE" envDefault:"America/Chicago"`
	ScheduleRuns     []string `env:"SCHEDULE_RUNS" envSeparator:"," envDefault:"noon-schedule@12,evening-schedule@20"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)
	cfg.ScheduleRuns = trimAll(cfg.ScheduleRuns)
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.PGDSN == "" {
			errs = append(errs, errors.New("PG_DSN is required for STORE_BACKEND=postgres"))
		}
	case BackendMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGODB_URI is required for STORE_BACKEND=mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if c.KafkaEnabled() && c.StoreBackend == BackendMemory {
		errs = append(errs, errors.New("KAFKA_BROKERS needs a shared STORE_BACKEND (postgres or mongo); the consumer cannot see an in-memory store"))
	}
	if _, err := schedule.ParseSlots(c.ScheduleRuns); err != nil {
		errs = append(errs, fmt.Errorf("invalid SCHEDULE_RUNS: %w", err))
	}
	if _, err := time.LoadLocation(c.ScheduleTimeZone); err != nil {
		errs = append(errs, fmt.Errorf("invalid SCHEDULE_TIME_ZONE: %w", err))
	}
	if c.GuardTTL <= 0 {
		errs = append(errs, errors.New("GUARD_TTL must be > 0"))
	}
	return errors.Join(errs...)
}

// KafkaEnabled reports whether change events go over Kafka instead of the
// in-process bus.
func (c Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// ScheduleSlots returns the parsed SCHEDULE_RUNS. Validate has already
// checked them.
func (c Config) ScheduleSlots() []schedule.Slot {
	slots, _ := schedule.ParseSlots(c.ScheduleRuns)
	return slots
}

// Location returns the schedule time zone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ScheduleTimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
