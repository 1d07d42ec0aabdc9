package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/schedule"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, []schedule.Slot{{Label: "noon-schedule", Hour: 12}, {Label: "evening-schedule", Hour: 20}}, cfg.ScheduleSlots())
	assert.Equal(t, "America/Chicago", cfg.ScheduleTimeZone)
	assert.Equal(t, 168*time.Hour, cfg.GuardTTL)
	assert.True(t, cfg.ScheduleEnabled)
	assert.False(t, cfg.KafkaEnabled())
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("PG_DSN", "postgres://localhost/rides")
	t.Setenv("HTTP_READ_TIMEOUT", "2s")
	t.Setenv("LOG_LEVEL", " DEBUG ")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParse_ValidationErrorsAreJoined(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")
	t.Setenv("SCHEDULE_RUNS", "noon-schedule@25")
	t.Setenv("SCHEDULE_TIME_ZONE", "Mars/Olympus")

	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGODB_URI is required")
	assert.Contains(t, err.Error(), "SCHEDULE_RUNS")
	assert.Contains(t, err.Error(), "SCHEDULE_TIME_ZONE")
}

func TestParse_BadDuration(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	_, err := Parse()
	assert.Error(t, err)
}

func TestParse_KafkaNeedsSharedStore(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka:9092")
	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS needs a shared STORE_BACKEND")

	t.Setenv("STORE_BACKEND", "mongo")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	cfg, err := Parse()
	require.NoError(t, err)
	assert.True(t, cfg.KafkaEnabled())
}

func TestParse_ScheduleRuns(t *testing.T) {
	t.Setenv("SCHEDULE_RUNS", "noon-schedule@12")
	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, []schedule.Slot{{Label: "noon-schedule", Hour: 12}}, cfg.ScheduleSlots())
}
