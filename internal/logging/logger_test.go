package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "WARN")
	log.Info("dropDailyRides.start")
	assert.Zero(t, buf.Len())

	log.Warn("notifyDriverOnClaim.twilioMissing", "eventId", "e1")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "notifyDriverOnClaim.twilioMissing", rec["msg"])
	assert.Equal(t, "e1", rec["eventId"])
	assert.Equal(t, "ride-dispatch", rec["service"])
}

func TestLevelFromString_DefaultsToInfo(t *testing.T) {
	assert.Equal(t, "INFO", levelFromString("verbose").Level().String())
	assert.Equal(t, "DEBUG", levelFromString(" debug ").Level().String())
}
