package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/app"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/models"
)

func memoryApp(t *testing.T) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), config.Config{StoreBackend: config.BackendMemory}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	a.RegisterTriggers(a.Bus)
	return a
}

func run(t *testing.T, a *app.App, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{Open: func(context.Context, *slog.Logger) (*app.App, error) { return a, nil }})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"import", "stats"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	flag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "text", flag.DefValue)
}

func TestImport_DryRunThenReal(t *testing.T) {
	a := memoryApp(t)
	ctx := context.Background()
	require.NoError(t, a.Store.Create(ctx, models.CollectionRideQueue, "q1", models.Fields{"tripId": "T1", "pickupTime": "2025-01-02T15:00:00Z"}))
	require.NoError(t, a.Store.Create(ctx, models.CollectionRideQueue, "q2", models.Fields{"tripId": "T1"}))

	out, err := run(t, a, "import", "--dry-run", "--format", "json")
	require.NoError(t, err)
	var body struct {
		DryRun bool               `json:"dryRun"`
		Stats  models.ImportStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.True(t, body.DryRun)
	assert.Equal(t, 1, body.Stats.Imported)
	assert.Equal(t, 1, body.Stats.DuplicatesFound)

	_, err = a.Base.Get(ctx, models.CollectionLiveRides, "T1")
	require.Error(t, err)

	out, err = run(t, a, "import")
	require.NoError(t, err)
	assert.Contains(t, out, "imported")
	doc, err := a.Base.Get(ctx, models.CollectionLiveRides, "T1")
	require.NoError(t, err)
	assert.Equal(t, "open", doc.Fields["status"])

	out, err = run(t, a, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "trigger: cli")
}

func TestStats_NoRun(t *testing.T) {
	_, err := run(t, memoryApp(t), "stats")
	assert.ErrorIs(t, err, errNoRun)
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, memoryApp(t), "stats", "--format", "yaml")
	assert.Error(t, err)
}
