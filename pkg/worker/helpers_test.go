package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/airsync/pkg/config"
	"github.com/ajitpratap0/airsync/pkg/models"
	"github.com/ajitpratap0/airsync/pkg/testutil"
)

type testState struct {
	Cursor string `json:"cursor"`
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Worker.Timeout = 300 * time.Millisecond
	cfg.Worker.HardTimeoutMultiplier = 2
	cfg.Worker.EmitDrainWindow = 100 * time.Millisecond
	return cfg
}

func spawnWith(t *testing.T, platform *testutil.MockPlatform, event *models.Event, cfg *config.Config, tasks Tasks[testState]) Result {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	return Spawn(ctx, Options[testState]{
		Event:        event,
		InitialState: testState{Cursor: "initial"},
		Tasks:        tasks,
		Config:       cfg,
		Client:       platform.Client(),
		Logger:       testutil.TestLogger(t),
	})
}

func spawn(t *testing.T, platform *testutil.MockPlatform, eventType models.EventType, task Task[testState]) Result {
	t.Helper()
	return spawnWith(t, platform, platform.NewEvent(eventType), testConfig(), Tasks[testState]{eventType: task})
}

func singleEvent(t *testing.T, platform *testutil.MockPlatform) testutil.EmittedEvent {
	t.Helper()
	events := testutil.WaitForEvents(t, platform, 1, time.Second)
	require.Len(t, events, 1)
	return events[0]
}

func run(fn func(ctx context.Context, a *Adapter[testState]) error) Task[testState] {
	return Task[testState]{Run: fn}
}
