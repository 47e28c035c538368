package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/airsync/pkg/models"
)

func TestNewRejectsInvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)

	l, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestForEventTags(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	event := &models.Event{}
	event.Payload.EventType = models.ExtractionDataStart
	event.Payload.EventContext.UUID = "req-1"
	event.Payload.EventContext.SyncUnitID = "unit-1"

	ForEvent(zap.New(core), event).Info("hello")

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "EXTRACTION_DATA_START", ctx["event_type"])
	assert.Equal(t, "req-1", ctx["request_id"])
	assert.Equal(t, "unit-1", ctx["sync_unit_id"])
	assert.NotContains(t, ctx, "external_sync_unit_id")
}

func TestRelayCoreRoundTrip(t *testing.T) {
	var relayed []Entry
	unit := zap.New(NewRelayCore(zapcore.InfoLevel, func(e Entry) {
		relayed = append(relayed, e)
	})).With(zap.String("component", "pool"))

	unit.Debug("dropped")
	unit.Warn("skipping attachment", zap.String("attachment_id", "a-2"), zap.Int("attempt", 3))

	require.Len(t, relayed, 1)
	assert.Equal(t, zapcore.WarnLevel, relayed[0].Level)
	assert.Equal(t, "pool", relayed[0].Fields["component"])

	core, logs := observer.New(zapcore.DebugLevel)
	Replay(zap.New(core).With(zap.String("request_id", "req-1")), relayed[0])

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "skipping attachment", entry.Message)
	ctx := entry.ContextMap()
	assert.Equal(t, "req-1", ctx["request_id"])
	assert.Equal(t, "a-2", ctx["attachment_id"])
	assert.EqualValues(t, 3, ctx["attempt"])
}

func TestPrintableState(t *testing.T) {
	state := map[string]interface{}{
		"cursor": "abc",
		"toDevRev": map[string]interface{}{
			"artifactIds": []string{"a", "b", "c"},
		},
		"single": []int{7},
	}

	printable := PrintableState(state).(map[string]interface{})
	assert.Equal(t, "abc", printable["cursor"])

	ids := printable["toDevRev"].(map[string]interface{})["artifactIds"].(PrintableArray)
	assert.Equal(t, 3, ids.Length)
	assert.Equal(t, "a", ids.FirstItem)
	assert.Equal(t, "c", ids.LastItem)

	single := printable["single"].(PrintableArray)
	assert.Equal(t, 1, single.Length)
	assert.Nil(t, single.LastItem)
}
