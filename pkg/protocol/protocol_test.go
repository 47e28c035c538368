package protocol

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/json"
	"github.com/ajitpratap0/airsync/pkg/models"
)

func testEvent(callback string) *models.Event {
	return &models.Event{
		Context: models.EventEnvelope{Secrets: models.Secrets{ServiceAccountToken: "token-1"}},
		Payload: models.Payload{
			EventType: models.ExtractionDataStart,
			EventContext: models.EventContext{
				CallbackURL: callback,
				UUID:        "uuid-1",
				SyncRunID:   "run-1",
				SyncUnitID:  "unit-1",
			},
		},
	}
}

func TestEmitPostsWireEvent(t *testing.T) {
	var (
		got    map[string]interface{}
		header http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewEmitter(srv.Client(), zaptest.NewLogger(t))
	err := e.Emit(context.Background(), testEvent(srv.URL), models.ExtractionDataDone, &models.EventData{
		Artifacts: []models.Artifact{{ID: "art-1", ItemType: "issues", ItemCount: 3}},
	})
	require.NoError(t, err)

	assert.Equal(t, "token-1", header.Get("Authorization"))
	assert.Contains(t, header.Get("Content-Type"), "application/json")
	assert.Equal(t, "EXTRACTION_DATA_DONE", got["event_type"])
	assert.Equal(t, map[string]interface{}{"uuid": "uuid-1", "sync_run": "run-1", "sync_unit": "unit-1"}, got["event_context"])
	data := got["event_data"].(map[string]interface{})
	assert.Len(t, data["artifacts"], 1)
	assert.NotContains(t, data, "progress")
}

func TestEmitOmitsEmptySyncUnit(t *testing.T) {
	var got WireEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NotContains(t, string(body), "sync_unit")
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	event := testEvent(srv.URL)
	event.Payload.EventContext.SyncUnitID = ""
	require.NoError(t, NewEmitter(srv.Client(), zaptest.NewLogger(t)).Emit(context.Background(), event, models.ExtractionMetadataDone, nil))
	assert.Equal(t, models.ExtractionMetadataDone, got.EventType)
}

func TestEmitReturnsEmissionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewEmitter(srv.Client(), zaptest.NewLogger(t)).Emit(context.Background(), testEvent(srv.URL), models.ExtractionDataDone, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeEmission))
}

func TestTerminalMappings(t *testing.T) {
	tests := []struct {
		in      models.EventType
		err     models.OutputEventType
		timeout models.OutputEventType
	}{
		{models.ExtractionMetadataStart, models.ExtractionMetadataError, models.ExtractionMetadataError},
		{models.ExtractionDataStart, models.ExtractionDataError, models.ExtractionDataProgress},
		{models.ExtractionDataContinue, models.ExtractionDataError, models.ExtractionDataProgress},
		{models.ExtractionDataDelete, models.ExtractionDataDeleteError, models.ExtractionDataDeleteError},
		{models.ExtractionAttachmentsStart, models.ExtractionAttachmentsError, models.ExtractionAttachmentsProgress},
		{models.ExtractionAttachmentsContinue, models.ExtractionAttachmentsError, models.ExtractionAttachmentsProgress},
		{models.ExtractionAttachmentsDelete, models.ExtractionAttachmentsDeleteError, models.ExtractionAttachmentsDeleteError},
		{models.ExtractionExternalSyncUnitsStart, models.ExtractionExternalSyncUnitsError, models.ExtractionExternalSyncUnitsError},
		{models.StartLoadingData, models.DataLoadingError, models.DataLoadingError},
		{models.ContinueLoadingAttachments, models.AttachmentLoadingError, models.AttachmentLoadingError},
		{models.StartDeletingLoaderAttachmentState, models.LoaderStateDeletionError, models.LoaderStateDeletionError},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			errType, ok := TerminalErrorEventType(tt.in)
			require.True(t, ok)
			assert.Equal(t, tt.err, errType)
			assert.True(t, IsErrorEventType(errType))

			timeoutType, ok := TimeoutEventType(tt.in)
			require.True(t, ok)
			assert.Equal(t, tt.timeout, timeoutType)
		})
	}

	_, ok := TerminalErrorEventType("SOMETHING_ELSE")
	assert.False(t, ok)
	assert.False(t, IsErrorEventType(models.ExtractionDataProgress))
}
