package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/airsync/pkg/models"
	"github.com/ajitpratap0/airsync/pkg/testutil"
)

func TestDefaultTasksCoverRuntimeEventTypes(t *testing.T) {
	tasks := DefaultTasks[testState]()
	for _, eventType := range []models.EventType{
		models.ExtractionAttachmentsStart,
		models.ExtractionAttachmentsContinue,
		models.ExtractionDataDelete,
		models.ExtractionAttachmentsDelete,
		models.StartLoadingData,
		models.ContinueLoadingData,
		models.StartLoadingAttachments,
		models.ContinueLoadingAttachments,
		models.StartDeletingLoaderState,
		models.StartDeletingLoaderAttachmentState,
	} {
		task, ok := tasks[eventType]
		if assert.True(t, ok, string(eventType)) {
			assert.NotNil(t, task.Run, string(eventType))
			assert.NotNil(t, task.OnTimeout, string(eventType))
		}
	}
	_, ok := tasks[models.ExtractionDataStart]
	assert.False(t, ok)
}

func TestTasksLookupPrefersConnectorTask(t *testing.T) {
	custom := run(func(context.Context, *Adapter[testState]) error { return nil })
	tasks := Tasks[testState]{models.StartLoadingData: custom}

	task, ok := tasks.lookup(models.StartLoadingData)
	assert.True(t, ok)
	assert.Nil(t, task.OnTimeout)

	task, ok = tasks.lookup(models.StartDeletingLoaderState)
	assert.True(t, ok)
	assert.NotNil(t, task.OnTimeout)

	_, ok = tasks.lookup(models.ExtractionMetadataStart)
	assert.False(t, ok)
}

func TestDefaultDeleteTasksEmitDone(t *testing.T) {
	tests := []struct {
		eventType models.EventType
		want      models.OutputEventType
	}{
		{models.ExtractionDataDelete, models.ExtractionDataDeleteDone},
		{models.ExtractionAttachmentsDelete, models.ExtractionAttachmentsDeleteDone},
		{models.StartDeletingLoaderAttachmentState, models.LoaderAttachmentStateDeletionDone},
	}
	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			platform := testutil.NewMockPlatform(t)
			spawnWith(t, platform, platform.NewEvent(tt.eventType), testConfig(), nil)
			assert.Equal(t, tt.want, singleEvent(t, platform).EventType)
		})
	}
}

func TestDefaultLoadingTaskEmitsDone(t *testing.T) {
	platform := testutil.NewMockPlatform(t)

	spawnWith(t, platform, platform.NewEvent(models.ContinueLoadingAttachments), testConfig(), nil)

	assert.Equal(t, models.AttachmentLoadingDone, singleEvent(t, platform).EventType)
}
