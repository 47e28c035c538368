package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/models"
)

// TaskFunc is connector code run inside the worker unit
type TaskFunc[S any] func(ctx context.Context, adapter *Adapter[S]) error

// Task is the work of one event type. OnTimeout runs after the soft timeout and
// should emit a progress or error event quickly.
type Task[S any] struct {
	Run       TaskFunc[S]
	OnTimeout TaskFunc[S]
}

// Tasks maps event types to tasks
type Tasks[S any] map[models.EventType]Task[S]

// DefaultTasks returns the built-in tasks for the event types the runtime can
// handle without connector code.
func DefaultTasks[S any]() Tasks[S] {
	attachments := Task[S]{Run: streamAttachmentsTask[S], OnTimeout: attachmentsProgressTask[S]}
	dataLoading := Task[S]{
		Run:       emitLoadingTask[S](models.DataLoadingDone),
		OnTimeout: persistAndEmitLoadingTask[S](models.DataLoadingProgress),
	}
	attachmentLoading := Task[S]{
		Run:       emitLoadingTask[S](models.AttachmentLoadingDone),
		OnTimeout: persistAndEmitLoadingTask[S](models.AttachmentLoadingError),
	}

	return Tasks[S]{
		models.ExtractionAttachmentsStart:    attachments,
		models.ExtractionAttachmentsContinue: attachments,
		models.ExtractionDataDelete: {
			Run:       emitTask[S](models.ExtractionDataDeleteDone),
			OnTimeout: emitTask[S](models.ExtractionDataDeleteError),
		},
		models.ExtractionAttachmentsDelete: {
			Run:       emitTask[S](models.ExtractionAttachmentsDeleteDone),
			OnTimeout: emitTask[S](models.ExtractionAttachmentsDeleteError),
		},
		models.StartLoadingData:           dataLoading,
		models.ContinueLoadingData:        dataLoading,
		models.StartLoadingAttachments:    attachmentLoading,
		models.ContinueLoadingAttachments: attachmentLoading,
		models.StartDeletingLoaderState: {
			Run:       emitTask[S](models.LoaderStateDeletionDone),
			OnTimeout: emitTask[S](models.LoaderStateDeletionError),
		},
		models.StartDeletingLoaderAttachmentState: {
			Run:       emitTask[S](models.LoaderAttachmentStateDeletionDone),
			OnTimeout: emitTask[S](models.LoaderAttachmentStateDeletionError),
		},
	}
}

// lookup returns the connector task for t, falling back to the defaults.
func (ts Tasks[S]) lookup(t models.EventType) (Task[S], bool) {
	if task, ok := ts[t]; ok && task.Run != nil {
		return task, true
	}
	task, ok := DefaultTasks[S]()[t]
	return task, ok
}

func streamAttachmentsTask[S any](ctx context.Context, a *Adapter[S]) error {
	res, err := a.StreamAttachments(ctx, StreamAttachmentsParams[S]{
		Stream:    HTTPAttachmentStream(a.Client()),
		BatchSize: a.attachmentBatchSize,
	})
	switch {
	case res.Delay > 0:
		return a.Emit(ctx, models.ExtractionAttachmentsDelay, &models.EventData{Delay: res.Delay})
	case err != nil:
		a.Logger().Error("failed to stream attachments", zap.Error(err))
		return a.Emit(ctx, models.ExtractionAttachmentsError, &models.EventData{
			Error: &models.ErrorRecord{Message: errors.Public(err)},
		})
	}
	return a.Emit(ctx, models.ExtractionAttachmentsDone, nil)
}

func attachmentsProgressTask[S any](ctx context.Context, a *Adapter[S]) error {
	if err := a.PostState(ctx); err != nil {
		a.Logger().Error("failed to persist state on timeout", zap.Error(err))
	}
	return a.Emit(ctx, models.ExtractionAttachmentsProgress, &models.EventData{Progress: 50})
}

func emitTask[S any](eventType models.OutputEventType) TaskFunc[S] {
	return func(ctx context.Context, a *Adapter[S]) error {
		return a.Emit(ctx, eventType, nil)
	}
}

func emitLoadingTask[S any](eventType models.OutputEventType) TaskFunc[S] {
	return func(ctx context.Context, a *Adapter[S]) error {
		return a.Emit(ctx, eventType, &models.EventData{
			Reports:        a.Reports(),
			ProcessedFiles: a.ProcessedFiles(),
		})
	}
}

func persistAndEmitLoadingTask[S any](eventType models.OutputEventType) TaskFunc[S] {
	return func(ctx context.Context, a *Adapter[S]) error {
		if err := a.PostState(ctx); err != nil {
			a.Logger().Error("failed to persist state on timeout", zap.Error(err))
		}
		return emitLoadingTask[S](eventType)(ctx, a)
	}
}
