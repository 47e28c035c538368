package protocol

import "github.com/ajitpratap0/airsync/pkg/models"

type terminalMapping struct {
	err     models.OutputEventType
	timeout models.OutputEventType
}

var terminalMappings = map[models.EventType]terminalMapping{
	models.ExtractionMetadataStart:          {models.ExtractionMetadataError, models.ExtractionMetadataError},
	models.ExtractionDataStart:              {models.ExtractionDataError, models.ExtractionDataProgress},
	models.ExtractionDataContinue:           {models.ExtractionDataError, models.ExtractionDataProgress},
	models.ExtractionDataDelete:             {models.ExtractionDataDeleteError, models.ExtractionDataDeleteError},
	models.ExtractionAttachmentsStart:       {models.ExtractionAttachmentsError, models.ExtractionAttachmentsProgress},
	models.ExtractionAttachmentsContinue:    {models.ExtractionAttachmentsError, models.ExtractionAttachmentsProgress},
	models.ExtractionAttachmentsDelete:      {models.ExtractionAttachmentsDeleteError, models.ExtractionAttachmentsDeleteError},
	models.ExtractionExternalSyncUnitsStart: {models.ExtractionExternalSyncUnitsError, models.ExtractionExternalSyncUnitsError},
	models.StartLoadingData:                 {models.DataLoadingError, models.DataLoadingError},
	models.ContinueLoadingData:              {models.DataLoadingError, models.DataLoadingError},
	models.StartLoadingAttachments:          {models.AttachmentLoadingError, models.AttachmentLoadingError},
	models.ContinueLoadingAttachments:       {models.AttachmentLoadingError, models.AttachmentLoadingError},
	models.StartDeletingLoaderState:         {models.LoaderStateDeletionError, models.LoaderStateDeletionError},
	models.StartDeletingLoaderAttachmentState: {
		models.LoaderStateDeletionError, models.LoaderStateDeletionError,
	},
}

// TerminalErrorEventType returns the error event that ends an invocation of the given type
// when the worker exits without emitting. The boolean is false for unknown event types.
func TerminalErrorEventType(t models.EventType) (models.OutputEventType, bool) {
	m, ok := terminalMappings[t]
	return m.err, ok
}

// TimeoutEventType returns the event emitted on behalf of a worker that ran out of time.
// Resumable phases report progress so the platform continues them in a new invocation.
func TimeoutEventType(t models.EventType) (models.OutputEventType, bool) {
	m, ok := terminalMappings[t]
	return m.timeout, ok
}

// IsErrorEventType reports whether t is one of the *_ERROR terminal events.
func IsErrorEventType(t models.OutputEventType) bool {
	for _, m := range terminalMappings {
		if m.err == t {
			return true
		}
	}
	return t == models.UnknownEventType
}
