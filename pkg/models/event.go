// Package models defines the invocation event, adapter state and loading
// records exchanged between the sync platform and a connector worker.
package models

// EventType is the type of an invocation event received from the platform.
type EventType string

// OutputEventType is the type of a terminal event sent back to the platform.
type OutputEventType string

// Invocation event types.
const (
	ExtractionExternalSyncUnitsStart EventType = "EXTRACTION_EXTERNAL_SYNC_UNITS_START"
	ExtractionMetadataStart          EventType = "EXTRACTION_METADATA_START"
	ExtractionDataStart              EventType = "EXTRACTION_DATA_START"
	ExtractionDataContinue           EventType = "EXTRACTION_DATA_CONTINUE"
	ExtractionDataDelete             EventType = "EXTRACTION_DATA_DELETE"
	ExtractionAttachmentsStart       EventType = "EXTRACTION_ATTACHMENTS_START"
	ExtractionAttachmentsContinue    EventType = "EXTRACTION_ATTACHMENTS_CONTINUE"
	ExtractionAttachmentsDelete      EventType = "EXTRACTION_ATTACHMENTS_DELETE"

	StartLoadingData                   EventType = "START_LOADING_DATA"
	ContinueLoadingData                EventType = "CONTINUE_LOADING_DATA"
	StartLoadingAttachments            EventType = "START_LOADING_ATTACHMENTS"
	ContinueLoadingAttachments         EventType = "CONTINUE_LOADING_ATTACHMENTS"
	StartDeletingLoaderState           EventType = "START_DELETING_LOADER_STATE"
	StartDeletingLoaderAttachmentState EventType = "START_DELETING_LOADER_ATTACHMENT_STATE"
)

// Extraction output event types.
const (
	ExtractionExternalSyncUnitsDone  OutputEventType = "EXTRACTION_EXTERNAL_SYNC_UNITS_DONE"
	ExtractionExternalSyncUnitsError OutputEventType = "EXTRACTION_EXTERNAL_SYNC_UNITS_ERROR"
	ExtractionMetadataDone           OutputEventType = "EXTRACTION_METADATA_DONE"
	ExtractionMetadataError          OutputEventType = "EXTRACTION_METADATA_ERROR"
	ExtractionDataProgress           OutputEventType = "EXTRACTION_DATA_PROGRESS"
	ExtractionDataDelay              OutputEventType = "EXTRACTION_DATA_DELAY"
	ExtractionDataDone               OutputEventType = "EXTRACTION_DATA_DONE"
	ExtractionDataError              OutputEventType = "EXTRACTION_DATA_ERROR"
	ExtractionDataDeleteDone         OutputEventType = "EXTRACTION_DATA_DELETE_DONE"
	ExtractionDataDeleteError        OutputEventType = "EXTRACTION_DATA_DELETE_ERROR"
	ExtractionAttachmentsProgress    OutputEventType = "EXTRACTION_ATTACHMENTS_PROGRESS"
	ExtractionAttachmentsDelay       OutputEventType = "EXTRACTION_ATTACHMENTS_DELAY"
	ExtractionAttachmentsDone        OutputEventType = "EXTRACTION_ATTACHMENTS_DONE"
	ExtractionAttachmentsError       OutputEventType = "EXTRACTION_ATTACHMENTS_ERROR"
	ExtractionAttachmentsDeleteDone  OutputEventType = "EXTRACTION_ATTACHMENTS_DELETE_DONE"
	ExtractionAttachmentsDeleteError OutputEventType = "EXTRACTION_ATTACHMENTS_DELETE_ERROR"
)

// Loading output event types.
const (
	DataLoadingProgress                OutputEventType = "DATA_LOADING_PROGRESS"
	DataLoadingDelayed                 OutputEventType = "DATA_LOADING_DELAYED"
	DataLoadingDone                    OutputEventType = "DATA_LOADING_DONE"
	DataLoadingError                   OutputEventType = "DATA_LOADING_ERROR"
	AttachmentLoadingProgress          OutputEventType = "ATTACHMENT_LOADING_PROGRESS"
	AttachmentLoadingDelayed           OutputEventType = "ATTACHMENT_LOADING_DELAYED"
	AttachmentLoadingDone              OutputEventType = "ATTACHMENT_LOADING_DONE"
	AttachmentLoadingError             OutputEventType = "ATTACHMENT_LOADING_ERROR"
	LoaderStateDeletionDone            OutputEventType = "LOADER_STATE_DELETION_DONE"
	LoaderStateDeletionError           OutputEventType = "LOADER_STATE_DELETION_ERROR"
	LoaderAttachmentStateDeletionDone  OutputEventType = "LOADER_ATTACHMENT_STATE_DELETION_DONE"
	LoaderAttachmentStateDeletionError OutputEventType = "LOADER_ATTACHMENT_STATE_DELETION_ERROR"
	UnknownEventType                   OutputEventType = "UNKNOWN_EVENT_TYPE"
)

// SyncMode is the mode of a sync run. LOADING selects the loading direction,
// every other mode is an extraction.
type SyncMode string

const (
	SyncModeInitial     SyncMode = "INITIAL"
	SyncModeIncremental SyncMode = "INCREMENTAL"
	SyncModeLoading     SyncMode = "LOADING"
)

var statelessEventTypes = map[EventType]struct{}{
	ExtractionExternalSyncUnitsStart: {},
	ExtractionMetadataStart:          {},
	ExtractionDataDelete:             {},
	ExtractionAttachmentsDelete:      {},
}

var extractionEventTypes = map[EventType]struct{}{
	ExtractionExternalSyncUnitsStart: {},
	ExtractionMetadataStart:          {},
	ExtractionDataStart:              {},
	ExtractionDataContinue:           {},
	ExtractionDataDelete:             {},
	ExtractionAttachmentsStart:       {},
	ExtractionAttachmentsContinue:    {},
	ExtractionAttachmentsDelete:      {},
}

// IsStateless reports whether invocations of this type neither fetch nor persist state.
func (t EventType) IsStateless() bool {
	_, ok := statelessEventTypes[t]
	return ok
}

// IsExtraction reports whether emitted events for this invocation type carry artifacts.
func (t EventType) IsExtraction() bool {
	_, ok := extractionEventTypes[t]
	return ok
}

// Event is the immutable invocation event received from the platform.
type Event struct {
	Context           EventEnvelope          `json:"context"`
	Payload           Payload                `json:"payload"`
	ExecutionMetadata ExecutionMetadata      `json:"execution_metadata"`
	InputData         map[string]interface{} `json:"input_data,omitempty"`
}

// EventEnvelope carries the credentials of the invocation.
type EventEnvelope struct {
	Secrets         Secrets `json:"secrets"`
	SnapInVersionID string  `json:"snap_in_version_id"`
}

// Secrets holds the invocation credentials.
type Secrets struct {
	ServiceAccountToken string `json:"service_account_token"`
}

// ExecutionMetadata describes where the platform API lives.
type ExecutionMetadata struct {
	DevrevEndpoint string `json:"devrev_endpoint"`
}

// Payload is the body of the invocation event.
type Payload struct {
	ConnectionData ConnectionData `json:"connection_data"`
	EventContext   EventContext   `json:"event_context"`
	EventType      EventType      `json:"event_type"`
	EventData      *EventData     `json:"event_data,omitempty"`
}

// ConnectionData holds the external system connection.
type ConnectionData struct {
	OrgID   string `json:"org_id"`
	OrgName string `json:"org_name"`
	Key     string `json:"key"`
	KeyType string `json:"key_type"`
}

// EventContext identifies the sync run, unit and callback of an invocation.
type EventContext struct {
	Mode               SyncMode `json:"mode"`
	CallbackURL        string   `json:"callback_url"`
	DevOrgID           string   `json:"dev_org_id"`
	DevUserID          string   `json:"dev_user_id"`
	ExternalSyncUnitID string   `json:"external_sync_unit_id,omitempty"`
	SyncUnitID         string   `json:"sync_unit_id,omitempty"`
	SyncRunID          string   `json:"sync_run_id"`
	ExternalSystemID   string   `json:"external_system_id"`
	UUID               string   `json:"uuid"`
	WorkerDataURL      string   `json:"worker_data_url"`
	ExternalSystem     string   `json:"external_system"`
	ExternalSystemType string   `json:"external_system_type"`
	ImportSlug         string   `json:"import_slug"`
	SnapInSlug         string   `json:"snap_in_slug"`
	SyncTier           string   `json:"sync_tier"`
}

// ErrorRecord is the error payload of a terminal event.
type ErrorRecord struct {
	Message string `json:"message"`
}

// ExternalSyncUnit describes one container in the external system.
type ExternalSyncUnit struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ItemCount   int    `json:"item_count,omitempty"`
	ItemType    string `json:"item_type,omitempty"`
}

// EventData is the data section shared by invocation and terminal events.
type EventData struct {
	ExternalSyncUnits []ExternalSyncUnit `json:"external_sync_units,omitempty"`
	Progress          int                `json:"progress,omitempty"`
	Error             *ErrorRecord       `json:"error,omitempty"`
	Delay             int                `json:"delay,omitempty"`
	Artifacts         []Artifact         `json:"artifacts,omitempty"`
	Reports           []LoaderReport     `json:"reports,omitempty"`
	ProcessedFiles    []string           `json:"processed_files,omitempty"`
	StatsFile         string             `json:"stats_file,omitempty"`
}

// Type returns the invocation event type.
func (e *Event) Type() EventType {
	return e.Payload.EventType
}

// Mode returns the sync direction of the invocation.
func (e *Event) Mode() SyncMode {
	return e.Payload.EventContext.Mode
}

// IsLoading reports whether the invocation runs in the loading direction.
func (e *Event) IsLoading() bool {
	return e.Payload.EventContext.Mode == SyncModeLoading
}

// Token returns the service account token used for every platform call.
func (e *Event) Token() string {
	return e.Context.Secrets.ServiceAccountToken
}

// Endpoint returns the platform API base URL.
func (e *Event) Endpoint() string {
	return e.ExecutionMetadata.DevrevEndpoint
}

// StatsFile returns the stats file artifact id of a loading invocation.
func (e *Event) StatsFile() string {
	if e.Payload.EventData == nil {
		return ""
	}
	return e.Payload.EventData.StatsFile
}
