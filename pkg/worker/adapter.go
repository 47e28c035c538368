package worker

import (
	"context"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/mappers"
	"github.com/ajitpratap0/airsync/pkg/metrics"
	"github.com/ajitpratap0/airsync/pkg/models"
	"github.com/ajitpratap0/airsync/pkg/observability"
	"github.com/ajitpratap0/airsync/pkg/protocol"
	"github.com/ajitpratap0/airsync/pkg/repo"
	"github.com/ajitpratap0/airsync/pkg/state"
	"github.com/ajitpratap0/airsync/pkg/uploader"
)

var (
	// ErrAlreadyEmitted is returned by Emit after the first call
	ErrAlreadyEmitted = errors.New(errors.ErrorTypeEmission, "terminal event already emitted")
	// ErrEmissionDenied is returned when the controller no longer accepts an emission
	ErrEmissionDenied = errors.New(errors.ErrorTypeEmission, "emission denied by the worker controller")
)

type emitPhase int

const (
	emitPending emitPhase = iota
	emitEmitting
	emitDone
)

// Adapter is the connector's view of one invocation. It owns the state, the repos
// and the uploader, and sends the single terminal event through Emit.
type Adapter[S any] struct {
	event         *models.Event
	logger        *zap.Logger
	client        *http.Client
	store         *state.Store[S]
	emitter       *protocol.Emitter
	uploader      *uploader.Uploader
	mappers       *mappers.Client
	link          unitLink
	repoBatchSize int
	// attachmentBatchSize is the stream concurrency of the default attachments task
	attachmentBatchSize int

	// stateMu serializes runtime mutations of the state mirror and its persistence.
	stateMu sync.Mutex

	mu             sync.Mutex
	phase          emitPhase
	timedOut       bool
	repos          []*repo.Repo
	artifacts      []models.Artifact
	reports        models.LoaderReports
	processedFiles []string
}

type adapterDeps[S any] struct {
	event               *models.Event
	client              *http.Client
	store               *state.Store[S]
	link                unitLink
	logger              *zap.Logger
	repoBatchSize       int
	attachmentBatchSize int
	mirror              uploader.Mirror
}

func newAdapter[S any](d adapterDeps[S]) *Adapter[S] {
	var opts []uploader.Option
	if d.mirror != nil {
		opts = append(opts, uploader.WithMirror(d.mirror))
	}
	return &Adapter[S]{
		event:               d.event,
		logger:              d.logger,
		client:              d.client,
		store:               d.store,
		emitter:             protocol.NewEmitter(d.client, d.logger),
		uploader:            uploader.New(d.client, d.event, d.logger, opts...),
		mappers:             mappers.New(d.client, d.event),
		link:                d.link,
		repoBatchSize:       d.repoBatchSize,
		attachmentBatchSize: d.attachmentBatchSize,
	}
}

// Event returns the invocation event
func (a *Adapter[S]) Event() *models.Event { return a.event }

// Logger returns the worker logger. Entries are relayed to the controller.
func (a *Adapter[S]) Logger() *zap.Logger { return a.logger }

// Client returns the retrying platform HTTP client
func (a *Adapter[S]) Client() *http.Client { return a.client }

// Uploader returns the artifact uploader of the invocation
func (a *Adapter[S]) Uploader() *uploader.Uploader { return a.uploader }

// Mappers returns the sync mapper client of the invocation
func (a *Adapter[S]) Mappers() *mappers.Client { return a.mappers }

// State returns the state mirror. Connector code may mutate the connector part directly.
func (a *Adapter[S]) State() *models.AdapterState[S] {
	return a.store.State()
}

// UpdateState applies fn to the state mirror. Updates are ignored after a timeout
// so a late task cannot overwrite what the timeout handler persisted.
func (a *Adapter[S]) UpdateState(fn func(st *models.AdapterState[S])) bool {
	if a.IsTimeout() {
		a.logger.Warn("ignoring state update after timeout")
		return false
	}
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	fn(a.store.State())
	return true
}

// PostState persists the state mirror.
func (a *Adapter[S]) PostState(ctx context.Context) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.store.Persist(ctx, nil)
}

// HandleTimeout marks the invocation as timed out. Long running loops stop at
// their next item.
func (a *Adapter[S]) HandleTimeout() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timedOut = true
}

// IsTimeout reports whether the soft timeout was signaled
func (a *Adapter[S]) IsTimeout() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timedOut
}

// InitializeRepos replaces the repos of the invocation with one repo per spec.
func (a *Adapter[S]) InitializeRepos(specs []repo.Spec) {
	repos := make([]*repo.Repo, 0, len(specs))
	for _, spec := range specs {
		itemType := spec.ItemType
		repos = append(repos, repo.New(a.uploader, repo.Options{
			Spec:      spec,
			BatchSize: a.repoBatchSize,
			OnUpload: func(artifact models.Artifact) {
				a.addArtifacts(artifact)
				if itemType == models.ItemTypeAttachments {
					a.queueAttachmentsArtifact(artifact.ID)
				}
			},
		}, a.logger))
	}

	a.mu.Lock()
	a.repos = repos
	a.mu.Unlock()
}

// GetRepo returns the repo of an item type, or nil when it was not initialized.
func (a *Adapter[S]) GetRepo(itemType string) *repo.Repo {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.repos {
		if r.ItemType() == itemType {
			return r
		}
	}
	a.logger.Error("repo not found", zap.String("item_type", itemType))
	return nil
}

// Artifacts returns the artifacts uploaded since the last emission
func (a *Adapter[S]) Artifacts() []models.Artifact {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Artifact(nil), a.artifacts...)
}

// Reports returns the loader reports accumulated in this invocation
func (a *Adapter[S]) Reports() []models.LoaderReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.LoaderReport(nil), a.reports...)
}

// ProcessedFiles returns the ids of transformer files fully loaded in this invocation
func (a *Adapter[S]) ProcessedFiles() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.processedFiles...)
}

// UploadAllRepos flushes every repo, stopping at the first failure.
func (a *Adapter[S]) UploadAllRepos(ctx context.Context) error {
	a.mu.Lock()
	repos := append([]*repo.Repo(nil), a.repos...)
	a.mu.Unlock()

	for _, r := range repos {
		if err := r.Upload(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Emit uploads the repos, persists the state and sends the terminal event. Only the
// first call sends anything. Failures end the invocation: the unit is asked to exit
// and the controller reports the error event. The returned error is informational.
func (a *Adapter[S]) Emit(ctx context.Context, eventType models.OutputEventType, data *models.EventData) error {
	a.mu.Lock()
	if a.phase != emitPending {
		a.mu.Unlock()
		a.logger.Warn("ignoring emit request, event already emitted", zap.String("new_event_type", string(eventType)))
		return ErrAlreadyEmitted
	}
	a.phase = emitEmitting
	a.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "adapter.emit", attribute.String("event_type", string(eventType)))

	if eventType != models.ExtractionExternalSyncUnitsDone {
		if err := a.UploadAllRepos(ctx); err != nil {
			a.logger.Error("failed to upload repos", zap.Error(err))
			return a.abort(span, "upload", err)
		}
	}

	if eventType == models.ExtractionAttachmentsDone {
		a.stateMu.Lock()
		st := a.store.State()
		a.logger.Info("overwriting lastSuccessfulSyncStarted with lastSyncStarted",
			zap.String("last_sync_started", st.LastSyncStarted))
		st.LastSuccessfulSyncStarted = st.LastSyncStarted
		st.LastSyncStarted = ""
		a.stateMu.Unlock()
	}

	if !a.event.Type().IsStateless() {
		a.logger.Info("saving state before emitting event", zap.String("new_event_type", string(eventType)))
		if err := a.PostState(ctx); err != nil {
			return a.abort(span, "persist", err)
		}
	}

	if !a.link.claim() {
		a.logger.Warn("emission denied, invocation already resolved", zap.String("new_event_type", string(eventType)))
		a.finish()
		metrics.EmitFailures.WithLabelValues("claim").Inc()
		span.End(ErrEmissionDenied)
		return ErrEmissionDenied
	}

	payload := a.payload(data)

	// A claimed emission is allowed to complete after the unit context is cancelled.
	if err := a.emitter.Emit(context.WithoutCancel(ctx), a.event, eventType, &payload); err != nil {
		a.link.release()
		return a.abort(span, "send", err)
	}

	a.mu.Lock()
	a.artifacts = nil
	a.phase = emitDone
	a.mu.Unlock()

	a.link.emitted(eventType)
	metrics.EventsEmitted.WithLabelValues(string(eventType), metrics.OriginWorker).Inc()
	span.End(nil)
	return nil
}

func (a *Adapter[S]) payload(data *models.EventData) models.EventData {
	var payload models.EventData
	if data != nil {
		payload = *data
	}
	if a.event.Type().IsExtraction() {
		a.mu.Lock()
		payload.Artifacts = dedupArtifacts(append(append([]models.Artifact(nil), payload.Artifacts...), a.artifacts...))
		a.mu.Unlock()
	}
	return payload
}

func (a *Adapter[S]) abort(span *observability.Span, stage string, err error) error {
	metrics.EmitFailures.WithLabelValues(stage).Inc()
	a.finish()
	a.link.exit()
	span.End(err)
	return err
}

func (a *Adapter[S]) finish() {
	a.mu.Lock()
	a.phase = emitDone
	a.mu.Unlock()
}

func (a *Adapter[S]) addArtifacts(artifacts ...models.Artifact) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.artifacts = dedupArtifacts(append(a.artifacts, artifacts...))
}

func (a *Adapter[S]) queueAttachmentsArtifact(id string) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	st := a.store.State()
	if st.ToDevRev == nil {
		return
	}
	st.ToDevRev.AttachmentsMetadata.ArtifactIDs = append(st.ToDevRev.AttachmentsMetadata.ArtifactIDs, id)
}

func (a *Adapter[S]) addReport(report models.LoaderReport) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = a.reports.Add(report)
}

func (a *Adapter[S]) addProcessedFile(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.processedFiles = append(a.processedFiles, id)
}

func dedupArtifacts(artifacts []models.Artifact) []models.Artifact {
	seen := make(map[string]struct{}, len(artifacts))
	out := artifacts[:0]
	for _, artifact := range artifacts {
		if _, ok := seen[artifact.ID]; ok {
			continue
		}
		seen[artifact.ID] = struct{}{}
		out = append(out, artifact)
	}
	return out
}
