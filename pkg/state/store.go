// Package state keeps the adapter state of a sync unit in the platform's worker data store.
//
// The store holds an in-memory mirror of the last state known to be persisted. Connector
// code mutates the mirror through the adapter; Persist writes it back and replaces the
// mirror only when the platform accepted the write.
package state

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/carlmjohnson/requests"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/json"
	"github.com/ajitpratap0/airsync/pkg/logger"
	"github.com/ajitpratap0/airsync/pkg/metrics"
	"github.com/ajitpratap0/airsync/pkg/models"
	"github.com/ajitpratap0/airsync/pkg/observability"
)

// TimestampLayout is the format of lastSyncStarted and lastSuccessfulSyncStarted
const TimestampLayout = "2006-01-02T15:04:05.000Z"

type stateDocument struct {
	State string `json:"state"`
}

// Store reads and writes the state of one sync unit
type Store[S any] struct {
	client *http.Client
	logger *zap.Logger
	event  *models.Event

	initial S

	mu    sync.RWMutex
	state *models.AdapterState[S]

	now func() time.Time
}

// NewStore creates a store seeded with the direction defaults and the connector's
// initial state. It performs no I/O.
func NewStore[S any](client *http.Client, event *models.Event, initial S, l *zap.Logger) *Store[S] {
	return &Store[S]{
		client:  client,
		logger:  l.With(zap.String("component", "state")),
		event:   event,
		initial: initial,
		state:   models.NewAdapterState(initial, event.Mode(), event.Context.SnapInVersionID),
		now:     time.Now,
	}
}

// Load creates a store and fetches the remote state unless the invocation is stateless.
// On EXTRACTION_DATA_START an empty lastSyncStarted is stamped with the current time.
func Load[S any](ctx context.Context, client *http.Client, event *models.Event, initial S, l *zap.Logger) (*Store[S], error) {
	s := NewStore(client, event, initial, l)
	if event.Type().IsStateless() {
		return s, nil
	}

	if err := s.Fetch(ctx); err != nil {
		return nil, err
	}

	if event.Type() == models.ExtractionDataStart {
		s.mu.Lock()
		if s.state.LastSyncStarted == "" {
			s.state.LastSyncStarted = s.now().UTC().Format(TimestampLayout)
			s.logger.Info("setting lastSyncStarted", zap.String("last_sync_started", s.state.LastSyncStarted))
		}
		s.mu.Unlock()
	}
	return s, nil
}

// State returns the in-memory mirror. Callers serialize access through the adapter.
func (s *Store[S]) State() *models.AdapterState[S] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Fetch loads the remote state into the mirror. A missing state is replaced by the
// defaults, which are persisted right away.
func (s *Store[S]) Fetch(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "state.fetch",
		attribute.String("sync_unit", s.event.Payload.EventContext.SyncUnitID))

	s.logger.Info("fetching state", zap.String("sync_unit_id", s.event.Payload.EventContext.SyncUnitID))

	var doc stateDocument
	err := s.request(s.event.Payload.EventContext.WorkerDataURL + ".get").
		BodyJSON(map[string]interface{}{}).
		ToJSON(&doc).
		Fetch(ctx)

	if requests.HasStatusErr(err, http.StatusNotFound) {
		defaults := models.NewAdapterState(s.initial, s.event.Mode(), s.event.Context.SnapInVersionID)
		s.logger.Info("state not found, using initial state", zap.Any("state", logger.PrintableState(defaults)))
		s.mu.Lock()
		s.state = defaults
		s.mu.Unlock()
		metrics.StateOperations.WithLabelValues("fetch", "not_found").Inc()

		// The defaults are valid in memory even when they cannot be written back.
		if err := s.Persist(ctx, defaults); err != nil {
			s.logger.Warn("failed to persist initial state", zap.Error(err))
		}
		span.End(nil)
		return nil
	}
	if err != nil {
		metrics.StateOperations.WithLabelValues("fetch", "error").Inc()
		s.logger.Error("failed to fetch state", zap.Error(err))
		wrapped := errors.Wrap(err, errors.ErrorTypeState, "failed to fetch state")
		span.End(wrapped)
		return wrapped
	}

	var fetched models.AdapterState[S]
	if err := json.Unmarshal([]byte(doc.State), &fetched); err != nil {
		metrics.StateOperations.WithLabelValues("fetch", "error").Inc()
		wrapped := errors.Wrap(err, errors.ErrorTypeState, "failed to parse fetched state")
		span.End(wrapped)
		return wrapped
	}
	s.ensureDirection(&fetched)

	s.mu.Lock()
	s.state = &fetched
	s.mu.Unlock()

	metrics.StateOperations.WithLabelValues("fetch", "ok").Inc()
	s.logger.Info("state fetched", zap.Any("state", logger.PrintableState(&fetched)))
	span.End(nil)
	return nil
}

// Persist writes next, or the mirror when next is nil, to the platform. The mirror is
// replaced only on success; a failed write leaves it untouched and returns the error.
func (s *Store[S]) Persist(ctx context.Context, next *models.AdapterState[S]) error {
	if next == nil {
		next = s.State()
	}

	ctx, span := observability.StartSpan(ctx, "state.persist")

	encoded, err := json.Marshal(next)
	if err != nil {
		wrapped := errors.Wrap(err, errors.ErrorTypeState, "failed to encode state")
		span.End(wrapped)
		return wrapped
	}

	err = s.request(s.event.Payload.EventContext.WorkerDataURL + ".update").
		BodyJSON(stateDocument{State: string(encoded)}).
		Fetch(ctx)
	if err != nil {
		metrics.StateOperations.WithLabelValues("persist", "error").Inc()
		s.logger.Error("failed to update state", zap.Error(err))
		wrapped := errors.Wrap(err, errors.ErrorTypeState, "failed to update state")
		span.End(wrapped)
		return wrapped
	}

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()

	metrics.StateOperations.WithLabelValues("persist", "ok").Inc()
	s.logger.Info("state updated", zap.Any("state", logger.PrintableState(next)))
	span.End(nil)
	return nil
}

func (s *Store[S]) request(url string) *requests.Builder {
	ec := s.event.Payload.EventContext
	return requests.
		URL(url).
		Client(s.client).
		Header("Authorization", s.event.Token()).
		Param("sync_unit", ec.SyncUnitID).
		Param("request_id", ec.UUID).
		Post()
}

// ensureDirection restores the direction defaults a stored state may lack.
func (s *Store[S]) ensureDirection(st *models.AdapterState[S]) {
	if s.event.IsLoading() {
		if st.FromDevRev == nil {
			st.FromDevRev = &models.FromDevRev{FilesToLoad: []models.FileToLoad{}}
		}
		return
	}
	if st.ToDevRev == nil {
		st.ToDevRev = &models.ToDevRev{AttachmentsMetadata: models.AttachmentsMetadata{ArtifactIDs: []string{}}}
	}
	if st.ToDevRev.AttachmentsMetadata.ArtifactIDs == nil {
		st.ToDevRev.AttachmentsMetadata.ArtifactIDs = []string{}
	}
}
