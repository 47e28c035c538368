// Package protocol sends terminal events from a worker back to the platform callback.
package protocol

import (
	"context"
	"net/http"

	"github.com/carlmjohnson/requests"
	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/models"
)

// WireEvent is the body posted to the callback URL.
type WireEvent struct {
	EventType    models.OutputEventType `json:"event_type"`
	EventContext WireEventContext       `json:"event_context"`
	EventData    models.EventData       `json:"event_data"`
}

// WireEventContext identifies the invocation the event answers.
type WireEventContext struct {
	UUID     string `json:"uuid"`
	SyncRun  string `json:"sync_run"`
	SyncUnit string `json:"sync_unit,omitempty"`
}

// NewWireEvent builds the wire form of a terminal event for an invocation.
func NewWireEvent(event *models.Event, eventType models.OutputEventType, data *models.EventData) WireEvent {
	ec := event.Payload.EventContext
	we := WireEvent{
		EventType: eventType,
		EventContext: WireEventContext{
			UUID:     ec.UUID,
			SyncRun:  ec.SyncRunID,
			SyncUnit: ec.SyncUnitID,
		},
	}
	if data != nil {
		we.EventData = *data
	}
	return we
}

// Emitter posts terminal events through the platform HTTP client
type Emitter struct {
	client *http.Client
	logger *zap.Logger
}

// NewEmitter creates an emitter. client is normally the retrying platform client.
func NewEmitter(client *http.Client, logger *zap.Logger) *Emitter {
	return &Emitter{
		client: client,
		logger: logger.With(zap.String("component", "emitter")),
	}
}

// Emit sends one terminal event for the invocation. The caller is responsible for
// making sure at most one terminal event is emitted per invocation.
func (e *Emitter) Emit(ctx context.Context, event *models.Event, eventType models.OutputEventType, data *models.EventData) error {
	we := NewWireEvent(event, eventType, data)

	e.logger.Info("emitting event",
		zap.String("event_type", string(eventType)),
		zap.String("uuid", we.EventContext.UUID),
		zap.String("sync_run", we.EventContext.SyncRun))

	err := requests.
		URL(event.Payload.EventContext.CallbackURL).
		Client(e.client).
		Accept("application/json, text/plain, */*").
		Header("Authorization", event.Token()).
		BodyJSON(&we).
		Post().
		Fetch(ctx)
	if err != nil {
		e.logger.Error("failed to emit event",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
		return errors.Wrapf(err, errors.ErrorTypeEmission, "failed to emit event %s", eventType)
	}
	return nil
}
