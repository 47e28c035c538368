package main

import (
	"os"

	"github.com/tidwall/gjson"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/json"
	"github.com/ajitpratap0/airsync/pkg/models"
)

// readEvents loads a single event object or an array of events.
func readEvents(path string) ([]models.Event, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to read event file %s", path)
	}
	return parseEvents(data)
}

func parseEvents(data []byte) ([]models.Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New(errors.ErrorTypeData, "event file is not valid JSON")
	}

	var events []models.Event
	switch doc := gjson.ParseBytes(data); {
	case doc.IsArray():
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse events")
		}
	case doc.IsObject():
		var event models.Event
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse event")
		}
		events = append(events, event)
	default:
		return nil, errors.New(errors.ErrorTypeData, "event file must hold an object or an array")
	}

	for i, event := range events {
		if event.Payload.EventType == "" {
			return nil, errors.Newf(errors.ErrorTypeData, "event %d has no event_type", i)
		}
	}
	return events, nil
}
