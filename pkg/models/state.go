package models

import (
	"bytes"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ajitpratap0/airsync/pkg/json"
)

// sdkStateKeys are the top-level keys owned by the runtime in the flat state document.
// Connector state must not use them.
var sdkStateKeys = []string{
	"lastSyncStarted",
	"lastSuccessfulSyncStarted",
	"snapInVersionId",
	"toDevRev",
	"fromDevRev",
}

// SDKState holds the runtime-owned part of the adapter state.
type SDKState struct {
	LastSyncStarted           string      `json:"lastSyncStarted,omitempty"`
	LastSuccessfulSyncStarted string      `json:"lastSuccessfulSyncStarted,omitempty"`
	SnapInVersionID           string      `json:"snapInVersionId,omitempty"`
	ToDevRev                  *ToDevRev   `json:"toDevRev,omitempty"`
	FromDevRev                *FromDevRev `json:"fromDevRev,omitempty"`
}

// ToDevRev is the extraction direction bookkeeping.
type ToDevRev struct {
	AttachmentsMetadata AttachmentsMetadata `json:"attachmentsMetadata"`
}

// AttachmentsMetadata tracks attachment metadata artifacts that still need streaming.
type AttachmentsMetadata struct {
	ArtifactIDs                     []string `json:"artifactIds"`
	LastProcessed                   int      `json:"lastProcessed"`
	LastProcessedAttachmentsIDsList []string `json:"lastProcessedAttachmentsIdsList,omitempty"`
}

// FromDevRev is the loading direction bookkeeping.
type FromDevRev struct {
	FilesToLoad []FileToLoad `json:"filesToLoad"`
}

// AdapterState is the connector defined state S together with the runtime owned fields.
// It serializes to a single flat JSON object.
type AdapterState[S any] struct {
	Connector S
	SDKState
}

// NewAdapterState returns a state seeded with the connector's initial state and
// the defaults of the given direction. Exactly one of ToDevRev and FromDevRev is set.
func NewAdapterState[S any](initial S, mode SyncMode, snapInVersionID string) *AdapterState[S] {
	s := &AdapterState[S]{Connector: initial}
	if mode == SyncModeLoading {
		s.SnapInVersionID = snapInVersionID
		s.FromDevRev = &FromDevRev{FilesToLoad: []FileToLoad{}}
		return s
	}
	s.ToDevRev = &ToDevRev{
		AttachmentsMetadata: AttachmentsMetadata{
			ArtifactIDs:                     []string{},
			LastProcessedAttachmentsIDsList: []string{},
		},
	}
	return s
}

// MarshalJSON merges the connector state and the runtime fields into one object.
func (s AdapterState[S]) MarshalJSON() ([]byte, error) {
	doc, err := json.Marshal(s.Connector)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal connector state: %w", err)
	}
	doc = bytes.TrimSpace(doc)
	switch {
	case bytes.Equal(doc, []byte("null")):
		doc = []byte("{}")
	case len(doc) == 0 || doc[0] != '{':
		return nil, fmt.Errorf("connector state must encode to a JSON object, got %q", truncate(doc, 32))
	}

	sdk, err := json.Marshal(s.SDKState)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sdk state: %w", err)
	}

	var setErr error
	gjson.ParseBytes(sdk).ForEach(func(key, value gjson.Result) bool {
		doc, setErr = sjson.SetRawBytes(doc, key.String(), []byte(value.Raw))
		return setErr == nil
	})
	if setErr != nil {
		return nil, fmt.Errorf("failed to merge sdk state: %w", setErr)
	}
	return doc, nil
}

// UnmarshalJSON splits a flat state object into the connector and runtime parts.
func (s *AdapterState[S]) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid state document")
	}
	if !gjson.ParseBytes(data).IsObject() {
		return fmt.Errorf("state document must be a JSON object")
	}

	var sdk SDKState
	if err := json.Unmarshal(data, &sdk); err != nil {
		return fmt.Errorf("failed to unmarshal sdk state: %w", err)
	}

	rest := append([]byte(nil), data...)
	for _, key := range sdkStateKeys {
		var err error
		if rest, err = sjson.DeleteBytes(rest, key); err != nil {
			return fmt.Errorf("failed to strip %s: %w", key, err)
		}
	}

	var connector S
	if err := json.Unmarshal(rest, &connector); err != nil {
		return fmt.Errorf("failed to unmarshal connector state: %w", err)
	}

	s.Connector = connector
	s.SDKState = sdk
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
