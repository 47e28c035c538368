package testutil

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/ajitpratap0/airsync/pkg/compression"
	"github.com/ajitpratap0/airsync/pkg/json"
	"github.com/ajitpratap0/airsync/pkg/models"
)

// Paths served by MockPlatform.
const (
	CallbackPath      = "/callback"
	WorkerDataPath    = "/internal/airdrop.external-worker"
	PreparePath       = "/artifacts.prepare"
	LocatePath        = "/artifacts.locate"
	ConfirmPath       = "/internal/airdrop.artifacts.confirm-upload"
	MapperGetPath     = "/internal/airdrop.sync-mapper-record.get-by-target"
	MapperCreatePath  = "/internal/airdrop.sync-mapper-record.create"
	MapperUpdatePath  = "/internal/airdrop.sync-mapper-record.update"
	SnapInVersionPath = "/internal/snap-in-versions.get"
	BlueprintPath     = "/internal/airdrop.recipe.blueprints.create"
	InstallPath       = "/internal/airdrop.recipe.initial-domain-mappings.install"
	uploadPrefix      = "/upload/"
	downloadPrefix    = "/download/"
)

// Request is a request recorded by MockPlatform
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// EmittedEvent is a terminal event received on the callback URL
type EmittedEvent struct {
	EventType    models.OutputEventType `json:"event_type"`
	EventContext map[string]string      `json:"event_context"`
	EventData    models.EventData       `json:"event_data"`
}

// MockPlatform is an in-memory platform: callback receiver, worker data store,
// artifact store and sync mapper. Handlers can be overridden per path.
type MockPlatform struct {
	Server *httptest.Server
	t      *testing.T

	mu        sync.Mutex
	requests  []Request
	overrides map[string]http.HandlerFunc
	state     map[string]string
	artifacts map[string][]byte
	mappers   map[string]map[string]interface{}
}

// NewMockPlatform starts a platform server that is closed with the test.
func NewMockPlatform(t *testing.T) *MockPlatform {
	m := &MockPlatform{
		t:         t,
		overrides: make(map[string]http.HandlerFunc),
		state:     make(map[string]string),
		artifacts: make(map[string][]byte),
		mappers:   make(map[string]map[string]interface{}),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.Server.Close)
	return m
}

// URL returns the base URL of the platform
func (m *MockPlatform) URL() string {
	return m.Server.URL
}

// Client returns an HTTP client for the platform server
func (m *MockPlatform) Client() *http.Client {
	return m.Server.Client()
}

// NewEvent builds an invocation event wired to this platform.
func (m *MockPlatform) NewEvent(eventType models.EventType) *models.Event {
	mode := models.SyncModeInitial
	switch eventType {
	case models.StartLoadingData, models.ContinueLoadingData,
		models.StartLoadingAttachments, models.ContinueLoadingAttachments,
		models.StartDeletingLoaderState, models.StartDeletingLoaderAttachmentState:
		mode = models.SyncModeLoading
	}
	return &models.Event{
		Context: models.EventEnvelope{
			Secrets:         models.Secrets{ServiceAccountToken: "test-token"},
			SnapInVersionID: "snap-in-version-1",
		},
		Payload: models.Payload{
			EventType: eventType,
			ConnectionData: models.ConnectionData{
				OrgID: "org-1",
				Key:   "external-key",
			},
			EventContext: models.EventContext{
				Mode:               mode,
				CallbackURL:        m.URL() + CallbackPath,
				DevOrgID:           "dev-org-1",
				SyncUnitID:         "sync-unit-1",
				SyncRunID:          "sync-run-1",
				ExternalSyncUnitID: "external-sync-unit-1",
				UUID:               uuid.NewString(),
				WorkerDataURL:      m.URL() + WorkerDataPath,
				ExternalSystemType: "test",
			},
		},
		ExecutionMetadata: models.ExecutionMetadata{DevrevEndpoint: m.URL()},
	}
}

// Handle overrides the handler of a path.
func (m *MockPlatform) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[path] = h
}

// RespondStatus makes path answer with a fixed status code.
func (m *MockPlatform) RespondStatus(path string, status int) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

// Requests returns the recorded requests for path, or every request when path is empty.
func (m *MockPlatform) Requests(path string) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.requests {
		if path == "" || r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Events returns the terminal events received on the callback URL.
func (m *MockPlatform) Events() []EmittedEvent {
	var events []EmittedEvent
	for _, r := range m.Requests(CallbackPath) {
		var e EmittedEvent
		if err := json.Unmarshal(r.Body, &e); err != nil {
			m.t.Errorf("invalid callback body: %v", err)
			continue
		}
		events = append(events, e)
	}
	return events
}

// SetState stores a raw state document for a sync unit.
func (m *MockPlatform) SetState(syncUnit, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[syncUnit] = state
}

// State returns the stored state document of a sync unit.
func (m *MockPlatform) State(syncUnit string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[syncUnit]
	return s, ok
}

// PutArtifact stores an artifact and returns its id.
func (m *MockPlatform) PutArtifact(data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "artifact-" + uuid.NewString()
	m.artifacts[id] = data
	return id
}

// PutJSONLArtifact stores items as a gzipped JSONL artifact.
func (m *MockPlatform) PutJSONLArtifact(items interface{}) string {
	lines, err := json.MarshalLines(toSlice(items))
	if err != nil {
		m.t.Fatalf("marshal artifact: %v", err)
	}
	gz, err := compression.NewGzip(compression.Default).Compress(lines)
	if err != nil {
		m.t.Fatalf("compress artifact: %v", err)
	}
	return m.PutArtifact(gz)
}

// Artifact returns the stored artifact body.
func (m *MockPlatform) Artifact(id string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.artifacts[id]
	return data, ok
}

// ArtifactLines decompresses a JSONL artifact into generic objects.
func (m *MockPlatform) ArtifactLines(id string) []map[string]interface{} {
	data, ok := m.Artifact(id)
	if !ok {
		m.t.Fatalf("artifact %s not found", id)
	}
	plain, err := compression.NewGzip(compression.Default).Decompress(data)
	if err != nil {
		m.t.Fatalf("decompress artifact %s: %v", id, err)
	}
	lines, err := json.UnmarshalLines[map[string]interface{}](plain)
	if err != nil {
		m.t.Fatalf("parse artifact %s: %v", id, err)
	}
	return lines
}

// AddMapper registers a sync mapper record for a target id.
func (m *MockPlatform) AddMapper(target string, record map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappers[target] = record
}

func (m *MockPlatform) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec := Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Header: r.Header.Clone(), Body: body}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	override := m.overrides[r.URL.Path]
	m.mu.Unlock()

	if override != nil {
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		override(w, r)
		return
	}

	switch {
	case r.URL.Path == CallbackPath, r.URL.Path == ConfirmPath:
		writeJSON(w, http.StatusOK, map[string]interface{}{})
	case r.URL.Path == WorkerDataPath+".get":
		m.mu.Lock()
		state, ok := m.state[rec.Query.Get("sync_unit")]
		m.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "state not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"state": state})
	case r.URL.Path == WorkerDataPath+".update":
		var doc struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		m.SetState(rec.Query.Get("sync_unit"), doc.State)
		writeJSON(w, http.StatusOK, map[string]interface{}{})
	case r.URL.Path == PreparePath:
		id := "artifact-" + uuid.NewString()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"artifact_id": id,
			"url":         m.URL() + uploadPrefix + id,
			"form_data":   []map[string]string{{"key": "policy", "value": "test"}},
		})
	case strings.HasPrefix(r.URL.Path, uploadPrefix):
		m.storeUpload(w, r, strings.TrimPrefix(r.URL.Path, uploadPrefix), body)
	case r.URL.Path == LocatePath:
		var req struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(body, &req)
		if _, ok := m.Artifact(req.ID); !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "artifact not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": m.URL() + downloadPrefix + req.ID})
	case strings.HasPrefix(r.URL.Path, downloadPrefix):
		data, ok := m.Artifact(strings.TrimPrefix(r.URL.Path, downloadPrefix))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	case r.URL.Path == MapperGetPath:
		m.mu.Lock()
		record, ok := m.mappers[rec.Query.Get("target")]
		m.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "mapper not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"sync_mapper_record": record})
	case r.URL.Path == MapperCreatePath, r.URL.Path == MapperUpdatePath:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sync_mapper_record": map[string]interface{}{"id": "mapper-" + uuid.NewString()},
		})
	case r.URL.Path == SnapInVersionPath:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"snap_in_version": map[string]interface{}{
				"slug":    "snap-in-slug",
				"imports": []map[string]string{{"slug": "import-slug"}},
			},
		})
	case r.URL.Path == BlueprintPath:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"recipe_blueprint": map[string]string{"id": "blueprint-1"},
		})
	case r.URL.Path == InstallPath:
		writeJSON(w, http.StatusOK, map[string]interface{}{})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": fmt.Sprintf("no handler for %s", r.URL.Path)})
	}
}

// storeUpload keeps the "file" part of a multipart upload as the artifact body.
func (m *MockPlatform) storeUpload(w http.ResponseWriter, r *http.Request, id string, body []byte) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	reader := multipart.NewReader(strings.NewReader(string(body)), params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if part.FormName() == "file" {
			data, _ := io.ReadAll(part)
			m.mu.Lock()
			m.artifacts[id] = data
			m.mu.Unlock()
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, _ := json.Marshal(v)
	_, _ = w.Write(data)
}

func toSlice(items interface{}) []interface{} {
	data, err := json.Marshal(items)
	if err != nil {
		return nil
	}
	var out []interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return []interface{}{items}
	}
	return out
}
