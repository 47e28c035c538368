package demo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ajitpratap0/airsync/pkg/config"
	"github.com/ajitpratap0/airsync/pkg/models"
	"github.com/ajitpratap0/airsync/pkg/registry"
	"github.com/ajitpratap0/airsync/pkg/testutil"
	"github.com/ajitpratap0/airsync/pkg/worker"
)

func testSource() Source {
	return Source{Issues: 5, Users: 2, PageSize: 2, AttachmentBaseURL: "http://files.test"}
}

func runEvent(t *testing.T, platform *testutil.MockPlatform, c *Connector, event *models.Event) worker.Result {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	return c.Run(ctx, registry.RunOptions{
		Event:  event,
		Config: config.Default(),
		Client: platform.Client(),
		Logger: testutil.TestLogger(t),
	})
}

func singleEvent(t *testing.T, platform *testutil.MockPlatform) testutil.EmittedEvent {
	t.Helper()
	events := testutil.WaitForEvents(t, platform, 1, time.Second)
	require.Len(t, events, 1)
	return events[0]
}

func artifactsByType(artifacts []models.Artifact) map[string]models.Artifact {
	out := make(map[string]models.Artifact, len(artifacts))
	for _, a := range artifacts {
		out[a.ItemType] = a
	}
	return out
}

func TestRegistered(t *testing.T) {
	runner, err := registry.Get("demo")
	require.NoError(t, err)
	assert.NotNil(t, runner)

	var names []string
	for _, info := range registry.List() {
		names = append(names, info.Name)
	}
	assert.Contains(t, names, "demo")
}

func TestExternalSyncUnits(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	c := New(testSource(), nil)

	res := runEvent(t, platform, c, platform.NewEvent(models.ExtractionExternalSyncUnitsStart))
	assert.False(t, res.Synthetic)

	emitted := singleEvent(t, platform)
	assert.Equal(t, models.ExtractionExternalSyncUnitsDone, emitted.EventType)
	require.Len(t, emitted.EventData.ExternalSyncUnits, 1)
	assert.Equal(t, "demo-project", emitted.EventData.ExternalSyncUnits[0].ID)
	assert.Equal(t, 5, emitted.EventData.ExternalSyncUnits[0].ItemCount)

	installs := platform.Requests(testutil.InstallPath)
	require.Len(t, installs, 1)
	assert.Equal(t, "issue", gjson.GetBytes(installs[0].Body, "record_type_mappings.issues.default_mapping.object_type").String())
}

func TestExtractMetadata(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	c := New(testSource(), nil)

	runEvent(t, platform, c, platform.NewEvent(models.ExtractionMetadataStart))

	emitted := singleEvent(t, platform)
	assert.Equal(t, models.ExtractionMetadataDone, emitted.EventType)
	require.Len(t, emitted.EventData.Artifacts, 1)
	artifact := emitted.EventData.Artifacts[0]
	assert.Equal(t, models.ItemTypeExternalDomainMetadata, artifact.ItemType)

	lines := platform.ArtifactLines(artifact.ID)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "record_types")
}

func TestExtractData(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	c := New(testSource(), nil)

	runEvent(t, platform, c, platform.NewEvent(models.ExtractionDataStart))

	emitted := singleEvent(t, platform)
	assert.Equal(t, models.ExtractionDataDone, emitted.EventType)

	artifacts := artifactsByType(emitted.EventData.Artifacts)
	require.Len(t, artifacts, 3)
	assert.Equal(t, 5, artifacts[ItemTypeIssues].ItemCount)
	assert.Equal(t, 2, artifacts[ItemTypeUsers].ItemCount)
	assert.Equal(t, 5, artifacts[models.ItemTypeAttachments].ItemCount)

	issues := platform.ArtifactLines(artifacts[ItemTypeIssues].ID)
	require.Len(t, issues, 5)
	assert.Equal(t, "ISS-1", issues[0]["id"])
	assert.Equal(t, "Demo issue 1", issues[0]["data"].(map[string]interface{})["title"])

	attachments := platform.ArtifactLines(artifacts[models.ItemTypeAttachments].ID)
	require.Len(t, attachments, 5)
	assert.Equal(t, "http://files.test/ISS-1.txt", attachments[0]["url"])

	raw, ok := platform.State("sync-unit-1")
	require.True(t, ok)
	assert.True(t, gjson.Get(raw, "issues.completed").Bool())
	assert.EqualValues(t, 3, gjson.Get(raw, "issues.page").Int())
	assert.True(t, gjson.Get(raw, "users.completed").Bool())
	assert.Equal(t, artifacts[models.ItemTypeAttachments].ID, gjson.Get(raw, "toDevRev.attachmentsMetadata.artifactIds.0").String())
}

func TestExtractDataContinuesFromState(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	platform.SetState("sync-unit-1", `{"users":{"page":1,"completed":true},"issues":{"page":2,"completed":false},"toDevRev":{"attachmentsMetadata":{"artifactIds":[],"lastProcessed":0}}}`)
	c := New(testSource(), nil)

	runEvent(t, platform, c, platform.NewEvent(models.ExtractionDataContinue))

	emitted := singleEvent(t, platform)
	assert.Equal(t, models.ExtractionDataDone, emitted.EventType)

	artifacts := artifactsByType(emitted.EventData.Artifacts)
	assert.NotContains(t, artifacts, ItemTypeUsers)
	assert.Equal(t, 1, artifacts[ItemTypeIssues].ItemCount)

	issues := platform.ArtifactLines(artifacts[ItemTypeIssues].ID)
	require.Len(t, issues, 1)
	assert.Equal(t, "ISS-5", issues[0]["id"])
}

func TestExtractDataUsesAttachmentBaseURLFromInput(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	c := New(testSource(), nil)
	event := platform.NewEvent(models.ExtractionDataStart)
	event.InputData = map[string]interface{}{"attachment_base_url": "http://override.test"}

	runEvent(t, platform, c, event)

	artifacts := artifactsByType(singleEvent(t, platform).EventData.Artifacts)
	attachments := platform.ArtifactLines(artifacts[models.ItemTypeAttachments].ID)
	require.NotEmpty(t, attachments)
	assert.Equal(t, "http://override.test/ISS-1.txt", attachments[0]["url"])
}

func TestLoadData(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	file := platform.PutJSONLArtifact([]models.ExternalSystemItem{
		{ID: models.ExternalSystemItemID{DevRev: "don:issue:1"}, ModifiedDate: "2024-05-01T00:00:00Z"},
		{ID: models.ExternalSystemItemID{DevRev: "don:issue:2"}, ModifiedDate: "2024-05-01T00:00:00Z"},
	})
	stats := platform.PutJSONLArtifact([]models.StatsFileObject{
		{ID: file, ItemType: ItemTypeIssues, FileName: "issues.jsonl", Count: "2"},
	})
	sink := NewSink()
	c := New(testSource(), sink)

	event := platform.NewEvent(models.StartLoadingData)
	event.Payload.EventData = &models.EventData{StatsFile: stats}
	runEvent(t, platform, c, event)

	emitted := singleEvent(t, platform)
	assert.Equal(t, models.DataLoadingDone, emitted.EventType)
	assert.Equal(t, []models.LoaderReport{{ItemType: ItemTypeIssues, Created: 2}}, emitted.EventData.Reports)
	assert.Equal(t, []string{file}, emitted.EventData.ProcessedFiles)
	assert.Equal(t, 2, sink.Len())
}

func TestDeletionUsesDefaultTasks(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	c := New(testSource(), nil)

	runEvent(t, platform, c, platform.NewEvent(models.ExtractionDataDelete))

	assert.Equal(t, models.ExtractionDataDeleteDone, singleEvent(t, platform).EventType)
}
