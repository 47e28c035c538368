package worker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ajitpratap0/airsync/pkg/mappers"
	"github.com/ajitpratap0/airsync/pkg/models"
	"github.com/ajitpratap0/airsync/pkg/testutil"
)

func transformerItems(ids ...string) []models.ExternalSystemItem {
	items := make([]models.ExternalSystemItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, models.ExternalSystemItem{
			ID:           models.ExternalSystemItemID{DevRev: id},
			ModifiedDate: "2024-05-01T00:00:00Z",
			Data:         map[string]interface{}{"title": "item " + id},
		})
	}
	return items
}

func loadingEvent(platform *testutil.MockPlatform, eventType models.EventType, statsFile string) *models.Event {
	event := platform.NewEvent(eventType)
	event.Payload.EventData = &models.EventData{StatsFile: statsFile}
	return event
}

// loadTask loads the issues item type and emits the outcome.
func loadTask(itemTypes ...ItemTypeToLoad) Task[testState] {
	return run(func(ctx context.Context, a *Adapter[testState]) error {
		resp, err := a.LoadItemTypes(ctx, itemTypes)
		if err != nil || resp.Delay > 0 {
			return err
		}
		return a.Emit(ctx, models.DataLoadingDone, &models.EventData{
			Reports:        resp.Reports,
			ProcessedFiles: resp.ProcessedFiles,
		})
	})
}

type recordingLoader struct {
	created []string
	updated []string
	delayOn string
}

func (l *recordingLoader) create(_ context.Context, item models.ExternalSystemItem, _ *mappers.Client, _ *models.Event) (LoadResult, error) {
	if item.ID.DevRev == l.delayOn {
		return LoadResult{Delay: 30}, nil
	}
	l.created = append(l.created, item.ID.DevRev)
	return LoadResult{ID: "ext-" + item.ID.DevRev}, nil
}

func (l *recordingLoader) update(_ context.Context, item models.ExternalSystemItem, _ *mappers.Client, _ *models.Event) (LoadResult, error) {
	l.updated = append(l.updated, item.ID.DevRev)
	return LoadResult{ID: "ext-" + item.ID.DevRev, ModifiedDate: item.ModifiedDate}, nil
}

func TestLoadItemTypesCreatesAndUpdates(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	file := platform.PutJSONLArtifact(transformerItems("don:1", "don:2", "don:3"))
	stats := platform.PutJSONLArtifact([]models.StatsFileObject{
		{ID: file, ItemType: "issues", FileName: "issues.jsonl", Count: "3"},
		{ID: "ignored", ItemType: "comments", FileName: "comments.jsonl", Count: "9"},
	})
	platform.AddMapper("don:2", map[string]interface{}{"id": "mapper-2"})

	loader := &recordingLoader{}
	event := loadingEvent(platform, models.StartLoadingData, stats)
	spawnWith(t, platform, event, testConfig(), Tasks[testState]{
		models.StartLoadingData: loadTask(ItemTypeToLoad{ItemType: "issues", Create: loader.create, Update: loader.update}),
	})

	assert.Equal(t, []string{"don:1", "don:3"}, loader.created)
	assert.Equal(t, []string{"don:2"}, loader.updated)

	emitted := singleEvent(t, platform)
	assert.Equal(t, models.DataLoadingDone, emitted.EventType)
	assert.Equal(t, []models.LoaderReport{{ItemType: "issues", Created: 2, Updated: 1}}, emitted.EventData.Reports)
	assert.Equal(t, []string{file}, emitted.EventData.ProcessedFiles)

	assert.Len(t, platform.Requests(testutil.MapperCreatePath), 2)
	updates := platform.Requests(testutil.MapperUpdatePath)
	require.Len(t, updates, 1)
	assert.Equal(t, "mapper-2", gjson.GetBytes(updates[0].Body, "id").String())

	raw, _ := platform.State("sync-unit-1")
	files := gjson.Get(raw, "fromDevRev.filesToLoad").Array()
	require.Len(t, files, 1)
	assert.EqualValues(t, 3, files[0].Get("lineToProcess").Int())
	assert.True(t, files[0].Get("completed").Bool())
}

func TestLoadItemTypesStopsOnDelay(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	file := platform.PutJSONLArtifact(transformerItems("don:1", "don:2", "don:3"))
	stats := platform.PutJSONLArtifact([]models.StatsFileObject{
		{ID: file, ItemType: "issues", FileName: "issues.jsonl", Count: "3"},
	})

	loader := &recordingLoader{delayOn: "don:2"}
	event := loadingEvent(platform, models.StartLoadingData, stats)
	spawnWith(t, platform, event, testConfig(), Tasks[testState]{
		models.StartLoadingData: loadTask(ItemTypeToLoad{ItemType: "issues", Create: loader.create, Update: loader.update}),
	})

	assert.Equal(t, []string{"don:1"}, loader.created)

	emitted := singleEvent(t, platform)
	assert.Equal(t, models.DataLoadingDelayed, emitted.EventType)
	assert.Equal(t, 30, emitted.EventData.Delay)
	assert.Equal(t, []models.LoaderReport{{ItemType: "issues", Created: 1}}, emitted.EventData.Reports)
	assert.Empty(t, emitted.EventData.ProcessedFiles)

	raw, _ := platform.State("sync-unit-1")
	assert.EqualValues(t, 1, gjson.Get(raw, "fromDevRev.filesToLoad.0.lineToProcess").Int())
	assert.False(t, gjson.Get(raw, "fromDevRev.filesToLoad.0.completed").Bool())
}

func TestLoadItemTypesResumesFromCursor(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	file := platform.PutJSONLArtifact(transformerItems("don:1", "don:2", "don:3"))
	platform.SetState("sync-unit-1", fmt.Sprintf(
		`{"fromDevRev":{"filesToLoad":[{"id":%q,"file_name":"issues.jsonl","itemType":"issues","count":3,"lineToProcess":1,"completed":false}]}}`, file))

	loader := &recordingLoader{}
	spawn(t, platform, models.ContinueLoadingData, loadTask(ItemTypeToLoad{ItemType: "issues", Create: loader.create, Update: loader.update}))

	assert.Equal(t, []string{"don:2", "don:3"}, loader.created)
	emitted := singleEvent(t, platform)
	assert.Equal(t, []models.LoaderReport{{ItemType: "issues", Created: 2}}, emitted.EventData.Reports)

	raw, _ := platform.State("sync-unit-1")
	assert.EqualValues(t, 3, gjson.Get(raw, "fromDevRev.filesToLoad.0.lineToProcess").Int())
}

func TestLoadItemTypesFailuresAreReported(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	file := platform.PutJSONLArtifact(transformerItems("don:1", "don:2"))
	stats := platform.PutJSONLArtifact([]models.StatsFileObject{
		{ID: file, ItemType: "issues", FileName: "issues.jsonl", Count: "2"},
	})

	failing := func(context.Context, models.ExternalSystemItem, *mappers.Client, *models.Event) (LoadResult, error) {
		return LoadResult{}, fmt.Errorf("external system rejected the item")
	}
	event := loadingEvent(platform, models.StartLoadingData, stats)
	spawnWith(t, platform, event, testConfig(), Tasks[testState]{
		models.StartLoadingData: loadTask(ItemTypeToLoad{ItemType: "issues", Create: failing}),
	})

	emitted := singleEvent(t, platform)
	assert.Equal(t, models.DataLoadingDone, emitted.EventType)
	assert.Equal(t, []models.LoaderReport{{ItemType: "issues", Failed: 2}}, emitted.EventData.Reports)
	assert.Empty(t, platform.Requests(testutil.MapperCreatePath))
}

func TestLoadItemTypesUnknownItemType(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	platform.SetState("sync-unit-1",
		`{"fromDevRev":{"filesToLoad":[{"id":"f1","file_name":"comments.jsonl","itemType":"comments","count":1,"lineToProcess":0,"completed":false}]}}`)

	loader := &recordingLoader{}
	spawn(t, platform, models.ContinueLoadingData, loadTask(ItemTypeToLoad{ItemType: "issues", Create: loader.create}))

	emitted := singleEvent(t, platform)
	assert.Equal(t, models.DataLoadingError, emitted.EventType)
	require.NotNil(t, emitted.EventData.Error)
	assert.Equal(t, "Item type to load not found for item type: comments.", emitted.EventData.Error.Message)
}

func TestLoadItemTypesMissingTransformerFile(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	platform.SetState("sync-unit-1",
		`{"fromDevRev":{"filesToLoad":[{"id":"gone","file_name":"issues.jsonl","itemType":"issues","count":1,"lineToProcess":0,"completed":false}]}}`)

	loader := &recordingLoader{}
	spawn(t, platform, models.ContinueLoadingData, loadTask(ItemTypeToLoad{ItemType: "issues", Create: loader.create}))

	emitted := singleEvent(t, platform)
	assert.Equal(t, models.DataLoadingError, emitted.EventType)
	assert.Equal(t, "Transformer file not found for artifact ID: gone.", emitted.EventData.Error.Message)
}

func TestLoadItemTypesStopsAtTimeout(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	file := platform.PutJSONLArtifact(transformerItems("don:1", "don:2"))
	platform.SetState("sync-unit-1", fmt.Sprintf(
		`{"fromDevRev":{"filesToLoad":[{"id":%q,"file_name":"issues.jsonl","itemType":"issues","count":2,"lineToProcess":0,"completed":false}]}}`, file))

	loader := &recordingLoader{}
	var resp LoadResponse
	spawn(t, platform, models.ContinueLoadingData, run(func(ctx context.Context, a *Adapter[testState]) error {
		a.HandleTimeout()
		var err error
		resp, err = a.LoadItemTypes(ctx, []ItemTypeToLoad{{ItemType: "issues", Create: loader.create}})
		if err != nil {
			return err
		}
		return a.Emit(ctx, models.DataLoadingProgress, &models.EventData{Reports: resp.Reports})
	}))

	assert.Empty(t, loader.created)
	assert.Empty(t, resp.ProcessedFiles)
	assert.Equal(t, models.DataLoadingProgress, singleEvent(t, platform).EventType)
}

func TestLoadItemTypesWithoutItemTypes(t *testing.T) {
	platform := testutil.NewMockPlatform(t)

	spawn(t, platform, models.StartLoadingData, loadTask())

	emitted := singleEvent(t, platform)
	assert.Equal(t, models.DataLoadingDone, emitted.EventType)
	assert.Empty(t, emitted.EventData.Reports)
}

func TestLoadAttachments(t *testing.T) {
	platform := testutil.NewMockPlatform(t)
	file := platform.PutJSONLArtifact([]models.ExternalSystemAttachment{
		{ReferenceID: "att-1", FileName: "a.png", URL: "https://files.example/a"},
		{ReferenceID: "att-2", FileName: "b.png", URL: "https://files.example/b"},
	})
	stats := platform.PutJSONLArtifact([]models.StatsFileObject{
		{ID: file, ItemType: AttachmentItemType, FileName: "attachments.jsonl", Count: "2"},
	})

	var loaded []string
	create := func(_ context.Context, item models.ExternalSystemAttachment, _ *mappers.Client, _ *models.Event) (LoadResult, error) {
		loaded = append(loaded, item.ReferenceID)
		if item.ReferenceID == "att-2" {
			return LoadResult{}, fmt.Errorf("too large")
		}
		return LoadResult{ID: "ext-" + item.ReferenceID}, nil
	}

	event := loadingEvent(platform, models.StartLoadingAttachments, stats)
	spawnWith(t, platform, event, testConfig(), Tasks[testState]{
		models.StartLoadingAttachments: run(func(ctx context.Context, a *Adapter[testState]) error {
			resp, err := a.LoadAttachments(ctx, create)
			if err != nil || resp.Delay > 0 {
				return err
			}
			return a.Emit(ctx, models.AttachmentLoadingDone, &models.EventData{
				Reports:        resp.Reports,
				ProcessedFiles: resp.ProcessedFiles,
			})
		}),
	})

	assert.Equal(t, []string{"att-1", "att-2"}, loaded)
	emitted := singleEvent(t, platform)
	assert.Equal(t, models.AttachmentLoadingDone, emitted.EventType)
	assert.Equal(t, []models.LoaderReport{{ItemType: AttachmentItemType, Created: 1, Failed: 1}}, emitted.EventData.Reports)
	assert.Equal(t, []string{file}, emitted.EventData.ProcessedFiles)
}
