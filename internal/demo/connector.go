// Package demo is a connector for an in-memory issue tracker. It exercises every
// event type of the worker runtime and is registered as "demo".
package demo

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/mappers"
	"github.com/ajitpratap0/airsync/pkg/models"
	"github.com/ajitpratap0/airsync/pkg/registry"
	"github.com/ajitpratap0/airsync/pkg/repo"
	"github.com/ajitpratap0/airsync/pkg/worker"
)

// Item types extracted from the tracker
const (
	ItemTypeIssues = "issues"
	ItemTypeUsers  = "users"
)

const (
	name                 = "demo"
	version              = "0.1.0"
	externalSyncUnitID   = "demo-project"
	attachmentBaseURLKey = "attachment_base_url"
	timeoutProgress      = 50
)

// Cursor is the extraction progress of one item type
type Cursor struct {
	Page      int  `json:"page"`
	Completed bool `json:"completed"`
}

// State is the connector part of the worker state
type State struct {
	Issues Cursor `json:"issues"`
	Users  Cursor `json:"users"`
}

// Connector syncs the demo tracker
type Connector struct {
	source Source
	sink   *Sink
}

// New returns a connector reading from source and loading into sink.
func New(source Source, sink *Sink) *Connector {
	if sink == nil {
		sink = NewSink()
	}
	return &Connector{source: source, sink: sink}
}

func init() {
	c := New(DefaultSource(), nil)
	registry.MustRegister(registry.ConnectorInfo{
		Name:        name,
		Description: "In-memory issue tracker with issues, users and attachments",
		Version:     version,
		EventTypes: []string{
			string(models.ExtractionExternalSyncUnitsStart),
			string(models.ExtractionMetadataStart),
			string(models.ExtractionDataStart),
			string(models.ExtractionDataContinue),
			string(models.ExtractionAttachmentsStart),
			string(models.ExtractionAttachmentsContinue),
			string(models.StartLoadingData),
			string(models.ContinueLoadingData),
			string(models.StartLoadingAttachments),
			string(models.ContinueLoadingAttachments),
		},
		Capabilities: []string{"extraction", "loading", "attachments"},
	}, c.Run)
}

// Run spawns a worker for one invocation
func (c *Connector) Run(ctx context.Context, opts registry.RunOptions) worker.Result {
	return worker.Spawn(ctx, worker.Options[State]{
		Event:                opts.Event,
		InitialState:         State{},
		Tasks:                c.Tasks(),
		InitialDomainMapping: DomainMapping(),
		Config:               opts.Config,
		Client:               opts.Client,
		Mirror:               opts.Mirror,
		Logger:               opts.Logger,
	})
}

// Tasks returns the connector tasks. Attachment streaming and deletion use the
// runtime defaults.
func (c *Connector) Tasks() worker.Tasks[State] {
	data := worker.Task[State]{Run: c.extractData, OnTimeout: dataProgress}
	loading := worker.Task[State]{
		Run:       c.loadData,
		OnTimeout: emitOnTimeout(models.DataLoadingProgress),
	}
	attachmentLoading := worker.Task[State]{
		Run:       c.loadAttachments,
		OnTimeout: emitOnTimeout(models.AttachmentLoadingError),
	}

	return worker.Tasks[State]{
		models.ExtractionExternalSyncUnitsStart: {
			Run:       c.externalSyncUnits,
			OnTimeout: emitOnTimeout(models.ExtractionExternalSyncUnitsError),
		},
		models.ExtractionMetadataStart: {
			Run:       c.extractMetadata,
			OnTimeout: emitOnTimeout(models.ExtractionMetadataError),
		},
		models.ExtractionDataStart:        data,
		models.ExtractionDataContinue:     data,
		models.StartLoadingData:           loading,
		models.ContinueLoadingData:        loading,
		models.StartLoadingAttachments:    attachmentLoading,
		models.ContinueLoadingAttachments: attachmentLoading,
	}
}

// DomainMapping is installed on the first external sync units request.
func DomainMapping() *worker.InitialDomainMapping {
	return &worker.InitialDomainMapping{
		AdditionalMappings: map[string]interface{}{
			"record_type_mappings": map[string]interface{}{
				ItemTypeIssues: map[string]interface{}{"default_mapping": map[string]string{"object_type": "issue"}},
				ItemTypeUsers:  map[string]interface{}{"default_mapping": map[string]string{"object_type": "devu"}},
			},
		},
	}
}

func (c *Connector) externalSyncUnits(ctx context.Context, a *worker.Adapter[State]) error {
	return a.Emit(ctx, models.ExtractionExternalSyncUnitsDone, &models.EventData{
		ExternalSyncUnits: []models.ExternalSyncUnit{{
			ID:          externalSyncUnitID,
			Name:        "Demo project",
			Description: "Issues of the demo tracker",
			ItemCount:   c.source.Issues,
			ItemType:    ItemTypeIssues,
		}},
	})
}

func (c *Connector) extractMetadata(ctx context.Context, a *worker.Adapter[State]) error {
	a.InitializeRepos([]repo.Spec{{ItemType: models.ItemTypeExternalDomainMetadata}})
	metadata := map[string]interface{}{
		"schema_version": "v0.2.0",
		"record_types": map[string]interface{}{
			ItemTypeIssues: map[string]interface{}{
				"name": "Issue",
				"fields": map[string]interface{}{
					"title":     map[string]interface{}{"name": "Title", "type": "text", "is_required": true},
					"author_id": map[string]interface{}{"name": "Author", "type": "reference", "reference": map[string]interface{}{"refers_to": map[string]interface{}{"#record:users": map[string]interface{}{}}}},
				},
			},
			ItemTypeUsers: map[string]interface{}{
				"name": "User",
				"fields": map[string]interface{}{
					"name":  map[string]interface{}{"name": "Name", "type": "text", "is_required": true},
					"email": map[string]interface{}{"name": "Email", "type": "text"},
				},
			},
		},
	}
	if err := a.GetRepo(models.ItemTypeExternalDomainMetadata).Push(ctx, []interface{}{metadata}); err != nil {
		return err
	}
	return a.Emit(ctx, models.ExtractionMetadataDone, nil)
}

func (c *Connector) extractData(ctx context.Context, a *worker.Adapter[State]) error {
	a.InitializeRepos([]repo.Spec{
		{ItemType: ItemTypeIssues, Normalize: normalizeIssue},
		{ItemType: ItemTypeUsers, Normalize: normalizeUser},
		{ItemType: models.ItemTypeAttachments},
	})
	source := c.sourceFor(a.Event())
	log := a.Logger()

	for !a.State().Connector.Users.Completed {
		if a.IsTimeout() {
			return nil
		}
		page := a.State().Connector.Users.Page
		users, more := source.UsersPage(page)
		if err := repo.PushAll(ctx, a.GetRepo(ItemTypeUsers), users); err != nil {
			return err
		}
		log.Debug("extracted users page", zap.Int("page", page), zap.Int("count", len(users)))
		a.UpdateState(func(st *models.AdapterState[State]) {
			st.Connector.Users = Cursor{Page: page + 1, Completed: !more}
		})
	}

	for !a.State().Connector.Issues.Completed {
		if a.IsTimeout() {
			return nil
		}
		page := a.State().Connector.Issues.Page
		issues, more := source.IssuesPage(page)
		if err := repo.PushAll(ctx, a.GetRepo(ItemTypeIssues), issues); err != nil {
			return err
		}
		if err := repo.PushAll(ctx, a.GetRepo(models.ItemTypeAttachments), source.Attachments(issues)); err != nil {
			return err
		}
		log.Debug("extracted issues page",
			zap.Int("page", page),
			zap.Int("count", len(issues)),
			zap.Int("buffered", len(a.GetRepo(ItemTypeIssues).Items())))
		a.UpdateState(func(st *models.AdapterState[State]) {
			st.Connector.Issues = Cursor{Page: page + 1, Completed: !more}
		})
	}

	return a.Emit(ctx, models.ExtractionDataDone, nil)
}

// sourceFor applies the attachment base URL of the event input data.
func (c *Connector) sourceFor(event *models.Event) Source {
	source := c.source
	if base, ok := event.InputData[attachmentBaseURLKey].(string); ok && base != "" {
		source.AttachmentBaseURL = base
	}
	return source
}

func (c *Connector) loadData(ctx context.Context, a *worker.Adapter[State]) error {
	resp, err := a.LoadItemTypes(ctx, []worker.ItemTypeToLoad{
		{ItemType: ItemTypeIssues, Create: c.write(ItemTypeIssues), Update: c.write(ItemTypeIssues)},
		{ItemType: ItemTypeUsers, Create: c.write(ItemTypeUsers), Update: c.write(ItemTypeUsers)},
	})
	if err != nil || resp.Delay > 0 {
		return err
	}
	return a.Emit(ctx, models.DataLoadingDone, &models.EventData{
		Reports:        resp.Reports,
		ProcessedFiles: resp.ProcessedFiles,
	})
}

func (c *Connector) loadAttachments(ctx context.Context, a *worker.Adapter[State]) error {
	resp, err := a.LoadAttachments(ctx, func(_ context.Context, item models.ExternalSystemAttachment, _ *mappers.Client, _ *models.Event) (worker.LoadResult, error) {
		return worker.LoadResult{ID: c.sink.Write("attachment", item.ReferenceID)}, nil
	})
	if err != nil || resp.Delay > 0 {
		return err
	}
	return a.Emit(ctx, models.AttachmentLoadingDone, &models.EventData{
		Reports:        resp.Reports,
		ProcessedFiles: resp.ProcessedFiles,
	})
}

func (c *Connector) write(itemType string) worker.LoadFunc {
	return func(_ context.Context, item models.ExternalSystemItem, _ *mappers.Client, _ *models.Event) (worker.LoadResult, error) {
		return worker.LoadResult{
			ID:           c.sink.Write(itemType, item.ID.DevRev),
			ModifiedDate: item.ModifiedDate,
		}, nil
	}
}

func dataProgress(ctx context.Context, a *worker.Adapter[State]) error {
	return a.Emit(ctx, models.ExtractionDataProgress, &models.EventData{Progress: timeoutProgress})
}

func emitOnTimeout(eventType models.OutputEventType) worker.TaskFunc[State] {
	return func(ctx context.Context, a *worker.Adapter[State]) error {
		return a.Emit(ctx, eventType, &models.EventData{
			Error: &models.ErrorRecord{Message: "Failed to finish before the timeout."},
		})
	}
}

func normalizeIssue(record interface{}) interface{} {
	issue := record.(Issue)
	return repo.NormalizedItem{
		ID:           issue.ID,
		CreatedDate:  issue.CreatedDate,
		ModifiedDate: issue.ModifiedDate,
		Data: map[string]interface{}{
			"title":     issue.Title,
			"author_id": issue.AuthorID,
		},
	}
}

func normalizeUser(record interface{}) interface{} {
	user := record.(User)
	return repo.NormalizedItem{
		ID:           user.ID,
		CreatedDate:  epoch.Format(time.RFC3339),
		ModifiedDate: epoch.Format(time.RFC3339),
		Data: map[string]interface{}{
			"name":  user.Name,
			"email": user.Email,
		},
	}
}
