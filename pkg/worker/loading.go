package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/mappers"
	"github.com/ajitpratap0/airsync/pkg/metrics"
	"github.com/ajitpratap0/airsync/pkg/models"
	"github.com/ajitpratap0/airsync/pkg/uploader"
)

// AttachmentItemType is the stats file item type of attachment transformer files
const AttachmentItemType = "attachment"

// LoadResult is what a create or update callback reports for one item. ID is the
// external id on success; a positive Delay means the external system rate limited
// the call.
type LoadResult struct {
	ID           string
	ModifiedDate string
	Delay        int
}

// LoadFunc creates or updates one item in the external system
type LoadFunc func(ctx context.Context, item models.ExternalSystemItem, mapper *mappers.Client, event *models.Event) (LoadResult, error)

// AttachmentLoadFunc creates one attachment in the external system
type AttachmentLoadFunc func(ctx context.Context, item models.ExternalSystemAttachment, mapper *mappers.Client, event *models.Event) (LoadResult, error)

// ItemTypeToLoad binds an item type to its external system callbacks
type ItemTypeToLoad struct {
	ItemType string
	Create   LoadFunc
	Update   LoadFunc
}

// LoadResponse is the progress of a loading invocation. Delay is set when loading
// stopped on a rate limit and the delay event was already emitted.
type LoadResponse struct {
	Reports        []models.LoaderReport
	ProcessedFiles []string
	Delay          int
}

type loadOutcome struct {
	report *models.LoaderReport
	delay  int
}

var errLoadInterrupted = errors.New(errors.ErrorTypeTimeout, "loading interrupted by timeout")

// LoadItemTypes loads every pending transformer file of the given item types. On
// START_LOADING_DATA the file list is rebuilt from the stats file. Each file resumes
// at its lineToProcess.
func (a *Adapter[S]) LoadItemTypes(ctx context.Context, itemTypes []ItemTypeToLoad) (LoadResponse, error) {
	if a.event.Type() == models.StartLoadingData {
		if len(itemTypes) == 0 {
			a.logger.Warn("no item types to load")
			return a.loadResponse(0), nil
		}
		supported := make([]string, len(itemTypes))
		for i, it := range itemTypes {
			supported[i] = it.ItemType
		}
		if err := a.buildFilesToLoad(ctx, supported); err != nil {
			return a.loadResponse(0), err
		}
	}

	byType := make(map[string]ItemTypeToLoad, len(itemTypes))
	for _, it := range itemTypes {
		byType[it.ItemType] = it
	}

	return a.loadFiles(ctx, models.DataLoadingDelayed, func(ctx context.Context, file *models.FileToLoad) (int, error) {
		it, ok := byType[file.ItemType]
		if !ok {
			msg := fmt.Sprintf("Item type to load not found for item type: %s.", file.ItemType)
			a.logger.Error("item type to load not found", zap.String("item_type", file.ItemType))
			_ = a.Emit(ctx, models.DataLoadingError, &models.EventData{Error: &models.ErrorRecord{Message: msg}})
			return 0, errors.New(errors.ErrorTypeConnector, msg)
		}
		return loadFile(ctx, a, file, models.DataLoadingError, func(ctx context.Context, item models.ExternalSystemItem) loadOutcome {
			return a.loadItem(ctx, item, it)
		})
	})
}

// LoadAttachments loads the pending attachment transformer files with create.
func (a *Adapter[S]) LoadAttachments(ctx context.Context, create AttachmentLoadFunc) (LoadResponse, error) {
	if a.event.Type() == models.StartLoadingAttachments {
		if err := a.buildFilesToLoad(ctx, []string{AttachmentItemType}); err != nil {
			return a.loadResponse(0), err
		}
	}

	return a.loadFiles(ctx, models.AttachmentLoadingDelayed, func(ctx context.Context, file *models.FileToLoad) (int, error) {
		return loadFile(ctx, a, file, models.AttachmentLoadingError, func(ctx context.Context, item models.ExternalSystemAttachment) loadOutcome {
			return a.loadAttachment(ctx, item, create)
		})
	})
}

// loadFiles walks the file list in state. A file is marked completed only after
// every line was reported.
func (a *Adapter[S]) loadFiles(ctx context.Context, delayEvent models.OutputEventType, load func(context.Context, *models.FileToLoad) (int, error)) (LoadResponse, error) {
	files := a.filesToLoad()
	if len(files) == 0 {
		a.logger.Info("no files to load")
		return a.loadResponse(0), nil
	}
	a.logger.Info("files to load in state", zap.Int("count", len(files)))

	for _, file := range files {
		if file.Completed {
			continue
		}

		delay, err := load(ctx, file)
		if errors.Is(err, errLoadInterrupted) {
			a.logger.Info("timeout signaled, stopping loading", zap.String("file_id", file.ID))
			return a.loadResponse(0), nil
		}
		if err != nil {
			return a.loadResponse(0), err
		}
		if delay > 0 {
			resp := a.loadResponse(delay)
			_ = a.Emit(ctx, delayEvent, &models.EventData{
				Delay:          delay,
				Reports:        resp.Reports,
				ProcessedFiles: resp.ProcessedFiles,
			})
			return resp, nil
		}

		a.stateMu.Lock()
		file.Completed = true
		a.stateMu.Unlock()
		a.addProcessedFile(file.ID)
	}
	return a.loadResponse(0), nil
}

// loadFile loads one transformer file from its cursor. The cursor advances only
// after the item's report was recorded.
func loadFile[S any, T any](ctx context.Context, a *Adapter[S], file *models.FileToLoad, errorEvent models.OutputEventType, load func(context.Context, T) loadOutcome) (int, error) {
	items, err := uploader.DownloadObjects[T](ctx, a.uploader, file.ID)
	if err != nil {
		msg := fmt.Sprintf("Transformer file not found for artifact ID: %s.", file.ID)
		a.logger.Error("failed to download transformer file", zap.String("file_id", file.ID), zap.Error(err))
		_ = a.Emit(ctx, errorEvent, &models.EventData{Error: &models.ErrorRecord{Message: msg}})
		return 0, err
	}

	end := file.Count
	if end > len(items) {
		a.logger.Warn("transformer file shorter than its count",
			zap.String("file_id", file.ID), zap.Int("count", file.Count), zap.Int("lines", len(items)))
		end = len(items)
	}

	for i := file.LineToProcess; i < end; i++ {
		if a.IsTimeout() {
			return 0, errLoadInterrupted
		}
		out := load(ctx, items[i])
		if out.delay > 0 {
			return out.delay, nil
		}
		if out.report == nil {
			continue
		}
		a.addReport(*out.report)
		a.stateMu.Lock()
		file.LineToProcess++
		a.stateMu.Unlock()
	}
	return 0, nil
}

func (a *Adapter[S]) loadItem(ctx context.Context, item models.ExternalSystemItem, it ItemTypeToLoad) loadOutcome {
	syncUnit := a.event.Payload.EventContext.SyncUnitID
	devrevID := item.ID.DevRev
	log := a.logger.With(zap.String("item_type", it.ItemType), zap.String("devrev_id", devrevID))

	record, err := a.mappers.GetByTarget(ctx, syncUnit, devrevID)
	if errors.Is(err, mappers.ErrNotFound) {
		return a.createItem(ctx, item, it, log)
	}
	if err != nil {
		log.Warn("failed to get sync mapper record", zap.Error(err))
		return reported(it.ItemType, models.ActionFailed)
	}

	if it.Update == nil {
		log.Warn("no update function for item type")
		return reported(it.ItemType, models.ActionFailed)
	}
	res, err := it.Update(ctx, item, a.mappers, a.event)
	switch {
	case err == nil && res.ID != "":
		if res.ModifiedDate != "" {
			_, err := a.mappers.Update(ctx, mappers.UpdateParams{
				ID:          record.ID,
				SyncUnit:    syncUnit,
				Status:      mappers.StatusOperational,
				ExternalIDs: &mappers.AddList[string]{Add: []string{res.ID}},
				Targets:     &mappers.AddList[string]{Add: []string{devrevID}},
				ExternalVersions: &mappers.AddList[mappers.ExternalVersion]{
					Add: []mappers.ExternalVersion{{ModifiedDate: res.ModifiedDate}},
				},
			})
			if err != nil {
				log.Warn("failed to update sync mapper record", zap.Error(err))
				return reported(it.ItemType, models.ActionFailed)
			}
		}
		return reported(it.ItemType, models.ActionUpdated)
	case res.Delay > 0:
		log.Info("rate limited while updating item in external system", zap.Int("delay", res.Delay))
		return loadOutcome{delay: res.Delay}
	default:
		log.Warn("failed to update item in external system", zap.Error(err))
		return reported(it.ItemType, models.ActionFailed)
	}
}

func (a *Adapter[S]) createItem(ctx context.Context, item models.ExternalSystemItem, it ItemTypeToLoad, log *zap.Logger) loadOutcome {
	if it.Create == nil {
		log.Warn("no create function for item type")
		return reported(it.ItemType, models.ActionFailed)
	}
	res, err := it.Create(ctx, item, a.mappers, a.event)
	switch {
	case err == nil && res.ID != "":
		_, err := a.mappers.Create(ctx, mappers.CreateParams{
			SyncUnit:    a.event.Payload.EventContext.SyncUnitID,
			ExternalIDs: []string{res.ID},
			Targets:     []string{item.ID.DevRev},
			Status:      mappers.StatusOperational,
		})
		if err != nil {
			log.Warn("failed to create sync mapper record", zap.Error(err))
			return reported(it.ItemType, models.ActionFailed)
		}
		return reported(it.ItemType, models.ActionCreated)
	case res.Delay > 0:
		log.Info("rate limited while creating item in external system", zap.Int("delay", res.Delay))
		return loadOutcome{delay: res.Delay}
	default:
		log.Warn("failed to create item in external system", zap.Error(err))
		return reported(it.ItemType, models.ActionFailed)
	}
}

func (a *Adapter[S]) loadAttachment(ctx context.Context, item models.ExternalSystemAttachment, create AttachmentLoadFunc) loadOutcome {
	if create == nil {
		return reported(AttachmentItemType, models.ActionFailed)
	}
	res, err := create(ctx, item, a.mappers, a.event)
	switch {
	case res.Delay > 0:
		return loadOutcome{delay: res.Delay}
	case err == nil && res.ID != "":
		return reported(AttachmentItemType, models.ActionCreated)
	default:
		a.logger.Warn("failed to create attachment in external system",
			zap.String("reference_id", item.ReferenceID), zap.Error(err))
		return reported(AttachmentItemType, models.ActionFailed)
	}
}

func reported(itemType string, action models.ActionType) loadOutcome {
	metrics.ItemsLoaded.WithLabelValues(itemType, string(action)).Inc()
	r := models.NewLoaderReport(itemType, action)
	return loadOutcome{report: &r}
}

// buildFilesToLoad replaces fromDevRev.filesToLoad with the files listed in the
// stats file of the event.
func (a *Adapter[S]) buildFilesToLoad(ctx context.Context, supported []string) error {
	files := []models.FileToLoad{}
	if statsFile := a.event.StatsFile(); statsFile != "" {
		objects, err := uploader.DownloadObjects[models.StatsFileObject](ctx, a.uploader, statsFile)
		if err != nil {
			a.logger.Error("failed to download stats file", zap.String("stats_file", statsFile), zap.Error(err))
			return err
		}
		files = models.FilesToLoad(supported, objects)
	}

	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.store.State().FromDevRev = &models.FromDevRev{FilesToLoad: files}
	return nil
}

// filesToLoad returns pointers into the state's file list.
func (a *Adapter[S]) filesToLoad() []*models.FileToLoad {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	st := a.store.State()
	if st.FromDevRev == nil {
		return nil
	}
	out := make([]*models.FileToLoad, len(st.FromDevRev.FilesToLoad))
	for i := range st.FromDevRev.FilesToLoad {
		out[i] = &st.FromDevRev.FilesToLoad[i]
	}
	return out
}

func (a *Adapter[S]) loadResponse(delay int) LoadResponse {
	return LoadResponse{
		Reports:        a.Reports(),
		ProcessedFiles: a.ProcessedFiles(),
		Delay:          delay,
	}
}
