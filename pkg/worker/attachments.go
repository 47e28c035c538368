package worker

import (
	"context"
	"io"
	"math"
	"net/http"

	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/attachments"
	"github.com/ajitpratap0/airsync/pkg/clients"
	"github.com/ajitpratap0/airsync/pkg/config"
	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/models"
	"github.com/ajitpratap0/airsync/pkg/repo"
)

const (
	defaultAttachmentContentType = "application/octet-stream"
	// defaultAttachmentDelay is the delay in seconds for a 429 without a usable Retry-After
	defaultAttachmentDelay = 60
)

// AttachmentStream is an attachment body opened in the external system. A positive
// Delay means the external system rate limited the request and Body is nil.
type AttachmentStream struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	Delay         int
}

// StreamFunc opens the body of one attachment
type StreamFunc func(ctx context.Context, attachment models.NormalizedAttachment, event *models.Event) (AttachmentStream, error)

// AttachmentProcessors replace the streaming pool. Reduce groups the attachments
// of one metadata artifact and Iterate streams the groups.
type AttachmentProcessors[S any] struct {
	Reduce  func(attachments []models.NormalizedAttachment, batchSize int) [][]models.NormalizedAttachment
	Iterate func(ctx context.Context, batches [][]models.NormalizedAttachment, adapter *Adapter[S], stream StreamFunc) (attachments.Result, error)
}

// StreamAttachmentsParams configures StreamAttachments
type StreamAttachmentsParams[S any] struct {
	Stream     StreamFunc
	Processors *AttachmentProcessors[S]
	// BatchSize is the number of attachments streamed at once, clamped to [1, 50]. Zero selects 1.
	BatchSize int
}

// HTTPAttachmentStream opens attachment URLs with a plain GET. A 429 answer
// becomes a delay taken from Retry-After.
func HTTPAttachmentStream(client *http.Client) StreamFunc {
	return func(ctx context.Context, attachment models.NormalizedAttachment, _ *models.Event) (AttachmentStream, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, attachment.URL, nil)
		if err != nil {
			return AttachmentStream{}, errors.Wrapf(err, errors.ErrorTypeConnector, "invalid url for attachment %s", attachment.ID)
		}
		resp, err := client.Do(req)
		if err != nil {
			return AttachmentStream{}, errors.Wrapf(err, errors.ErrorTypeConnection, "failed to fetch attachment %s", attachment.ID)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			delay := defaultAttachmentDelay
			if d, ok := clients.RetryAfter(resp.Header); ok {
				delay = int(math.Ceil(d.Seconds()))
				if delay < 1 {
					delay = 1
				}
			}
			return AttachmentStream{Delay: delay}, nil
		}
		if resp.StatusCode >= 300 {
			resp.Body.Close()
			return AttachmentStream{}, errors.FromStatus(resp.StatusCode, errors.ErrorTypeConnection,
				"fetching attachment %s failed", attachment.ID)
		}

		return AttachmentStream{
			Body:          resp.Body,
			ContentType:   resp.Header.Get("Content-Type"),
			ContentLength: resp.ContentLength,
		}, nil
	}
}

// StreamAttachments streams the attachments listed in every pending attachment
// metadata artifact. An artifact is dequeued only when all of its attachments were
// handled. A delay or error stops streaming and is returned as is.
func (a *Adapter[S]) StreamAttachments(ctx context.Context, params StreamAttachmentsParams[S]) (attachments.Result, error) {
	batchSize := params.BatchSize
	if batchSize < 0 {
		a.logger.Warn("invalid attachment batch size, using 1", zap.Int("batch_size", batchSize))
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchSize > config.MaxAttachmentStreams {
		a.logger.Warn("attachment batch size too large", zap.Int("batch_size", batchSize), zap.Int("using", config.MaxAttachmentStreams))
		batchSize = config.MaxAttachmentStreams
	}

	a.InitializeRepos([]repo.Spec{{ItemType: models.ItemTypeSsorAttachment}})

	pending := a.pendingAttachmentArtifacts()
	if pending == 0 {
		a.logger.Info("no attachments metadata artifact ids found in state")
		return attachments.Result{}, nil
	}
	a.logger.Info("found attachments metadata artifacts in state", zap.Int("count", pending))

	for {
		artifactID, ok := a.headAttachmentArtifact()
		if !ok {
			return attachments.Result{}, nil
		}
		if a.IsTimeout() {
			a.logger.Info("timeout signaled, stopping attachment streaming", zap.String("artifact_id", artifactID))
			return attachments.Result{}, nil
		}

		log := a.logger.With(zap.String("artifact_id", artifactID))
		log.Info("started processing attachments for metadata artifact")

		list, err := a.uploader.GetAttachmentsFromArtifactID(ctx, artifactID)
		if err != nil {
			log.Error("failed to get attachments for artifact", zap.Error(err))
			return attachments.Result{}, err
		}
		if len(list) == 0 {
			log.Warn("no attachments found for artifact")
			a.completeAttachmentArtifact()
			continue
		}
		log.Info("found attachments for artifact", zap.Int("count", len(list)))

		var res attachments.Result
		if p := params.Processors; p != nil && p.Reduce != nil && p.Iterate != nil {
			log.Info("using custom processors for attachments")
			res, err = p.Iterate(ctx, p.Reduce(list, batchSize), a, params.Stream)
		} else {
			pool := attachments.NewPool(list, batchSize, a.attachmentLedger(), func(ctx context.Context, item models.NormalizedAttachment) (attachments.Result, error) {
				return a.ProcessAttachment(ctx, item, params.Stream)
			}, a.logger)
			res, err = pool.StreamAll(ctx)
		}
		if err != nil || res.Delay > 0 {
			return res, err
		}
		if ctx.Err() != nil {
			return attachments.Result{}, ctx.Err()
		}

		log.Info("finished processing all attachments for artifact")
		a.completeAttachmentArtifact()
	}
}

// ProcessAttachment streams one attachment into a new platform artifact, confirms
// it and records an ssor_attachment linking the two.
func (a *Adapter[S]) ProcessAttachment(ctx context.Context, attachment models.NormalizedAttachment, stream StreamFunc) (attachments.Result, error) {
	if stream == nil {
		return attachments.Result{}, errors.New(errors.ErrorTypeConnector, "no attachment stream function")
	}
	opened, err := stream(ctx, attachment, a.event)
	if err != nil {
		a.logger.Warn("error while streaming attachment", zap.String("attachment_id", attachment.ID), zap.Error(err))
		return attachments.Result{}, err
	}
	if opened.Delay > 0 {
		return attachments.Result{Delay: opened.Delay}, nil
	}
	if opened.Body == nil {
		return attachments.Result{}, errors.Newf(errors.ErrorTypeConnector, "stream for attachment %s returned no body", attachment.ID)
	}
	defer opened.Body.Close()

	contentType := opened.ContentType
	if contentType == "" {
		contentType = defaultAttachmentContentType
	}

	prepared, err := a.uploader.Prepare(ctx, attachment.FileName, contentType)
	if err != nil {
		return attachments.Result{}, errors.Wrapf(err, errors.ErrorTypeUpload, "failed to prepare artifact for attachment %s", attachment.ID)
	}
	if err := a.uploader.StreamArtifact(ctx, prepared, opened.Body, opened.ContentLength); err != nil {
		return attachments.Result{}, errors.Wrapf(err, errors.ErrorTypeUpload, "failed to stream attachment %s", attachment.ID)
	}
	if err := a.uploader.ConfirmUpload(ctx, prepared.ID); err != nil {
		return attachments.Result{}, errors.Wrapf(err, errors.ErrorTypeUpload, "failed to confirm upload of attachment %s", attachment.ID)
	}

	ssor := models.SsorAttachment{
		ID:       models.SsorAttachmentID{DevRev: prepared.ID, External: attachment.ID},
		ParentID: models.ExternalRef{External: attachment.ParentID},
		Inline:   attachment.Inline,
	}
	if attachment.AuthorID != "" {
		ssor.ActorID = &models.ExternalRef{External: attachment.AuthorID}
	}

	r := a.GetRepo(models.ItemTypeSsorAttachment)
	if r == nil {
		return attachments.Result{}, errors.New(errors.ErrorTypeInternal, "ssor_attachment repo is not initialized")
	}
	if err := r.Push(ctx, []interface{}{ssor}); err != nil {
		return attachments.Result{}, err
	}
	return attachments.Result{}, nil
}

func (a *Adapter[S]) pendingAttachmentArtifacts() int {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	st := a.store.State()
	if st.ToDevRev == nil {
		return 0
	}
	return len(st.ToDevRev.AttachmentsMetadata.ArtifactIDs)
}

func (a *Adapter[S]) headAttachmentArtifact() (string, bool) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	st := a.store.State()
	if st.ToDevRev == nil || len(st.ToDevRev.AttachmentsMetadata.ArtifactIDs) == 0 {
		return "", false
	}
	return st.ToDevRev.AttachmentsMetadata.ArtifactIDs[0], true
}

// completeAttachmentArtifact dequeues the head artifact and resets its progress.
func (a *Adapter[S]) completeAttachmentArtifact() {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	meta := &a.store.State().ToDevRev.AttachmentsMetadata
	if len(meta.ArtifactIDs) > 0 {
		meta.ArtifactIDs = meta.ArtifactIDs[1:]
	}
	meta.LastProcessed = 0
	meta.LastProcessedAttachmentsIDsList = []string{}
}

func (a *Adapter[S]) attachmentLedger() attachments.Ledger {
	if a.store.State().ToDevRev == nil {
		return nil
	}
	return &stateLedger[S]{a: a}
}

// stateLedger keeps the processed attachment ids in the state mirror.
type stateLedger[S any] struct {
	a *Adapter[S]
}

func (l *stateLedger[S]) Contains(id string) bool {
	l.a.stateMu.Lock()
	defer l.a.stateMu.Unlock()
	for _, processed := range l.a.store.State().ToDevRev.AttachmentsMetadata.LastProcessedAttachmentsIDsList {
		if processed == id {
			return true
		}
	}
	return false
}

func (l *stateLedger[S]) Append(id string) {
	l.a.stateMu.Lock()
	defer l.a.stateMu.Unlock()
	meta := &l.a.store.State().ToDevRev.AttachmentsMetadata
	meta.LastProcessedAttachmentsIDsList = append(meta.LastProcessedAttachmentsIDsList, id)
}
