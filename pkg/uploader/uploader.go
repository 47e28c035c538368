// Package uploader moves artifacts between the worker and the platform artifact store.
//
// An upload is three calls: prepare (returns an upload URL and form fields), a
// multipart POST of the file to that URL, and for streamed attachments a
// confirmation. Downloads locate the artifact and GET its URL.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/clients"
	"github.com/ajitpratap0/airsync/pkg/compression"
	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/json"
	"github.com/ajitpratap0/airsync/pkg/metrics"
	"github.com/ajitpratap0/airsync/pkg/models"
	"github.com/ajitpratap0/airsync/pkg/observability"
)

const gzipFileType = "application/x-gzip"

// Mirror receives a copy of every uploaded artifact in local development
type Mirror interface {
	Put(ctx context.Context, name string, data []byte) error
}

// PreparedArtifact is the upload target returned by the platform
type PreparedArtifact struct {
	ID       string      `json:"artifact_id"`
	URL      string      `json:"url"`
	FormData []FormField `json:"form_data"`
}

// FormField is a form field the upload URL requires
type FormField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Option configures an Uploader
type Option func(*Uploader)

// WithMirror copies every uploaded artifact to m
func WithMirror(m Mirror) Option {
	return func(u *Uploader) {
		u.mirror = m
	}
}

// Uploader uploads and downloads artifacts for one invocation
type Uploader struct {
	client *http.Client
	event  *models.Event
	logger *zap.Logger
	gzip   *compression.Gzip
	mirror Mirror
	now    func() time.Time
}

// New creates an uploader for the invocation
func New(client *http.Client, event *models.Event, logger *zap.Logger, opts ...Option) *Uploader {
	u := &Uploader{
		client: client,
		event:  event,
		logger: logger.With(zap.String("component", "uploader")),
		gzip:   compression.NewGzip(compression.Default),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *Uploader) endpoint(path string) string {
	return strings.TrimRight(u.event.Endpoint(), "/") + path
}

// Upload writes items as a gzipped JSONL artifact and returns its descriptor.
func (u *Uploader) Upload(ctx context.Context, itemType string, items []interface{}) (models.Artifact, error) {
	ctx, span := observability.StartSpan(ctx, "uploader.upload",
		attribute.String("item_type", itemType),
		attribute.Int("item_count", len(items)))

	lines, err := json.MarshalLines(items)
	if err != nil {
		wrapped := errors.Wrap(err, errors.ErrorTypeUpload, "failed to encode items")
		span.End(wrapped)
		return models.Artifact{}, wrapped
	}

	if u.mirror != nil {
		u.mirrorCopy(ctx, itemType, lines)
	}

	file, err := u.gzip.Compress(lines)
	if err != nil {
		wrapped := errors.Wrap(err, errors.ErrorTypeUpload, "failed to compress items")
		span.End(wrapped)
		return models.Artifact{}, wrapped
	}

	prepared, err := u.Prepare(ctx, itemType+".jsonl.gz", gzipFileType)
	if err != nil {
		span.End(err)
		return models.Artifact{}, err
	}

	if err := u.post(ctx, prepared, bytes.NewReader(file), int64(len(file))); err != nil {
		span.End(err)
		return models.Artifact{}, err
	}

	artifact := models.Artifact{ID: prepared.ID, ItemType: itemType, ItemCount: len(items)}
	metrics.ArtifactsUploaded.WithLabelValues(itemType).Inc()
	u.logger.Info("uploaded artifact",
		zap.String("artifact_id", artifact.ID),
		zap.String("item_type", itemType),
		zap.Int("item_count", artifact.ItemCount))
	span.End(nil)
	return artifact, nil
}

// Prepare asks the platform for an upload target.
func (u *Uploader) Prepare(ctx context.Context, fileName, fileType string) (*PreparedArtifact, error) {
	var prepared PreparedArtifact
	err := requests.
		URL(u.endpoint("/artifacts.prepare")).
		Client(u.client).
		Header("Authorization", u.event.Token()).
		BodyJSON(map[string]string{"file_name": fileName, "file_type": fileType}).
		ToJSON(&prepared).
		Fetch(ctx)
	if err != nil {
		u.logger.Error("failed to prepare artifact", zap.String("file_name", fileName), zap.Error(err))
		return nil, errors.Wrap(err, errors.ErrorTypeUpload, "failed to prepare artifact")
	}
	if prepared.ID == "" || prepared.URL == "" {
		return nil, errors.New(errors.ErrorTypeUpload, "prepare response is missing the artifact id or url")
	}
	return &prepared, nil
}

// StreamArtifact streams body to a prepared artifact without buffering it. The
// request is sent once since a stream cannot be replayed. A contentLength of zero or
// less sends the body chunked.
func (u *Uploader) StreamArtifact(ctx context.Context, prepared *PreparedArtifact, body io.Reader, contentLength int64) error {
	var envelope bytes.Buffer
	mw := multipart.NewWriter(&envelope)
	for _, f := range prepared.FormData {
		if err := mw.WriteField(f.Key, f.Value); err != nil {
			return errors.Wrap(err, errors.ErrorTypeUpload, "failed to build stream form")
		}
	}
	if _, err := mw.CreateFormFile("file", "file"); err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to build stream form")
	}
	headLen := envelope.Len()
	if err := mw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to build stream form")
	}
	head := envelope.Bytes()[:headLen]
	tail := envelope.Bytes()[headLen:]

	req, err := http.NewRequestWithContext(clients.WithoutRetry(ctx), http.MethodPost, prepared.URL,
		io.MultiReader(bytes.NewReader(head), body, bytes.NewReader(tail)))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to build stream request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if contentLength > 0 {
		req.ContentLength = int64(len(head)) + contentLength + int64(len(tail))
	}

	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.Error("failed to stream artifact", zap.String("artifact_id", prepared.ID), zap.Error(err))
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to stream artifact")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return errors.FromStatus(resp.StatusCode, errors.ErrorTypeUpload, "artifact stream rejected")
	}
	return nil
}

// ConfirmUpload tells the platform a streamed artifact is complete.
func (u *Uploader) ConfirmUpload(ctx context.Context, artifactID string) error {
	err := requests.
		URL(u.endpoint("/internal/airdrop.artifacts.confirm-upload")).
		Client(u.client).
		Header("Authorization", u.event.Token()).
		BodyJSON(map[string]string{
			"request_id":  u.event.Payload.EventContext.UUID,
			"artifact_id": artifactID,
		}).
		Fetch(ctx)
	if err != nil {
		u.logger.Error("failed to confirm artifact upload", zap.String("artifact_id", artifactID), zap.Error(err))
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to confirm artifact upload")
	}
	return nil
}

// Locate returns the download URL of an artifact.
func (u *Uploader) Locate(ctx context.Context, artifactID string) (string, error) {
	var located struct {
		URL string `json:"url"`
	}
	err := requests.
		URL(u.endpoint("/artifacts.locate")).
		Client(u.client).
		Header("Authorization", u.event.Token()).
		BodyJSON(map[string]string{"id": artifactID}).
		ToJSON(&located).
		Fetch(ctx)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrorTypeUpload, "failed to locate artifact %s", artifactID)
	}
	return located.URL, nil
}

// Download fetches an artifact and inflates it when it is gzipped.
func (u *Uploader) Download(ctx context.Context, artifactID string) ([]byte, error) {
	url, err := u.Locate(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := requests.URL(url).Client(u.client).ToBytesBuffer(&buf).Fetch(ctx); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeUpload, "failed to download artifact %s", artifactID)
	}

	data, err := u.gzip.Decompress(buf.Bytes())
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeUpload, "failed to decompress artifact %s", artifactID)
	}
	return data, nil
}

// DownloadObjects downloads an artifact holding a JSON array or JSONL document.
func DownloadObjects[T any](ctx context.Context, u *Uploader, artifactID string) ([]T, error) {
	data, err := u.Download(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	items, err := json.UnmarshalDocument[T](data)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeData, "failed to parse artifact %s", artifactID)
	}
	return items, nil
}

// GetAttachmentsFromArtifactID returns the attachment metadata stored in an artifact.
func (u *Uploader) GetAttachmentsFromArtifactID(ctx context.Context, artifactID string) ([]models.NormalizedAttachment, error) {
	return DownloadObjects[models.NormalizedAttachment](ctx, u, artifactID)
}

func (u *Uploader) post(ctx context.Context, prepared *PreparedArtifact, file io.Reader, size int64) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := writeForm(mw, prepared.FormData, file); err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to build upload form")
	}

	err := requests.
		URL(prepared.URL).
		Client(u.client).
		ContentType(mw.FormDataContentType()).
		BodyBytes(body.Bytes()).
		Post().
		Fetch(ctx)
	if err != nil {
		u.logger.Error("failed to upload artifact",
			zap.String("artifact_id", prepared.ID),
			zap.Int64("size", size),
			zap.Error(err))
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to upload artifact")
	}
	return nil
}

func writeForm(mw *multipart.Writer, fields []FormField, file io.Reader) error {
	for _, f := range fields {
		if err := mw.WriteField(f.Key, f.Value); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", "file")
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return mw.Close()
}

func (u *Uploader) mirrorCopy(ctx context.Context, itemType string, lines []byte) {
	ext := "jsonl"
	if itemType == models.ItemTypeExternalDomainMetadata {
		ext = "json"
	}
	name := fmt.Sprintf("extractor_%s_%d.%s", itemType, u.now().UnixMilli(), ext)
	if err := u.mirror.Put(ctx, name, lines); err != nil {
		u.logger.Warn("failed to mirror artifact", zap.String("name", name), zap.Error(err))
		return
	}
	u.logger.Debug("mirrored artifact", zap.String("name", name))
}
