// Package repo buffers extracted records per item type and uploads them as artifacts
// in fixed size batches.
package repo

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/metrics"
	"github.com/ajitpratap0/airsync/pkg/models"
)

// DefaultBatchSize is the number of records per artifact
const DefaultBatchSize = 2000

// NormalizedItem is the normalized form of an extracted record
type NormalizedItem struct {
	ID           string      `json:"id"`
	CreatedDate  string      `json:"created_date"`
	ModifiedDate string      `json:"modified_date"`
	Data         interface{} `json:"data"`
}

// NormalizeFunc converts a raw record into the form the platform expects
type NormalizeFunc func(record interface{}) interface{}

// ArtifactUploader uploads one batch of records as an artifact
type ArtifactUploader interface {
	Upload(ctx context.Context, itemType string, items []interface{}) (models.Artifact, error)
}

// Spec describes a repo to create
type Spec struct {
	ItemType  string
	Normalize NormalizeFunc
}

// Options configures a Repo
type Options struct {
	Spec
	BatchSize int
	OnUpload  func(models.Artifact)
}

// Repo is safe for concurrent use. Uploads happen under the repo lock so
// records are uploaded in push order.
type Repo struct {
	itemType  string
	normalize NormalizeFunc
	batchSize int
	onUpload  func(models.Artifact)
	uploader  ArtifactUploader
	logger    *zap.Logger

	mu    sync.Mutex
	items []interface{}
}

// New creates a repo. Reserved item types are never normalized.
func New(uploader ArtifactUploader, opts Options, logger *zap.Logger) *Repo {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	normalize := opts.Normalize
	if models.IsReservedItemType(opts.ItemType) {
		normalize = nil
	}
	return &Repo{
		itemType:  opts.ItemType,
		normalize: normalize,
		batchSize: batchSize,
		onUpload:  opts.OnUpload,
		uploader:  uploader,
		logger:    logger.With(zap.String("component", "repo"), zap.String("item_type", opts.ItemType)),
	}
}

// ItemType returns the item type of the repo
func (r *Repo) ItemType() string {
	return r.itemType
}

// Items returns a copy of the buffered records
func (r *Repo) Items() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]interface{}, len(r.items))
	copy(out, r.items)
	return out
}

// Push normalizes and buffers records, uploading a batch every time the buffer
// reaches the batch size. A failed batch stays at the head of the buffer.
func (r *Repo) Push(ctx context.Context, items []interface{}) error {
	if len(items) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range items {
		if r.normalize != nil {
			item = r.normalize(item)
		}
		r.items = append(r.items, item)
	}
	metrics.RecordsPushed.WithLabelValues(r.itemType).Add(float64(len(items)))

	for len(r.items) >= r.batchSize {
		if err := r.upload(ctx, r.items[:r.batchSize]); err != nil {
			return err
		}
		r.items = append([]interface{}(nil), r.items[r.batchSize:]...)
	}
	return nil
}

// PushAll pushes a typed slice of records
func PushAll[T any](ctx context.Context, r *Repo, items []T) error {
	generic := make([]interface{}, len(items))
	for i, item := range items {
		generic[i] = item
	}
	return r.Push(ctx, generic)
}

// Upload flushes the buffered records. An empty buffer uploads nothing.
func (r *Repo) Upload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) == 0 {
		return nil
	}
	if err := r.upload(ctx, r.items); err != nil {
		return err
	}
	r.items = nil
	return nil
}

func (r *Repo) upload(ctx context.Context, batch []interface{}) error {
	artifact, err := r.uploader.Upload(ctx, r.itemType, batch)
	if err != nil {
		r.logger.Error("failed to upload batch", zap.Int("batch_size", len(batch)), zap.Error(err))
		return errors.Wrapf(err, errors.ErrorTypeUpload, "failed to upload %s batch", r.itemType)
	}
	if r.onUpload != nil {
		r.onUpload(artifact)
	}
	r.logger.Debug("uploaded batch", zap.String("artifact_id", artifact.ID), zap.Int("batch_size", len(batch)))
	return nil
}
