// Package attachments streams attachments from the external system to the platform
// with bounded concurrency and cooperative rate-limit backoff.
package attachments

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/metrics"
	"github.com/ajitpratap0/airsync/pkg/models"
)

// DefaultBatchSize is the number of attachments streamed at once
const DefaultBatchSize = 10

// Result is the outcome of processing. A non-zero Delay is the number of seconds
// the external system asked the worker to wait.
type Result struct {
	Delay int
}

// ProcessFunc streams one attachment. A rate limit is reported through Result.Delay,
// not as an error.
type ProcessFunc func(ctx context.Context, attachment models.NormalizedAttachment) (Result, error)

// Ledger records the attachments already streamed in a previous, possibly
// interrupted, run. Implementations must be safe for concurrent use.
type Ledger interface {
	Contains(id string) bool
	Append(id string)
}

// Pool streams a list of attachments with at most batchSize in flight
type Pool struct {
	batchSize int
	process   ProcessFunc
	ledger    Ledger
	logger    *zap.Logger

	mu    sync.Mutex
	queue []models.NormalizedAttachment
	delay int
}

// NewPool creates a pool over a copy of attachments
func NewPool(attachments []models.NormalizedAttachment, batchSize int, ledger Ledger, process ProcessFunc, logger *zap.Logger) *Pool {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	queue := make([]models.NormalizedAttachment, len(attachments))
	copy(queue, attachments)
	return &Pool{
		batchSize: batchSize,
		process:   process,
		ledger:    ledger,
		logger:    logger.With(zap.String("component", "attachments_pool")),
		queue:     queue,
	}
}

// StreamAll processes the queue until it is empty, a rate limit is hit or ctx is done.
// Attachments in the ledger are skipped and successfully streamed ones are appended.
func (p *Pool) StreamAll(ctx context.Context) (Result, error) {
	if p.ledger == nil {
		return Result{}, errors.New(errors.ErrorTypeState, "attachments ledger is not initialized")
	}

	workers := p.batchSize
	if len(p.queue) < workers {
		workers = len(p.queue)
	}
	p.logger.Info("starting attachment streaming",
		zap.Int("attachments", len(p.queue)),
		zap.Int("concurrency", workers))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delay > 0 {
		return Result{Delay: p.delay}, nil
	}
	return Result{}, nil
}

func (p *Pool) next(ctx context.Context) (models.NormalizedAttachment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delay > 0 || len(p.queue) == 0 || ctx.Err() != nil {
		return models.NormalizedAttachment{}, false
	}
	a := p.queue[0]
	p.queue = p.queue[1:]
	return a, true
}

func (p *Pool) work(ctx context.Context) {
	for {
		attachment, ok := p.next(ctx)
		if !ok {
			return
		}

		if p.ledger.Contains(attachment.ID) {
			p.logger.Debug("attachment already processed, skipping", zap.String("attachment_id", attachment.ID))
			metrics.AttachmentsProcessed.WithLabelValues("already_processed").Inc()
			continue
		}

		res, err := p.process(ctx, attachment)
		if err != nil {
			p.logger.Warn("skipping attachment",
				zap.String("attachment_id", attachment.ID),
				zap.Bool("retryable", errors.IsRetryable(err)),
				zap.Error(err))
			metrics.AttachmentsProcessed.WithLabelValues("failed").Inc()
			continue
		}

		if res.Delay > 0 {
			p.mu.Lock()
			if p.delay == 0 {
				p.delay = res.Delay
			}
			p.mu.Unlock()
			metrics.AttachmentsProcessed.WithLabelValues("delayed").Inc()
			p.logger.Info("rate limited while streaming attachments",
				zap.String("attachment_id", attachment.ID),
				zap.Int("delay", res.Delay))
			return
		}

		p.ledger.Append(attachment.ID)
		metrics.AttachmentsProcessed.WithLabelValues("streamed").Inc()
		p.logger.Debug("attachment processed", zap.String("attachment_id", attachment.ID))
	}
}
