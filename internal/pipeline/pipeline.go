// Package pipeline runs batch editing jobs in two stages: every concept is
// segmented once on the first image of the batch, then every item is edited
// in parallel with the cached masks and reported individually.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/segment-recolor/internal/callback"
	"github.com/aliskhannn/segment-recolor/internal/config"
	"github.com/aliskhannn/segment-recolor/internal/metrics"
	"github.com/aliskhannn/segment-recolor/internal/model"
	"github.com/aliskhannn/segment-recolor/internal/processor"
	"github.com/aliskhannn/segment-recolor/internal/segmentation"
)

const defaultConcurrency = 4

// objectStorage is the key-addressed blob store holding inputs and outputs.
type objectStorage interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// reporter delivers per-item results to the job submitter.
type reporter interface {
	Report(ctx context.Context, callbackURL string, p callback.Payload, idempotencyKey string) (bool, error)
}

// Pipeline executes jobs. It holds no per-job state and may run several jobs at once.
type Pipeline struct {
	storage     objectStorage
	engines     segmentation.Factory
	reporter    reporter
	processor   *processor.Processor
	metrics     *metrics.Metrics
	concurrency int
	ioTimeout   time.Duration
}

// New creates a Pipeline. m may be nil.
func New(
	s objectStorage,
	engines segmentation.Factory,
	r reporter,
	p *processor.Processor,
	cfg config.Pipeline,
	m *metrics.Metrics,
) *Pipeline {
	concurrency := cfg.BatchConcurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Pipeline{
		storage:     s,
		engines:     engines,
		reporter:    r,
		processor:   p,
		metrics:     m,
		concurrency: concurrency,
		ioTimeout:   cfg.IOTimeout,
	}
}

// ProcessJob runs one job end to end and returns its summary.
//
// Failures of single items or concepts never abort the job; they are counted
// and listed in the summary. When the reference image or the segmentation
// engine is unavailable every item fails with the same cause. The returned
// error is non-nil only for a job that is invalid as submitted.
//
// Cancelling ctx stops dispatching new items; items already started finish,
// and items never started fail. Every item gets exactly one terminal callback.
func (p *Pipeline) ProcessJob(ctx context.Context, spec model.JobSpec) (model.Summary, error) {
	summary := model.NewSummary(len(spec.Items))

	log := zlog.Logger.With().Str("job_id", spec.JobID).Str("user_id", spec.UserID).Logger()

	if len(spec.Items) == 0 {
		log.Warn().Msg("job has no items to process")
		return summary, nil
	}

	if err := spec.Validate(); err != nil {
		return model.Summary{}, err
	}
	if spec.CallbackURL != "" {
		if _, err := callback.JobIDFromURL(spec.CallbackURL); err != nil {
			return model.Summary{}, fmt.Errorf("%w: %v", model.ErrInvalidJob, err)
		}
	}

	log.Info().
		Int("items", len(spec.Items)).
		Int("concepts", len(spec.Concepts)).
		Int("protect", len(spec.Protect)).
		Msg("starting job")

	st, err := p.segment(ctx, spec, &summary, log)
	if err != nil {
		log.Error().Err(err).Msg("segmentation stage failed, failing all items")
		p.failAll(ctx, spec, &summary, err.Error())
		p.metrics.JobDone(true)
		return summary, nil
	}

	p.runItems(ctx, spec, st, &summary, log)

	log.Info().
		Int("total", summary.TotalItems).
		Int("successful", summary.SuccessfulItems).
		Int("failed", summary.FailedItems).
		Msg("job complete")
	p.metrics.JobDone(false)

	return summary, nil
}

// failAll marks every item failed with a shared cause and reports each one.
func (p *Pipeline) failAll(ctx context.Context, spec model.JobSpec, summary *model.Summary, msg string) {
	summary.Errors = append(summary.Errors, msg)

	for _, it := range spec.Items {
		p.notify(ctx, spec, callback.Payload{Idx: it.Idx, Status: model.StatusFailed, Error: msg})
		p.metrics.ItemDone(model.StatusFailed, 0)
		summary.FailedItems++
	}
}

// notify reports an item result. Delivery problems are logged and never
// change the outcome of the item.
func (p *Pipeline) notify(ctx context.Context, spec model.JobSpec, payload callback.Payload) {
	if spec.CallbackURL == "" {
		return
	}

	ok, err := p.reporter.Report(context.WithoutCancel(ctx), spec.CallbackURL, payload, "")
	if err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", spec.JobID).Int("idx", payload.Idx).Msg("callback not sent")
	}
	if !ok {
		zlog.Logger.Warn().
			Str("job_id", spec.JobID).
			Int("idx", payload.Idx).
			Str("status", payload.Status).
			Msg("callback failed, item outcome unchanged")
	}

	p.metrics.CallbackDone(ok)
}

func (p *Pipeline) withIOTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.ioTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, p.ioTimeout)
}

func (p *Pipeline) download(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := p.withIOTimeout(ctx)
	defer cancel()

	return p.storage.Download(ctx, key)
}

func (p *Pipeline) upload(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := p.withIOTimeout(ctx)
	defer cancel()

	return p.storage.Upload(ctx, key, data, contentType)
}
