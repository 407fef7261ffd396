package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/segment-recolor/internal/callback"
	"github.com/aliskhannn/segment-recolor/internal/model"
	"github.com/aliskhannn/segment-recolor/internal/processor"
)

// outcome is the terminal result of one item.
type outcome struct {
	idx     int
	success bool
	err     string
}

// runItems edits all items on a bounded pool of workers and folds their
// outcomes into summary. summary is only written here, by the goroutine
// draining the outcome channel.
func (p *Pipeline) runItems(ctx context.Context, spec model.JobSpec, st *stage, summary *model.Summary, log zerolog.Logger) {
	workers := spec.BatchConcurrency
	if workers <= 0 {
		workers = p.concurrency
	}
	if workers > len(spec.Items) {
		workers = len(spec.Items)
	}

	log.Info().Int("items", len(spec.Items)).Int("batch_concurrency", workers).Msg("stage 2: processing items")

	for o := range p.dispatch(ctx, spec, st, workers) {
		if o.success {
			summary.SuccessfulItems++
			continue
		}

		summary.FailedItems++
		if o.err != "" {
			summary.Errors = append(summary.Errors, o.err)
		}
	}
}

// dispatch feeds items to the workers until all are handed out or ctx is
// cancelled. Items not handed out fail without being started; started items
// run to completion on a context detached from ctx. The returned channel is
// closed after every item produced its outcome.
func (p *Pipeline) dispatch(ctx context.Context, spec model.JobSpec, st *stage, workers int) <-chan outcome {
	queue := make(chan model.Item)
	outcomes := make(chan outcome, len(spec.Items))
	work := context.WithoutCancel(ctx)

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range queue {
				outcomes <- p.processItem(work, spec, st, it)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(queue)

		for i, it := range spec.Items {
			select {
			case <-ctx.Done():
				for _, rest := range spec.Items[i:] {
					outcomes <- p.abandon(work, spec, rest, ctx.Err())
				}
				return
			case queue <- it:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	return outcomes
}

// processItem runs one item and reports it. It never panics.
func (p *Pipeline) processItem(ctx context.Context, spec model.JobSpec, st *stage, it model.Item) (o outcome) {
	start := time.Now()
	log := itemLogger(spec, it)

	defer func() {
		if r := recover(); r != nil {
			o = p.fail(ctx, spec, it, fmt.Errorf("panic: %v", r), start)
		}
	}()

	log.Info().Str("input_key", it.InputKey).Msg("processing item")

	if err := p.editItem(ctx, spec, st, it); err != nil {
		return p.fail(ctx, spec, it, err, start)
	}

	p.notify(ctx, spec, callback.Payload{
		Idx:        it.Idx,
		Status:     model.StatusCompleted,
		OutputKey:  it.OutputKey,
		PreviewKey: it.PreviewKey,
	})
	p.metrics.ItemDone(model.StatusCompleted, time.Since(start))

	log.Info().Dur("elapsed", time.Since(start)).Msg("item completed")

	return outcome{idx: it.Idx, success: true}
}

// editItem downloads, edits and uploads one item: output first, then the preview.
func (p *Pipeline) editItem(ctx context.Context, spec model.JobSpec, st *stage, it model.Item) error {
	data, err := p.download(ctx, it.InputKey)
	if err != nil {
		return err
	}

	img, err := p.processor.Decode(data)
	if err != nil {
		return err
	}

	edited, err := p.processor.Apply(img, st.masks, spec.Concepts, st.protect)
	if err != nil {
		return fmt.Errorf("apply rules: %w", err)
	}

	out, err := p.processor.EncodeOutput(edited)
	if err != nil {
		return err
	}

	if err := p.upload(ctx, it.OutputKey, out, processor.ContentTypePNG); err != nil {
		return err
	}

	if it.PreviewKey == "" {
		return nil
	}

	preview, err := p.processor.EncodePreview(edited)
	if err != nil {
		return err
	}

	return p.upload(ctx, it.PreviewKey, preview, processor.ContentTypeJPEG)
}

func (p *Pipeline) fail(ctx context.Context, spec model.JobSpec, it model.Item, err error, start time.Time) outcome {
	msg := fmt.Sprintf("failed to process item %d: %v", it.Idx, err)
	log := itemLogger(spec, it)
	log.Error().Err(err).Msg("item failed")

	p.notify(ctx, spec, callback.Payload{Idx: it.Idx, Status: model.StatusFailed, Error: msg})
	p.metrics.ItemDone(model.StatusFailed, time.Since(start))

	return outcome{idx: it.Idx, err: msg}
}

// abandon fails an item that was never started because the job was cancelled.
func (p *Pipeline) abandon(ctx context.Context, spec model.JobSpec, it model.Item, cause error) outcome {
	msg := fmt.Sprintf("item %d not started: %v", it.Idx, cause)
	log := itemLogger(spec, it)
	log.Warn().Err(cause).Msg("item abandoned on shutdown")

	p.notify(ctx, spec, callback.Payload{Idx: it.Idx, Status: model.StatusFailed, Error: msg})
	p.metrics.ItemDone(model.StatusFailed, 0)

	return outcome{idx: it.Idx, err: msg}
}

func itemLogger(spec model.JobSpec, it model.Item) zerolog.Logger {
	return zlog.Logger.With().Str("job_id", spec.JobID).Int("idx", it.Idx).Logger()
}
