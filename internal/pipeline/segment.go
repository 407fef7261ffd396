package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/aliskhannn/segment-recolor/internal/mask"
	"github.com/aliskhannn/segment-recolor/internal/model"
	"github.com/aliskhannn/segment-recolor/internal/preset"
	"github.com/aliskhannn/segment-recolor/internal/segmentation"
)

// stage is the outcome of segmentation. It is read-only once built and is
// shared by all item workers without locking.
type stage struct {
	masks   mask.Cache
	protect *mask.Mask
}

// segment downloads the first item as the reference image and segments every
// concept and protect concept on it once. The returned error is fatal to the
// job; failures of single concepts are recorded in summary instead.
func (p *Pipeline) segment(ctx context.Context, spec model.JobSpec, summary *model.Summary, log zerolog.Logger) (*stage, error) {
	log.Info().
		Int("concepts", len(spec.Concepts)).
		Int("protect", len(spec.Protect)).
		Msg("stage 1: segmenting concepts")

	if spec.Preset != "" && !preset.Known(spec.Preset) {
		log.Warn().Str("preset", spec.Preset).Msg("unknown preset, concepts are segmented by name")
	}

	// All items reuse the masks of the first image.
	data, err := p.download(ctx, spec.Items[0].InputKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download first image for segmentation: %w", err)
	}

	ref, err := p.processor.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read first image for segmentation: %w", err)
	}

	engine, err := p.engines(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize segmentation engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close segmentation engine")
		}
	}()

	st := &stage{masks: make(mask.Cache, len(spec.Concepts))}
	segmented := make(map[string][]mask.Mask)
	failed := make(map[string]bool)

	for _, name := range spec.Concepts.Names() {
		masks, err := p.segmentConcept(ctx, engine, ref, spec.Preset, name, log)
		if err != nil {
			msg := fmt.Sprintf("failed to segment concept '%s': %v", name, err)
			log.Warn().Str("concept", name).Err(err).Msg("concept segmentation failed, continuing without it")
			summary.Errors = append(summary.Errors, msg)
			st.masks[name] = []mask.Mask{}
			failed[name] = true
			continue
		}

		st.masks[name] = masks
		segmented[name] = masks
	}

	var protected []mask.Mask
	for _, name := range spec.Protect {
		if failed[name] {
			continue
		}

		masks, ok := segmented[name]
		if !ok {
			masks, err = p.segmentConcept(ctx, engine, ref, spec.Preset, name, log)
			if err != nil {
				log.Warn().Str("concept", name).Err(err).Msg("protect concept segmentation failed, skipping it")
				failed[name] = true
				continue
			}
			segmented[name] = masks
		}

		if combined, ok := mask.Max(masks...); ok {
			protected = append(protected, combined)
		}
	}

	if combined, ok := mask.Max(protected...); ok {
		st.protect = &combined
		log.Info().Int("protect_concepts", len(protected)).Msg("combined protect masks")
	}

	log.Info().Msg("stage 1 complete")

	return st, nil
}

// segmentConcept segments one concept and normalises the result to instance
// masks of the reference size. Single-instance concepts are merged into one mask.
func (p *Pipeline) segmentConcept(
	ctx context.Context,
	engine segmentation.Engine,
	ref image.Image,
	presetName, name string,
	log zerolog.Logger,
) ([]mask.Mask, error) {
	def := preset.Lookup(presetName, name)

	start := time.Now()
	raw, meta, err := engine.Segment(ctx, ref, def.Prompt)
	p.metrics.ConceptSegmented(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	w, h := ref.Bounds().Dx(), ref.Bounds().Dy()

	masks := make([]mask.Mask, 0, len(raw))
	for _, m := range raw {
		if !m.Fits(w, h) {
			log.Debug().
				Str("concept", name).
				Int("mask_width", m.Width).
				Int("mask_height", m.Height).
				Msg("dropping mask that does not match the reference image")
			continue
		}
		masks = append(masks, m)
	}

	if !def.MultiInstance && len(masks) > 1 {
		combined, _ := mask.Max(masks...)
		masks = []mask.Mask{combined}
	}

	log.Info().
		Str("concept", name).
		Str("prompt", def.Prompt).
		Int("instances", len(masks)).
		Floats64("scores", meta.Scores).
		Msg("concept segmented")

	return masks, nil
}
