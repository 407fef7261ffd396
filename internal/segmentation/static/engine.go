// Package static implements a segmentation engine that returns fixed,
// configured regions. It is meant for local runs and demos where no model
// server is available.
package static

import (
	"context"
	"image"
	"strings"

	"github.com/fogleman/gg"

	"github.com/aliskhannn/segment-recolor/internal/config"
	"github.com/aliskhannn/segment-recolor/internal/mask"
	"github.com/aliskhannn/segment-recolor/internal/segmentation"
)

// Point is a polygon vertex in coordinates normalised to [0,1].
type Point struct {
	X, Y float64
}

// Engine rasterises one mask per configured polygon of a concept.
type Engine struct {
	regions map[string][][]Point
}

// New creates an Engine from concept to polygons.
func New(regions map[string][][]Point) *Engine {
	normalized := make(map[string][][]Point, len(regions))
	for concept, polys := range regions {
		key := strings.ToLower(concept)
		normalized[key] = append(normalized[key], polys...)
	}

	return &Engine{regions: normalized}
}

// FromConfig builds an Engine from the configured regions.
func FromConfig(regions []config.StaticRegion) *Engine {
	m := make(map[string][][]Point)
	for _, r := range regions {
		poly := make([]Point, 0, len(r.Points))
		for _, p := range r.Points {
			if len(p) != 2 {
				continue
			}
			poly = append(poly, Point{X: p[0], Y: p[1]})
		}
		m[r.Concept] = append(m[r.Concept], poly)
	}

	return New(m)
}

// NewFactory returns a segmentation.Factory sharing e across jobs.
func NewFactory(e *Engine) segmentation.Factory {
	return func(ctx context.Context) (segmentation.Engine, error) {
		return e, nil
	}
}

// Segment implements segmentation.Engine. Unknown concepts yield no masks.
func (e *Engine) Segment(ctx context.Context, img image.Image, concept string) ([]mask.Mask, segmentation.Metadata, error) {
	meta := segmentation.Metadata{Concept: concept, Scores: []float64{}}
	if err := ctx.Err(); err != nil {
		return nil, meta, err
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	var masks []mask.Mask
	for _, poly := range e.regions[strings.ToLower(concept)] {
		if len(poly) < 3 {
			continue
		}

		masks = append(masks, rasterize(poly, w, h))
		meta.Scores = append(meta.Scores, 1)
	}

	meta.InstanceCount = len(masks)

	return masks, meta, nil
}

// Close implements segmentation.Engine.
func (e *Engine) Close() error {
	return nil
}

func rasterize(poly []Point, w, h int) mask.Mask {
	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)

	dc.MoveTo(poly[0].X*float64(w), poly[0].Y*float64(h))
	for _, p := range poly[1:] {
		dc.LineTo(p.X*float64(w), p.Y*float64(h))
	}
	dc.ClosePath()
	dc.Fill()

	return mask.FromImage(dc.Image())
}
