// Package segmentation defines the contract between the pipeline and the
// engine that turns an image and a concept description into instance masks.
package segmentation

import (
	"context"
	"errors"
	"image"

	"github.com/aliskhannn/segment-recolor/internal/mask"
)

// ErrEngineUnavailable is returned when an engine cannot be created.
var ErrEngineUnavailable = errors.New("segmentation engine unavailable")

// Metadata describes the result of one Segment call.
type Metadata struct {
	Concept       string    `json:"concept"`
	InstanceCount int       `json:"instance_count"`
	Scores        []float64 `json:"scores"`
}

// Engine segments one concept at a time. Implementations are not required to
// be safe for concurrent use.
type Engine interface {
	Segment(ctx context.Context, img image.Image, concept string) ([]mask.Mask, Metadata, error)
	Close() error
}

// Factory creates an engine for one job. A Factory error is fatal to the job.
type Factory func(ctx context.Context) (Engine, error)
