package static

import (
	"context"
	"image"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/segment-recolor/internal/config"
)

func TestSegmentRasterizesRegions(t *testing.T) {
	e := FromConfig([]config.StaticRegion{
		{Concept: "Walls", Points: [][]float64{{0, 0}, {0.5, 0}, {0.5, 1}, {0, 1}}},
		{Concept: "walls", Points: [][]float64{{0.6, 0.6}, {1, 0.6}, {1, 1}, {0.6, 1}}},
		{Concept: "walls", Points: [][]float64{{0, 0}, {1, 1}}},
	})
	img := imaging.New(20, 10, image.Black.C)

	masks, meta, err := e.Segment(context.Background(), img, "WALLS")
	require.NoError(t, err)
	require.Len(t, masks, 2)
	assert.Equal(t, 2, meta.InstanceCount)
	assert.Equal(t, []float64{1, 1}, meta.Scores)

	left := masks[0]
	assert.Equal(t, 20, left.Width)
	assert.Equal(t, 10, left.Height)
	assert.InDelta(t, 1, left.At(3, 5), 1e-6)
	assert.InDelta(t, 0, left.At(16, 5), 1e-6)

	corner := masks[1]
	assert.InDelta(t, 1, corner.At(18, 8), 1e-6)
	assert.InDelta(t, 0, corner.At(3, 2), 1e-6)
}

func TestSegmentUnknownConcept(t *testing.T) {
	e := New(nil)

	masks, meta, err := e.Segment(context.Background(), imaging.New(4, 4, image.Black.C), "door")
	require.NoError(t, err)
	assert.Empty(t, masks)
	assert.Zero(t, meta.InstanceCount)
}

func TestSegmentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := New(nil).Segment(ctx, imaging.New(4, 4, image.Black.C), "door")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactorySharesEngine(t *testing.T) {
	e := New(nil)
	f := NewFactory(e)

	got, err := f(context.Background())
	require.NoError(t, err)
	assert.Same(t, e, got)
	assert.NoError(t, got.Close())
}
