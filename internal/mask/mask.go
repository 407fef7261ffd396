// Package mask holds the canonical instance mask representation shared by
// the segmentation engines, the pipeline and the rule applier.
package mask

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrSize is returned when the values do not cover width*height pixels.
var ErrSize = errors.New("mask size mismatch")

// Mask is a row-major per-pixel weight map with values in [0,1].
type Mask struct {
	Width  int
	Height int
	Pix    []float32
}

// New returns a zero mask of the given size.
func New(width, height int) Mask {
	return Mask{Width: width, Height: height, Pix: make([]float32, width*height)}
}

// FromValues builds a mask from raw values. Values in [0,255] are scaled to
// [0,1] when any of them exceeds 1; the result is clamped to [0,1].
func FromValues(width, height int, values []float32) (Mask, error) {
	if width <= 0 || height <= 0 || len(values) != width*height {
		return Mask{}, fmt.Errorf("%w: %dx%d with %d values", ErrSize, width, height, len(values))
	}

	var peak float32
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}

	scale := float32(1)
	if peak > 1 {
		scale = 1.0 / 255
	}

	m := New(width, height)
	for i, v := range values {
		m.Pix[i] = clamp(v * scale)
	}

	return m, nil
}

// FromBytes builds a mask from 8-bit values in [0,255].
func FromBytes(width, height int, values []uint8) (Mask, error) {
	if width <= 0 || height <= 0 || len(values) != width*height {
		return Mask{}, fmt.Errorf("%w: %dx%d with %d values", ErrSize, width, height, len(values))
	}

	m := New(width, height)
	for i, v := range values {
		m.Pix[i] = float32(v) / 255
	}

	return m, nil
}

// FromImage reads a grayscale mask image. Colour images are reduced to luminance.
func FromImage(img image.Image) Mask {
	b := img.Bounds()
	m := New(b.Dx(), b.Dy())

	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			m.Pix[y*m.Width+x] = float32(g.Y) / 255
		}
	}

	return m
}

// Valid reports whether the mask has a non-empty area backed by enough values.
func (m Mask) Valid() bool {
	return m.Width > 0 && m.Height > 0 && len(m.Pix) == m.Width*m.Height
}

// Fits reports whether the mask can be laid over an image of the given size.
func (m Mask) Fits(width, height int) bool {
	return m.Valid() && m.Width == width && m.Height == height
}

// At returns the weight at (x, y).
func (m Mask) At(x, y int) float32 {
	return m.Pix[y*m.Width+x]
}

// Set stores a weight at (x, y), clamped to [0,1].
func (m Mask) Set(x, y int, v float32) {
	m.Pix[y*m.Width+x] = clamp(v)
}

// Coverage returns the mean weight of the mask.
func (m Mask) Coverage() float64 {
	if len(m.Pix) == 0 {
		return 0
	}

	var sum float64
	for _, v := range m.Pix {
		sum += float64(v)
	}

	return sum / float64(len(m.Pix))
}

// Max combines masks by pixel-wise maximum. Masks whose size differs from the
// first valid mask are ignored. ok is false when no valid mask was given.
func Max(masks ...Mask) (combined Mask, ok bool) {
	for _, m := range masks {
		if !m.Valid() {
			continue
		}

		if !ok {
			combined = New(m.Width, m.Height)
			copy(combined.Pix, m.Pix)
			ok = true
			continue
		}

		if !m.Fits(combined.Width, combined.Height) {
			continue
		}

		for i, v := range m.Pix {
			if v > combined.Pix[i] {
				combined.Pix[i] = v
			}
		}
	}

	return combined, ok
}

// Cache maps a concept name to its instance masks. It is built once per job
// and only read afterwards.
type Cache map[string][]Mask

// Instances returns the instance masks of a concept, nil when unknown.
func (c Cache) Instances(concept string) []Mask {
	return c[concept]
}

func clamp(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
