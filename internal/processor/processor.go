package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"reflect"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/aliskhannn/segment-recolor/internal/mask"
	"github.com/aliskhannn/segment-recolor/internal/model"
)

// Content types of the encoded outputs.
const (
	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
)

// ErrNotImage is returned when the input of ApplyRules is not an image.
var ErrNotImage = errors.New("input is not an image")

// NeutralGray is the colour used for rule values that are not "#RRGGBB".
// Material names are not mapped to real colours yet.
var NeutralGray = color.RGBA{R: 128, G: 128, B: 128, A: 255}

// Processor decodes input images, applies concept rules and encodes the
// full-size output together with its low-resolution preview.
type Processor struct {
	previewMaxSide int
	previewQuality int
}

// New creates a Processor producing previews whose longest side is at most
// previewMaxSide, encoded as JPEG with previewQuality.
func New(previewMaxSide, previewQuality int) *Processor {
	if previewMaxSide <= 0 {
		previewMaxSide = 400
	}
	if previewQuality <= 0 || previewQuality > 100 {
		previewQuality = 85
	}

	return &Processor{previewMaxSide: previewMaxSide, previewQuality: previewQuality}
}

// Decode parses an encoded image, honouring EXIF orientation.
func (p *Processor) Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	return img, nil
}

// Apply runs ApplyRules.
func (p *Processor) Apply(img image.Image, masks mask.Cache, concepts model.Concepts, protect *mask.Mask) (*image.NRGBA, error) {
	return ApplyRules(img, masks, concepts, protect)
}

// EncodeOutput encodes the edited image losslessly as PNG.
func (p *Processor) EncodeOutput(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode output image: %w", err)
	}

	return buf.Bytes(), nil
}

// EncodePreview downscales the image so that its longest side fits the
// preview limit and encodes it as JPEG. Smaller images keep their size.
func (p *Processor) EncodePreview(img image.Image) ([]byte, error) {
	thumb := imaging.Fit(img, p.previewMaxSide, p.previewMaxSide, imaging.Lanczos)

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(p.previewQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode preview image: %w", err)
	}

	return buf.Bytes(), nil
}

// ApplyRules composes the edited image.
//
// For every concept present both in concepts and masks, each instance mask is
// blended over the image as result = result*(1-m) + colour*m. Protected pixels
// are removed from every instance mask first (m*(1-protect)). Concepts are
// applied in order, so the last rule wins where masks overlap. Masks whose
// size differs from the image are skipped, as is a mismatched protect mask.
// The result is always opaque RGB with the size of the input.
func ApplyRules(img image.Image, masks mask.Cache, concepts model.Concepts, protect *mask.Mask) (*image.NRGBA, error) {
	if isNil(img) {
		return nil, ErrNotImage
	}

	src := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()

	rgb := make([]float32, w*h*3)
	for i := 0; i < w*h; i++ {
		rgb[i*3] = float32(src.Pix[i*4])
		rgb[i*3+1] = float32(src.Pix[i*4+1])
		rgb[i*3+2] = float32(src.Pix[i*4+2])
	}

	var keep []float32
	if protect != nil && protect.Fits(w, h) {
		keep = protect.Pix
	}

	for _, cr := range concepts {
		instances, ok := masks[cr.Name]
		if !ok || cr.Rule.Value == "" {
			continue
		}

		switch cr.Rule.Action {
		case model.ActionRecolor:
			c := ParseColor(cr.Rule.Value)
			for _, m := range instances {
				if !m.Fits(w, h) {
					continue
				}
				blend(rgb, m.Pix, keep, c)
			}
		case model.ActionTone, model.ActionTexture:
			// Not implemented: the regions keep their pixels.
		default:
			continue
		}
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		out.Pix[i*4] = toByte(rgb[i*3])
		out.Pix[i*4+1] = toByte(rgb[i*3+1])
		out.Pix[i*4+2] = toByte(rgb[i*3+2])
		out.Pix[i*4+3] = 255
	}

	return out, nil
}

// ParseColor resolves a rule value. "#RRGGBB" yields the exact channels;
// anything else, including malformed hex, yields NeutralGray.
func ParseColor(value string) color.RGBA {
	hex, ok := strings.CutPrefix(strings.TrimSpace(value), "#")
	if !ok || len(hex) != 6 {
		return NeutralGray
	}

	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return NeutralGray
	}

	return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 255}
}

// blend lays colour c over rgb weighted by weights, minus the protected pixels.
func blend(rgb, weights, protect []float32, c color.RGBA) {
	cr, cg, cb := float32(c.R), float32(c.G), float32(c.B)

	for i, m := range weights {
		if protect != nil {
			m *= 1 - protect[i]
		}
		if m <= 0 {
			continue
		}

		rgb[i*3] = rgb[i*3]*(1-m) + cr*m
		rgb[i*3+1] = rgb[i*3+1]*(1-m) + cg*m
		rgb[i*3+2] = rgb[i*3+2]*(1-m) + cb*m
	}
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

func isNil(img image.Image) bool {
	if img == nil {
		return true
	}

	v := reflect.ValueOf(img)

	return v.Kind() == reflect.Pointer && v.IsNil()
}
