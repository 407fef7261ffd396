package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/segment-recolor/internal/config"
	"github.com/aliskhannn/segment-recolor/internal/segmentation"
)

func maskPNG(t *testing.T, w, h int, on image.Rectangle) string {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := on.Min.Y; y < on.Max.Y; y++ {
		for x := on.Min.X; x < on.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newEngine(t *testing.T, url string) *Engine {
	t.Helper()

	e, err := New(config.Segmentation{Endpoint: url, APIKey: "key", ConfidenceThreshold: 0.4, Timeout: 5 * time.Second})
	require.NoError(t, err)

	return e
}

func TestSegment(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{
				"results": map[string]any{
					"wall surface": map[string]any{
						"instance_count": 2,
						"masks_base64": []string{
							maskPNG(t, 4, 2, image.Rect(0, 0, 2, 2)),
							maskPNG(t, 4, 2, image.Rect(2, 0, 4, 2)),
						},
						"scores": []float64{0.9, 0.7},
					},
				},
				"image_size": []int{4, 2},
			},
		})
	}))
	defer srv.Close()

	e := newEngine(t, srv.URL)
	defer e.Close()

	masks, meta, err := e.Segment(context.Background(), imaging.New(4, 2, color.White), "wall surface")
	require.NoError(t, err)

	assert.Equal(t, []string{"wall surface"}, got.Input.Concepts)
	assert.InDelta(t, 0.4, got.Input.ConfidenceThreshold, 1e-9)
	raw, err := base64.StdEncoding.DecodeString(got.Input.ImageBase64)
	require.NoError(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Width)

	require.Len(t, masks, 2)
	assert.Equal(t, 2, meta.InstanceCount)
	assert.Equal(t, []float64{0.9, 0.7}, meta.Scores)
	assert.Equal(t, float32(1), masks[0].At(0, 0))
	assert.Equal(t, float32(0), masks[0].At(3, 1))
	assert.Equal(t, float32(1), masks[1].At(3, 1))
}

func TestSegmentFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, wantErr: true},
		{name: "error field", status: http.StatusOK, body: `{"error":"CUDA out of memory"}`, wantErr: true},
		{name: "no output", status: http.StatusOK, body: `{}`, wantErr: true},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantErr: true},
		{name: "bad mask", status: http.StatusOK, body: `{"output":{"results":{"door":{"masks_base64":["!!"]}}}}`, wantErr: true},
		{name: "concept absent", status: http.StatusOK, body: `{"output":{"results":{}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			masks, _, err := newEngine(t, srv.URL).Segment(context.Background(), imaging.New(2, 2, color.White), "door")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, masks)
		})
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(config.Segmentation{})
	assert.ErrorIs(t, err, segmentation.ErrEngineUnavailable)

	_, err = NewFactory(config.Segmentation{Endpoint: "not a url"})(context.Background())
	assert.ErrorIs(t, err, segmentation.ErrEngineUnavailable)
}
