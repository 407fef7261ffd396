// Package remote implements the segmentation engine as a client of a model
// server reachable over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/disintegration/imaging"

	"github.com/aliskhannn/segment-recolor/internal/config"
	"github.com/aliskhannn/segment-recolor/internal/mask"
	"github.com/aliskhannn/segment-recolor/internal/segmentation"
)

type request struct {
	Input requestInput `json:"input"`
}

type requestInput struct {
	ImageBase64         string   `json:"image_base64"`
	Concepts            []string `json:"concepts"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
}

type response struct {
	Output *struct {
		Results   map[string]conceptResult `json:"results"`
		ImageSize []int                    `json:"image_size"`
	} `json:"output"`
	Error string `json:"error"`
}

type conceptResult struct {
	InstanceCount int       `json:"instance_count"`
	MasksBase64   []string  `json:"masks_base64"`
	Scores        []float64 `json:"scores"`
}

// Engine sends the reference image and one concept per request to the model
// server and decodes the returned PNG masks.
type Engine struct {
	client    *http.Client
	endpoint  string
	apiKey    string
	threshold float64
}

// New creates an Engine for the configured endpoint.
func New(cfg config.Segmentation) (*Engine, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is not configured", segmentation.ErrEngineUnavailable)
	}

	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("%w: invalid endpoint: %v", segmentation.ErrEngineUnavailable, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Engine{
		client:    &http.Client{Timeout: timeout},
		endpoint:  cfg.Endpoint,
		apiKey:    cfg.APIKey,
		threshold: cfg.ConfidenceThreshold,
	}, nil
}

// NewFactory returns a segmentation.Factory creating a remote Engine per job.
func NewFactory(cfg config.Segmentation) segmentation.Factory {
	return func(ctx context.Context) (segmentation.Engine, error) {
		return New(cfg)
	}
}

// Segment implements segmentation.Engine.
func (e *Engine) Segment(ctx context.Context, img image.Image, concept string) ([]mask.Mask, segmentation.Metadata, error) {
	meta := segmentation.Metadata{Concept: concept, Scores: []float64{}}

	encoded := new(bytes.Buffer)
	if err := imaging.Encode(encoded, img, imaging.PNG); err != nil {
		return nil, meta, fmt.Errorf("encode reference image: %w", err)
	}

	body, err := json.Marshal(request{Input: requestInput{
		ImageBase64:         base64.StdEncoding.EncodeToString(encoded.Bytes()),
		Concepts:            []string{concept},
		ConfidenceThreshold: e.threshold,
	}})
	if err != nil {
		return nil, meta, fmt.Errorf("marshal segment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, meta, fmt.Errorf("build segment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, meta, fmt.Errorf("segment request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, meta, fmt.Errorf("read segment response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, meta, fmt.Errorf("segment request: unexpected status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, meta, fmt.Errorf("decode segment response: %w", err)
	}

	if out.Error != "" {
		return nil, meta, fmt.Errorf("segmentation failed: %s", out.Error)
	}
	if out.Output == nil {
		return nil, meta, fmt.Errorf("segmentation failed: empty output")
	}

	res, ok := out.Output.Results[concept]
	if !ok {
		return nil, meta, nil
	}

	masks := make([]mask.Mask, 0, len(res.MasksBase64))
	for i, enc := range res.MasksBase64 {
		m, err := decodeMask(enc)
		if err != nil {
			return nil, meta, fmt.Errorf("decode mask %d of %q: %w", i, concept, err)
		}
		masks = append(masks, m)
	}

	meta.InstanceCount = len(masks)
	if res.Scores != nil {
		meta.Scores = res.Scores
	}

	return masks, meta, nil
}

// Close releases idle connections.
func (e *Engine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func decodeMask(enc string) (mask.Mask, error) {
	data, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return mask.Mask{}, err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return mask.Mask{}, err
	}

	return mask.FromImage(img), nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}

	return string(b)
}
