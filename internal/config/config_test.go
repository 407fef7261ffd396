package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: ":9090"
storage:
  backend: local
kafka:
  enabled: true
  topic: jobs
  brokers: ["k1:9092", "k2:9092"]
segmentation:
  engine: static
  regions:
    - concept: walls
      points: [[0, 0], [1, 0], [1, 1]]
`), 0o644))

	t.Setenv("GPU_CALLBACK_SECRET", "from-env")
	t.Setenv("BATCH_CONCURRENCY", "8")

	cfg := MustLoad(path)

	assert.Equal(t, ":9090", cfg.Server.HTTPPort)
	assert.Equal(t, 15*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "from-env", cfg.Callback.Secret)
	assert.Equal(t, "X-GPU-Callback-Secret", cfg.Callback.SecretHeader)
	assert.Equal(t, 8, cfg.Pipeline.BatchConcurrency)
	assert.Equal(t, 400, cfg.Pipeline.PreviewMaxSide)
	assert.Equal(t, 85, cfg.Pipeline.PreviewQuality)
	assert.Equal(t, time.Second, cfg.Callback.RetryDelay)
	assert.InDelta(t, 0.5, cfg.Segmentation.ConfidenceThreshold, 1e-9)

	require.Len(t, cfg.Segmentation.Regions, 1)
	assert.Equal(t, "walls", cfg.Segmentation.Regions[0].Concept)
	assert.Len(t, cfg.Segmentation.Regions[0].Points, 3)
}
