package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/segment-recolor/internal/infra/kafka/producer"
	"github.com/aliskhannn/segment-recolor/internal/model"
)

type pipeline interface {
	ProcessJob(ctx context.Context, spec model.JobSpec) (model.Summary, error)
}

type publisher interface {
	Produce(ctx context.Context, r producer.Result) error
}

// Handler runs jobs received from Kafka and publishes their summaries.
type Handler struct {
	pipeline  pipeline
	publisher publisher
}

// NewHandler creates a new Handler. pub may be nil, then summaries are only logged.
func NewHandler(p pipeline, pub publisher) *Handler {
	return &Handler{pipeline: p, publisher: pub}
}

// Handle runs the job carried by msg.
//
// Messages that can never succeed, malformed JSON or an invalid job, are
// logged and acknowledged. Only a failure to publish the summary is returned,
// so the message is redelivered.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var spec model.JobSpec
	if err := json.Unmarshal(msg.Value, &spec); err != nil {
		zlog.Logger.Error().Err(err).Int64("offset", msg.Offset).Msg("dropping malformed job message")
		return nil
	}

	runID := uuid.New().String()
	log := zlog.Logger.With().Str("job_id", spec.JobID).Str("run_id", runID).Logger()
	log.Info().Int("items", len(spec.Items)).Msg("job received")

	summary, err := h.pipeline.ProcessJob(ctx, spec)
	if errors.Is(err, model.ErrInvalidJob) {
		log.Error().Err(err).Msg("dropping invalid job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("process job %s: %w", spec.JobID, err)
	}

	if h.publisher == nil {
		return nil
	}

	// The job already ran; its summary is published even during shutdown.
	result := producer.Result{JobID: spec.JobID, RunID: runID, Summary: summary}
	if err := h.publisher.Produce(context.WithoutCancel(ctx), result); err != nil {
		return fmt.Errorf("publish summary of job %s: %w", spec.JobID, err)
	}

	return nil
}
