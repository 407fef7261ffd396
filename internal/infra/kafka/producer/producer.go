package producer

import (
	"context"
	"encoding/json"
	"fmt"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/segment-recolor/internal/config"
	"github.com/aliskhannn/segment-recolor/internal/model"
)

// Result is the message published for every finished job.
type Result struct {
	JobID   string        `json:"job_id"`
	RunID   string        `json:"run_id,omitempty"`
	Summary model.Summary `json:"summary"`
}

// Producer publishes job summaries to the results topic.
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
	cfg      *config.Kafka
}

// New creates a new Producer on the results topic of cfg.
func New(cfg *config.Kafka, s retry.Strategy) *Producer {
	return &Producer{
		Client:   wbfkafka.NewProducer(cfg.Brokers, cfg.ResultsTopic),
		cfg:      cfg,
		strategy: s,
	}
}

// Produce serializes r to JSON and sends it keyed by the job ID, so results
// of one job land on one partition.
func (p *Producer) Produce(ctx context.Context, r Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %v", err)
	}

	if err = p.Client.SendWithRetry(ctx, p.strategy, []byte(r.JobID), data); err != nil {
		return fmt.Errorf("failed to send job result: %v", err)
	}

	return nil
}
