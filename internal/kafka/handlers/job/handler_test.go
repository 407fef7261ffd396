package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/segment-recolor/internal/infra/kafka/producer"
	"github.com/aliskhannn/segment-recolor/internal/model"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type fakePipeline struct {
	specs   []model.JobSpec
	summary model.Summary
	err     error
}

func (p *fakePipeline) ProcessJob(_ context.Context, spec model.JobSpec) (model.Summary, error) {
	p.specs = append(p.specs, spec)
	return p.summary, p.err
}

type fakePublisher struct {
	results []producer.Result
	err     error
}

func (p *fakePublisher) Produce(_ context.Context, r producer.Result) error {
	p.results = append(p.results, r)
	return p.err
}

const jobMessage = `{
	"job_id": "j1",
	"user_id": "u1",
	"concepts": {"walls": {"action": "recolor", "value": "#FFFFFF"}},
	"protect": [],
	"items": [{"idx": 0, "input_key": "in/0.png", "output_key": "out/0.png"}],
	"callback_url": "https://api.example.com/jobs/j1/callback"
}`

func TestHandleRunsJobAndPublishesSummary(t *testing.T) {
	p := &fakePipeline{summary: model.Summary{TotalItems: 1, SuccessfulItems: 1, Errors: []string{}}}
	pub := &fakePublisher{}

	err := NewHandler(p, pub).Handle(context.Background(), kafka.Message{Value: []byte(jobMessage)})
	require.NoError(t, err)

	require.Len(t, p.specs, 1)
	assert.Equal(t, "j1", p.specs[0].JobID)
	assert.Equal(t, []string{"walls"}, p.specs[0].Concepts.Names())

	require.Len(t, pub.results, 1)
	assert.Equal(t, "j1", pub.results[0].JobID)
	assert.NotEmpty(t, pub.results[0].RunID)
	assert.Equal(t, 1, pub.results[0].Summary.SuccessfulItems)
}

func TestHandleDropsUnprocessableMessages(t *testing.T) {
	tests := []struct {
		name  string
		value string
		err   error
	}{
		{name: "malformed json", value: `{"job_id":`},
		{name: "invalid job", value: jobMessage, err: fmt.Errorf("%w: job_id is required", model.ErrInvalidJob)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			h := NewHandler(&fakePipeline{err: tt.err}, pub)

			assert.NoError(t, h.Handle(context.Background(), kafka.Message{Value: []byte(tt.value)}))
			assert.Empty(t, pub.results)
		})
	}
}

func TestHandlePublishFailureIsReturned(t *testing.T) {
	h := NewHandler(&fakePipeline{}, &fakePublisher{err: errors.New("broker down")})

	err := h.Handle(context.Background(), kafka.Message{Value: []byte(jobMessage)})
	assert.ErrorContains(t, err, "broker down")
}

func TestHandleWithoutPublisher(t *testing.T) {
	p := &fakePipeline{}

	assert.NoError(t, NewHandler(p, nil).Handle(context.Background(), kafka.Message{Value: []byte(jobMessage)}))
	assert.Len(t, p.specs, 1)
}
