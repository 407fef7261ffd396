package job

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/segment-recolor/internal/api/respond"
	"github.com/aliskhannn/segment-recolor/internal/model"
)

type pipeline interface {
	ProcessJob(ctx context.Context, spec model.JobSpec) (model.Summary, error)
}

// Handler serves synchronous job runs over HTTP.
type Handler struct {
	pipeline pipeline
}

// NewHandler creates a new Handler.
func NewHandler(p pipeline) *Handler {
	return &Handler{pipeline: p}
}

// Run decodes a job from the request body, runs it to completion and
// responds with its summary. Per-item results are still delivered through
// the job's callback URL.
func (h *Handler) Run(c *ginext.Context) {
	var spec model.JobSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to decode job")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid job payload: %v", err))
		return
	}

	runID := uuid.New().String()
	zlog.Logger.Info().Str("job_id", spec.JobID).Str("run_id", runID).Msg("job received over http")

	summary, err := h.pipeline.ProcessJob(c.Request.Context(), spec)
	if errors.Is(err, model.ErrInvalidJob) {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", spec.JobID).Str("run_id", runID).Msg("job run failed")
		respond.Fail(c, http.StatusInternalServerError, err)
		return
	}

	respond.OK(c, summary)
}

// Health reports that the worker is up.
func (h *Handler) Health(c *ginext.Context) {
	respond.JSON(c, http.StatusOK, map[string]string{"status": "ok"})
}
