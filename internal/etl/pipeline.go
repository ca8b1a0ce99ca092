package etl

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/cityscope/cityscope/internal/metrics"
	"github.com/cityscope/cityscope/internal/store"
)

type StageStatus string

const (
	StatusOK         StageStatus = "ok"
	StatusSoftFailed StageStatus = "soft_failed" // prerequisite missing, zero work done
	StatusFailed     StageStatus = "failed"
)

type StageResult struct {
	Stage   string      `json:"stage"`
	Status  StageStatus `json:"status"`
	Summary Summary     `json:"summary"`
	Err     error       `json:"-"`
}

type Result struct {
	Stages  []StageResult `json:"stages"`
	Aborted bool          `json:"aborted"`
}

// Err returns the error of the stage that aborted the run, if any.
func (r Result) Err() error {
	for _, s := range r.Stages {
		if s.Status == StatusFailed {
			return s.Err
		}
	}
	return nil
}

// Pipeline runs stages in fixed dependency order. A hard stage failure aborts
// the remaining stages; work committed by earlier stages is retained. A soft
// failure (missing prerequisite) is reported and the run continues, since the
// failed stage has done no work and later stages re-read the store anyway.
type Pipeline struct {
	store  *store.Store
	stages []Stage
	log    zerolog.Logger
}

func NewPipeline(st *store.Store, logger zerolog.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{store: st, stages: stages, log: logger}
}

func (p *Pipeline) Run(ctx context.Context) Result {
	var result Result
	for _, stage := range p.stages {
		res := p.runStage(ctx, stage)
		result.Stages = append(result.Stages, res)

		if res.Status == StatusFailed {
			p.log.Error().Err(res.Err).Str("stage", stage.Name()).Msg("stage failed, aborting pipeline")
			result.Aborted = true
			break
		}
	}
	return result
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage) StageResult {
	name := stage.Name()
	p.log.Info().Str("stage", name).Msg("stage starting")

	run, err := p.store.StartETLRun(name)
	if err != nil {
		p.log.Warn().Err(err).Str("stage", name).Msg("could not record stage run")
	}

	start := time.Now()
	summary, stageErr := stage.Run(ctx)
	metrics.ETLStageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.ETLRecordsTotal.WithLabelValues(name, "created").Add(float64(summary.Created))
	metrics.ETLRecordsTotal.WithLabelValues(name, "updated").Add(float64(summary.Updated))
	metrics.ETLRecordsTotal.WithLabelValues(name, "skipped").Add(float64(summary.Skipped))

	if run != nil {
		run.Success = stageErr == nil
		run.Created = sql.NullInt64{Int64: int64(summary.Created), Valid: true}
		run.Updated = sql.NullInt64{Int64: int64(summary.Updated), Valid: true}
		run.Skipped = sql.NullInt64{Int64: int64(summary.Skipped), Valid: true}
		if stageErr != nil {
			run.ErrorMessage = sql.NullString{String: stageErr.Error(), Valid: true}
		}
		if err := p.store.CompleteETLRun(run); err != nil {
			p.log.Warn().Err(err).Str("stage", name).Msg("could not complete stage run record")
		}
	}

	res := StageResult{Stage: name, Summary: summary, Err: stageErr}
	switch {
	case errors.Is(stageErr, ErrPrerequisiteMissing):
		res.Status = StatusSoftFailed
		p.log.Warn().Str("stage", name).Msg("stage prerequisite missing, no work done")
	case stageErr != nil:
		res.Status = StatusFailed
	default:
		res.Status = StatusOK
		p.log.Info().
			Str("stage", name).
			Int("created", summary.Created).
			Int("updated", summary.Updated).
			Int("skipped", summary.Skipped).
			Msg("stage completed")
	}
	return res
}
