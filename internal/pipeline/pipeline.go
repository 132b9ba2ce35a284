// Package pipeline orchestrates the per-record processing stages:
// anonymize, quality-assess, compliance-validate. Stages run in fixed order
// and short-circuit on the first failure; no error escapes as an error value,
// every attempt resolves into exactly one ProcessingResult.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/veildata-systems/veilpipe/internal/anonymize"
	"github.com/veildata-systems/veilpipe/internal/compliance"
	"github.com/veildata-systems/veilpipe/internal/metrics"
	"github.com/veildata-systems/veilpipe/internal/model"
	"github.com/veildata-systems/veilpipe/internal/quality"
	"github.com/veildata-systems/veilpipe/internal/router"
)

// Stage names reported in results and metrics.
const (
	StageAnonymize  = "anonymize"
	StageQuality    = "quality"
	StageCompliance = "compliance"
)

// Options configure stage behavior.
type Options struct {
	// MinScore is the quality threshold in [0, 1].
	MinScore float64

	// Regulations are passed to the compliance validator.
	Regulations []string

	// RecordTimeout bounds one record's full pipeline run. Expiry is a
	// non-retryable failure so a slow record cannot stall its batch.
	RecordTimeout time.Duration
}

// Pipeline applies the stages to one envelope per call.
type Pipeline struct {
	anonymizer anonymize.Transformer
	assessor   quality.Assessor
	validator  compliance.Validator
	opts       Options
}

// New creates a pipeline over the injected collaborators.
func New(anonymizer anonymize.Transformer, assessor quality.Assessor, validator compliance.Validator, opts Options) *Pipeline {
	return &Pipeline{
		anonymizer: anonymizer,
		assessor:   assessor,
		validator:  validator,
		opts:       opts,
	}
}

// Process runs the stages and returns the attempt's terminal result.
func (p *Pipeline) Process(ctx context.Context, env *model.Envelope) *model.ProcessingResult {
	start := time.Now()
	env.ProcessingStart = start.UTC()

	if p.opts.RecordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.RecordTimeout)
		defer cancel()
	}

	timings := make(map[string]time.Duration, 3)

	// Stage 1: anonymize.
	stageStart := time.Now()
	payload, err := p.anonymizer.Transform(ctx, env.Payload, env.SchemaTag)
	timings[StageAnonymize] = time.Since(stageStart)
	metrics.StageDuration.WithLabelValues(StageAnonymize).Observe(timings[StageAnonymize].Seconds())
	if err != nil {
		return p.fail(env, err, timings, start)
	}

	// Stage 2: quality-assess.
	stageStart = time.Now()
	assessment, err := p.assessor.Assess(ctx, payload, env.SchemaTag)
	timings[StageQuality] = time.Since(stageStart)
	metrics.StageDuration.WithLabelValues(StageQuality).Observe(timings[StageQuality].Seconds())
	if err != nil {
		return p.fail(env, err, timings, start)
	}
	if assessment.Score < p.opts.MinScore {
		err := &quality.ThresholdError{
			Score:     assessment.Score,
			Threshold: p.opts.MinScore,
			Transient: assessment.Transient(),
			Issues:    assessment.Issues,
		}
		return p.fail(env, err, timings, start)
	}

	// Stage 3: compliance-validate.
	stageStart = time.Now()
	decision, err := p.validator.Validate(ctx, payload, env.SchemaTag, p.opts.Regulations)
	timings[StageCompliance] = time.Since(stageStart)
	metrics.StageDuration.WithLabelValues(StageCompliance).Observe(timings[StageCompliance].Seconds())
	if err != nil {
		return p.fail(env, err, timings, start)
	}
	if !decision.Compliant {
		err := &compliance.ViolationError{
			Regulations: p.opts.Regulations,
			Violations:  decision.Violations,
		}
		return p.fail(env, err, timings, start)
	}

	env.ProcessingEnd = time.Now().UTC()
	elapsed := time.Since(start)
	metrics.RecordDuration.Observe(elapsed.Seconds())

	result := model.SuccessResult(env.ID, payload, elapsed)
	result.StageElapsed = timings
	return result
}

func (p *Pipeline) fail(env *model.Envelope, err error, timings map[string]time.Duration, start time.Time) *model.ProcessingResult {
	env.ProcessingEnd = time.Now().UTC()
	elapsed := time.Since(start)
	metrics.RecordDuration.Observe(elapsed.Seconds())

	reason := router.FailureReason(err)
	retryable := router.Classify(err) == router.ClassRetryable

	// The per-record deadline is a non-retryable failure: the same record
	// would very likely stall the next batch too.
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "record_timeout"
		retryable = false
	}

	result := model.FailureResult(env.ID, reason, retryable, elapsed)
	result.FailureDetail = err.Error()
	result.StageElapsed = timings
	return result
}
