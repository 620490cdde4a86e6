package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"skin-triage/internal/domain/entity"
	"skin-triage/internal/domain/port"
)

// Recorder принимает метрики сервиса
type Recorder interface {
	ObserveClassification(outcome string)
	ObserveEscalation()
	ObserveHeatmapFailure(reason string)
	ObserveInference(stage string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveClassification(string)            {}
func (nopRecorder) ObserveEscalation()                      {}
func (nopRecorder) ObserveHeatmapFailure(string)            {}
func (nopRecorder) ObserveInference(string, time.Duration) {}

// CascadeEngine запускает общий классификатор и при необходимости специализированный
type CascadeEngine struct {
	general     port.Classifier
	specialized port.Classifier
	triggers    entity.TriggerSet
	logger      *zap.Logger
	metrics     Recorder
}

// NewCascadeEngine создаёт каскад. Модели только читаются и могут использоваться из разных горутин.
func NewCascadeEngine(general, specialized port.Classifier, triggers entity.TriggerSet, logger *zap.Logger, rec Recorder) *CascadeEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &CascadeEngine{
		general:     general,
		specialized: specialized,
		triggers:    triggers,
		logger:      logger,
		metrics:     rec,
	}
}

// Triggers возвращает индексы классов, запускающих вторую стадию
func (e *CascadeEngine) Triggers() entity.TriggerSet {
	return e.triggers
}

// ShouldEscalate: класс входит в набор триггеров И уверенность не ниже порога
func (e *CascadeEngine) ShouldEscalate(stage1 *entity.ClassificationOutcome, threshold float64) bool {
	return e.triggers.Contains(stage1.LabelIndex) && stage1.Confidence >= threshold
}

// Classify выполняет каскадную классификацию тензора изображения
func (e *CascadeEngine) Classify(ctx context.Context, x *entity.Tensor, threshold float64) (*entity.CascadeResult, error) {
	if err := entity.ValidateThreshold(threshold); err != nil {
		e.metrics.ObserveClassification("invalid")
		return nil, err
	}
	if e.general == nil {
		e.metrics.ObserveClassification("unavailable")
		return nil, fmt.Errorf("%w: general classifier is not loaded", entity.ErrModelUnavailable)
	}

	stage1, err := e.run(ctx, entity.StageGeneral, e.general, x)
	if err != nil {
		e.metrics.ObserveClassification("error")
		return nil, err
	}
	result := &entity.CascadeResult{Stage1: stage1}

	escalate := e.ShouldEscalate(stage1, threshold)
	e.logger.Debug("stage 1 done",
		zap.String("label", stage1.Label),
		zap.Float64("confidence", stage1.Confidence),
		zap.Float64("threshold", threshold),
		zap.Bool("escalate", escalate))

	if escalate {
		if e.specialized == nil {
			e.metrics.ObserveClassification("unavailable")
			return nil, fmt.Errorf("%w: specialized classifier is not loaded", entity.ErrModelUnavailable)
		}
		stage2, err := e.run(ctx, entity.StageSpecialized, e.specialized, x)
		if err != nil {
			e.metrics.ObserveClassification("error")
			return nil, err
		}
		result.Stage2 = stage2
		e.metrics.ObserveEscalation()
	}

	result.Recommendation = Recommend(result.Stage1, result.Stage2)
	if result.Escalated() {
		e.metrics.ObserveClassification("escalated")
	} else {
		e.metrics.ObserveClassification("stage1")
	}

	e.logger.Info("cascade classified",
		zap.String("final_label", result.Final().Label),
		zap.Bool("escalated", result.Escalated()),
		zap.String("severity", string(result.Recommendation.Severity)))

	return result, nil
}

func (e *CascadeEngine) run(ctx context.Context, stage entity.Stage, clf port.Classifier, x *entity.Tensor) (*entity.ClassificationOutcome, error) {
	start := time.Now()
	dist, err := clf.Infer(ctx, x)
	e.metrics.ObserveInference(fmt.Sprintf("%d", stage), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("stage %d (%s) inference: %w", stage, clf.Name(), err)
	}

	labels := clf.Labels()
	if dist.Len() != labels.Len() {
		return nil, fmt.Errorf("%w: stage %d returned %d scores for %d labels",
			entity.ErrInvalidDistribution, stage, dist.Len(), labels.Len())
	}

	return entity.NewClassificationOutcome(stage, labels, dist), nil
}
