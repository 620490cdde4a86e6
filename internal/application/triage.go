package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"skin-triage/internal/domain/entity"
	"skin-triage/internal/domain/port"
)

// DefaultHeatmapAlpha коэффициент наложения тепловой карты
const DefaultHeatmapAlpha = 0.4

type TriageService struct {
	preprocessor port.Preprocessor
	engine       *CascadeEngine
	mapper       *ActivationMapper
	renderer     port.OverlayRenderer
	explainers   map[entity.Stage]port.ExplainableClassifier
	alpha        float64
	logger       *zap.Logger
	metrics      Recorder
}

// TriageOutput содержит результат каскада и картинку с тепловой картой.
type TriageOutput struct {
	Result            *entity.CascadeResult
	Heatmap           []byte // nil, если карту построить не удалось
	HeatmapDegenerate bool
	HeatmapErr        error
}

// TriageOption настраивает сервис
type TriageOption func(*TriageService)

func WithHeatmapAlpha(alpha float64) TriageOption {
	return func(s *TriageService) { s.alpha = alpha }
}

func WithLogger(logger *zap.Logger) TriageOption {
	return func(s *TriageService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithRecorder(rec Recorder) TriageOption {
	return func(s *TriageService) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithExplainer задаёт модель, по которой строится карта для стадии
func WithExplainer(stage entity.Stage, clf port.ExplainableClassifier) TriageOption {
	return func(s *TriageService) {
		if clf != nil {
			s.explainers[stage] = clf
		}
	}
}

// NewTriageService создаёт сервис, который управляет классификацией и объяснением.
func NewTriageService(preprocessor port.Preprocessor, engine *CascadeEngine, renderer port.OverlayRenderer, opts ...TriageOption) *TriageService {
	s := &TriageService{
		preprocessor: preprocessor,
		engine:       engine,
		mapper:       NewActivationMapper(),
		renderer:     renderer,
		explainers:   make(map[entity.Stage]port.ExplainableClassifier),
		alpha:        DefaultHeatmapAlpha,
		logger:       zap.NewNop(),
		metrics:      nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Classify декодирует изображение и запускает каскад
func (s *TriageService) Classify(ctx context.Context, photo []byte, threshold float64) (*entity.CascadeResult, error) {
	if s.preprocessor == nil || s.engine == nil {
		return nil, fmt.Errorf("%w: triage service is not configured", entity.ErrModelUnavailable)
	}

	x, err := s.preprocessor.Preprocess(ctx, photo)
	if err != nil {
		return nil, err
	}
	return s.engine.Classify(ctx, x, threshold)
}

// Report классифицирует изображение и строит тепловую карту итоговой стадии.
// Ошибка построения карты не прерывает классификацию: Heatmap остаётся nil.
func (s *TriageService) Report(ctx context.Context, photo []byte, threshold float64) (*TriageOutput, error) {
	if s.preprocessor == nil || s.engine == nil {
		return nil, fmt.Errorf("%w: triage service is not configured", entity.ErrModelUnavailable)
	}

	x, err := s.preprocessor.Preprocess(ctx, photo)
	if err != nil {
		return nil, err
	}
	result, err := s.engine.Classify(ctx, x, threshold)
	if err != nil {
		return nil, err
	}

	out := &TriageOutput{Result: result}
	final := result.Final()
	heatmap, degenerate, err := s.explain(ctx, final.Stage, x, photo, final.LabelIndex)
	if err != nil {
		s.logger.Warn("heatmap generation failed",
			zap.Int("stage", int(final.Stage)),
			zap.String("label", final.Label),
			zap.Error(err))
		s.metrics.ObserveHeatmapFailure(heatmapFailureReason(err))
		out.HeatmapErr = err
		return out, nil
	}

	out.Heatmap = heatmap
	out.HeatmapDegenerate = degenerate
	return out, nil
}

func (s *TriageService) explain(ctx context.Context, stage entity.Stage, x *entity.Tensor, photo []byte, classIndex int) ([]byte, bool, error) {
	clf, ok := s.explainers[stage]
	if !ok {
		return nil, false, fmt.Errorf("%w: no explainable classifier for stage %d", entity.ErrModelUnavailable, stage)
	}
	if s.renderer == nil {
		return nil, false, fmt.Errorf("%w: overlay renderer is not configured", entity.ErrEncodingFailed)
	}

	layer, err := SelectTargetLayer(clf.Layers())
	if err != nil {
		return nil, false, err
	}
	m, err := s.mapper.ComputeMap(ctx, clf, x, layer, classIndex)
	if err != nil {
		return nil, false, err
	}

	img, err := s.renderer.Render(ctx, photo, m, s.alpha)
	if err != nil {
		return nil, false, err
	}
	return img, m.Degenerate, nil
}

func heatmapFailureReason(err error) string {
	switch {
	case errors.Is(err, entity.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, entity.ErrNoSpatialLayerFound):
		return "no_spatial_layer"
	case errors.Is(err, entity.ErrLayerNotFound):
		return "layer_not_found"
	case errors.Is(err, entity.ErrInvalidClassIndex):
		return "invalid_class_index"
	case errors.Is(err, entity.ErrGradientComputationFailed):
		return "gradient"
	case errors.Is(err, entity.ErrEncodingFailed):
		return "encoding"
	default:
		return "other"
	}
}
