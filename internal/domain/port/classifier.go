package port

import (
	"context"

	"skin-triage/internal/domain/entity"
)

// Classifier интерфейс классификатора изображений
type Classifier interface {
	// Name возвращает имя модели для логов и метрик
	Name() string

	// Labels возвращает набор классов модели
	Labels() entity.LabelSet

	// Infer возвращает распределение вероятностей по классам
	Infer(ctx context.Context, x *entity.Tensor) (entity.ProbabilityVector, error)
}

// ExplainableClassifier классификатор, отдающий активации и градиенты промежуточных слоёв
type ExplainableClassifier interface {
	Classifier

	// Layers возвращает слои в порядке прямого прохода
	Layers() []entity.LayerInfo

	// ActivationGradient возвращает активации слоя и градиент выхода класса по ним
	ActivationGradient(ctx context.Context, x *entity.Tensor, layerID string, classIndex int) (*entity.ActivationTrace, error)
}

// Preprocessor превращает байты изображения во входной тензор модели
type Preprocessor interface {
	Preprocess(ctx context.Context, imageData []byte) (*entity.Tensor, error)
}
