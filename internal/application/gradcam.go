package app

import (
	"context"
	"fmt"
	"math"

	"skin-triage/internal/domain/entity"
	"skin-triage/internal/domain/port"
)

// ActivationMapper строит Grad-CAM карту важности для одного класса
type ActivationMapper struct{}

func NewActivationMapper() *ActivationMapper {
	return &ActivationMapper{}
}

// ComputeMap считает карту по активациям слоя layerID для класса classIndex
func (m *ActivationMapper) ComputeMap(ctx context.Context, clf port.ExplainableClassifier, x *entity.Tensor, layerID string, classIndex int) (*entity.ActivationMap, error) {
	if clf == nil {
		return nil, fmt.Errorf("%w: classifier is not loaded", entity.ErrModelUnavailable)
	}
	if n := clf.Labels().Len(); classIndex < 0 || classIndex >= n {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", entity.ErrInvalidClassIndex, classIndex, n)
	}
	if !hasLayer(clf.Layers(), layerID) {
		return nil, fmt.Errorf("%w: %q on %s", entity.ErrLayerNotFound, layerID, clf.Name())
	}

	trace, err := clf.ActivationGradient(ctx, x, layerID, classIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrGradientComputationFailed, err)
	}
	return GradCAM(trace.Activation, trace.Gradient)
}

// GradCAM взвешивает каналы активаций средним градиентом и оставляет только положительный вклад
func GradCAM(act, grad *entity.Tensor) (*entity.ActivationMap, error) {
	if act == nil || grad == nil {
		return nil, fmt.Errorf("%w: missing activation or gradient", entity.ErrGradientComputationFailed)
	}
	c, h, w, err := act.CHW()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrGradientComputationFailed, err)
	}
	if gc, gh, gw, err := grad.CHW(); err != nil || gc != c || gh != h || gw != w {
		return nil, fmt.Errorf("%w: gradient shape %v does not match activation %v",
			entity.ErrGradientComputationFailed, grad.Shape, act.Shape)
	}

	plane := h * w
	values := make([]float64, plane)
	for ch := 0; ch < c; ch++ {
		g := grad.Data[ch*plane : (ch+1)*plane]
		var weight float64
		for _, v := range g {
			weight += float64(v)
		}
		weight /= float64(plane)
		if weight == 0 {
			continue
		}

		a := act.Data[ch*plane : (ch+1)*plane]
		for i, v := range a {
			values[i] += weight * float64(v)
		}
	}

	var peak float64
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite map value", entity.ErrGradientComputationFailed)
		}
		if v < 0 {
			values[i] = 0
			continue
		}
		if v > peak {
			peak = v
		}
	}

	result := &entity.ActivationMap{Width: w, Height: h, Values: values}
	if peak == 0 {
		// Положительного вклада нет: после отсечения карта уже нулевая, делить не на что.
		result.Degenerate = true
		return result, nil
	}

	for i := range values {
		values[i] /= peak
	}
	return result, nil
}

// SelectTargetLayer выбирает самый глубокий слой признаков перед первым сворачиванием в вектор
func SelectTargetLayer(layers []entity.LayerInfo) (string, error) {
	target := ""
	for _, l := range layers {
		if l.Kind == entity.LayerCollapse {
			if target == "" {
				break
			}
			return target, nil
		}
		if l.Kind == entity.LayerFeature {
			target = l.Name
		}
	}
	return "", entity.ErrNoSpatialLayerFound
}

func hasLayer(layers []entity.LayerInfo, id string) bool {
	for _, l := range layers {
		if l.Name == id {
			return true
		}
	}
	return false
}
