package nn

import (
	"context"
	"fmt"

	"skin-triage/internal/domain/entity"
	"skin-triage/internal/domain/port"
)

// Network последовательная сеть, реализующая port.ExplainableClassifier
type Network struct {
	name   string
	labels entity.LabelSet
	layers []Layer
	index  map[string]int
}

// NewNetwork проверяет архитектуру: уникальные имена слоёв и softmax на выходе
func NewNetwork(name string, labels entity.LabelSet, layers ...Layer) (*Network, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("network %q: no layers", name)
	}
	if labels.Len() == 0 {
		return nil, fmt.Errorf("network %q: empty label set", name)
	}

	index := make(map[string]int, len(layers))
	for i, l := range layers {
		if l.Name() == "" {
			return nil, fmt.Errorf("network %q: layer %d has no name", name, i)
		}
		if _, dup := index[l.Name()]; dup {
			return nil, fmt.Errorf("network %q: duplicate layer name %q", name, l.Name())
		}
		index[l.Name()] = i
	}
	if last := layers[len(layers)-1]; last.Kind() != entity.LayerOutput {
		return nil, fmt.Errorf("network %q: last layer %q must be an output layer, got %s", name, last.Name(), last.Kind())
	}

	return &Network{name: name, labels: labels, layers: layers, index: index}, nil
}

func (n *Network) Name() string {
	return n.name
}

func (n *Network) Labels() entity.LabelSet {
	return n.labels
}

// Layers возвращает описание слоёв в порядке прямого прохода
func (n *Network) Layers() []entity.LayerInfo {
	out := make([]entity.LayerInfo, len(n.layers))
	for i, l := range n.layers {
		out[i] = entity.LayerInfo{Name: l.Name(), Kind: l.Kind()}
	}
	return out
}

// Infer выполняет прямой проход и возвращает распределение по классам
func (n *Network) Infer(ctx context.Context, x *entity.Tensor) (entity.ProbabilityVector, error) {
	acts, err := n.forward(ctx, x)
	if err != nil {
		return entity.ProbabilityVector{}, err
	}
	out := acts[len(acts)-1]
	if out.Len() != n.labels.Len() {
		return entity.ProbabilityVector{}, fmt.Errorf("network %q: %d outputs for %d labels", n.name, out.Len(), n.labels.Len())
	}
	return entity.NewProbabilityVector(toFloat64(out.Data))
}

// ActivationGradient считает градиент вероятности класса classIndex по выходу слоя layerID
func (n *Network) ActivationGradient(ctx context.Context, x *entity.Tensor, layerID string, classIndex int) (*entity.ActivationTrace, error) {
	target, ok := n.index[layerID]
	if !ok {
		return nil, fmt.Errorf("%w: %q on %s", entity.ErrLayerNotFound, layerID, n.name)
	}
	if classIndex < 0 || classIndex >= n.labels.Len() {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", entity.ErrInvalidClassIndex, classIndex, n.labels.Len())
	}

	acts, err := n.forward(ctx, x)
	if err != nil {
		return nil, err
	}
	out := acts[len(acts)-1]
	if out.Len() != n.labels.Len() {
		return nil, fmt.Errorf("network %q: %d outputs for %d labels", n.name, out.Len(), n.labels.Len())
	}

	grad := entity.NewTensor(out.Shape...)
	grad.Data[classIndex] = 1

	// acts[i] вход слоя i, acts[i+1] его выход
	for i := len(n.layers) - 1; i > target; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, ok := n.layers[i].(Differentiable)
		if !ok {
			return nil, fmt.Errorf("network %q: layer %q is not differentiable", n.name, n.layers[i].Name())
		}
		grad, err = d.Backward(acts[i], acts[i+1], grad)
		if err != nil {
			return nil, err
		}
	}

	activation := acts[target+1]
	if activation.Rank() != 3 {
		return nil, fmt.Errorf("network %q: layer %q output %v is not a [C,H,W] map", n.name, layerID, activation.Shape)
	}

	return &entity.ActivationTrace{
		Activation: activation,
		Gradient:   grad,
		Output:     toFloat64(out.Data),
	}, nil
}

func (n *Network) forward(ctx context.Context, x *entity.Tensor) ([]*entity.Tensor, error) {
	if x == nil {
		return nil, fmt.Errorf("network %q: nil input", n.name)
	}
	acts := make([]*entity.Tensor, len(n.layers)+1)
	acts[0] = x
	for i, l := range n.layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		y, err := l.Forward(ctx, acts[i])
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", l.Name(), err)
		}
		acts[i+1] = y
	}
	return acts, nil
}

func toFloat64(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

// Проверка реализации интерфейса
var _ port.ExplainableClassifier = (*Network)(nil)
