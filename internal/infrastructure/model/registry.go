package model

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"skin-triage/internal/domain/entity"
	"skin-triage/internal/domain/port"
	"skin-triage/internal/infrastructure/nn"
	"skin-triage/internal/infrastructure/onnx"
)

// Registry загруженные классификаторы. После Load не изменяется.
type Registry struct {
	General     port.ExplainableClassifier // nil, если модель не загрузилась
	Specialized port.ExplainableClassifier // nil, если модель не загрузилась

	GeneralLabels     entity.LabelSet
	SpecializedLabels entity.LabelSet
	Triggers          entity.TriggerSet
	InputSize         int

	closers []io.Closer
}

// Weights файл весов слоя
type Weights struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Bias  []float32 `json:"bias"`
}

// Load читает манифест и собирает классификаторы.
// Ошибка манифеста возвращается, ошибка сборки отдельной стадии только логируется.
func Load(path string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)

	r := &Registry{
		GeneralLabels:     entity.NewLabelSet(m.General.Labels...),
		SpecializedLabels: entity.NewLabelSet(m.Specialized.Labels...),
		Triggers:          entity.NewTriggerSet(m.General.Triggers...),
		InputSize:         m.InputSize,
	}

	if net, err := r.build(m.General, m.InputSize, dir); err != nil {
		logger.Error("general model is unavailable", zap.String("name", m.General.Name), zap.Error(err))
	} else {
		r.General = net
		logger.Info("general model loaded", zap.String("name", m.General.Name), zap.Int("labels", len(m.General.Labels)))
	}

	if net, err := r.build(m.Specialized, m.InputSize, dir); err != nil {
		logger.Error("specialized model is unavailable", zap.String("name", m.Specialized.Name), zap.Error(err))
	} else {
		r.Specialized = net
		logger.Info("specialized model loaded", zap.String("name", m.Specialized.Name), zap.Int("labels", len(m.Specialized.Labels)))
	}

	return r, nil
}

// Close освобождает ONNX сессии
func (r *Registry) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

func (r *Registry) build(spec StageSpec, inputSize int, dir string) (*nn.Network, error) {
	if len(spec.Layers) == 0 {
		return nil, fmt.Errorf("stage %s has no layers", spec.Name)
	}

	layers := make([]nn.Layer, 0, len(spec.Layers))
	var (
		lastDense *nn.Dense
		opened    []io.Closer
	)
	fail := func(err error) (*nn.Network, error) {
		for _, c := range opened {
			_ = c.Close()
		}
		return nil, err
	}

	for _, ls := range spec.Layers {
		switch ls.Kind {
		case LayerONNX:
			b, err := onnx.NewBackbone(onnx.BackboneConfig{
				Name:        ls.Name,
				Path:        resolve(dir, ls.Path),
				InputName:   ls.Input,
				OutputName:  ls.Output,
				InputShape:  []int{3, inputSize, inputSize},
				OutputShape: ls.Shape,
			})
			if err != nil {
				return fail(err)
			}
			opened = append(opened, b)
			layers = append(layers, b)
		case LayerConv2D:
			w, err := readWeights(resolve(dir, ls.Weights))
			if err != nil {
				return fail(err)
			}
			t, err := entity.NewTensorFrom(w.Data, w.Shape...)
			if err != nil {
				return fail(fmt.Errorf("layer %q: %w", ls.Name, err))
			}
			conv, err := nn.NewConv2D(ls.Name, t, w.Bias, nn.Padding(ls.Padding), ls.ReLU)
			if err != nil {
				return fail(err)
			}
			layers = append(layers, conv)
		case LayerDense:
			w, err := readWeights(resolve(dir, ls.Weights))
			if err != nil {
				return fail(err)
			}
			t, err := entity.NewTensorFrom(w.Data, w.Shape...)
			if err != nil {
				return fail(fmt.Errorf("layer %q: %w", ls.Name, err))
			}
			dense, err := nn.NewDense(ls.Name, t, w.Bias)
			if err != nil {
				return fail(err)
			}
			lastDense = dense
			layers = append(layers, dense)
		case LayerReLU:
			layers = append(layers, nn.NewReLU(ls.Name))
		case LayerGAP:
			layers = append(layers, nn.NewGlobalAvgPool(ls.Name))
		case LayerFlatten:
			layers = append(layers, nn.NewFlatten(ls.Name))
		case LayerSoftmax:
			layers = append(layers, nn.NewSoftmax(ls.Name))
		default:
			return fail(fmt.Errorf("layer %q has unknown kind %q", ls.Name, ls.Kind))
		}
	}

	if lastDense == nil {
		return fail(fmt.Errorf("stage %s has no dense layer", spec.Name))
	}
	if lastDense.Units() != len(spec.Labels) {
		return fail(fmt.Errorf("stage %s: dense layer %q has %d units for %d labels",
			spec.Name, lastDense.Name(), lastDense.Units(), len(spec.Labels)))
	}

	net, err := nn.NewNetwork(spec.Name, entity.NewLabelSet(spec.Labels...), layers...)
	if err != nil {
		return fail(err)
	}
	r.closers = append(r.closers, opened...)
	return net, nil
}

func readWeights(path string) (*Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}
	var w Weights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse weights %s: %w", path, err)
	}
	return &w, nil
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
