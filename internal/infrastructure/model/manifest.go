// Package model загружает описание и веса классификаторов каскада.
package model

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
)

// Типы слоёв в манифесте
const (
	LayerONNX    = "onnx"
	LayerConv2D  = "conv2d"
	LayerReLU    = "relu"
	LayerGAP     = "global_avg_pool"
	LayerFlatten = "flatten"
	LayerDense   = "dense"
	LayerSoftmax = "softmax"
)

// DefaultInputSize сторона квадратного входа модели
const DefaultInputSize = 224

// Классы первой стадии (общие кожные заболевания)
var DefaultGeneralLabels = []string{
	"Eczema",
	"Warts Molluscum and other Viral Infections",
	"Melanoma",
	"Atopic Dermatitis",
	"Basal Cell Carcinoma (BCC)",
	"Melanocytic Nevi (NV)",
	"Benign Keratosis-like Lesions (BKL)",
	"Psoriasis pictures Lichen Planus and related diseases",
	"Seborrheic Keratoses and other Benign Tumors",
	"Tinea Ringworm Candidiasis and other Fungal Infections",
}

// Melanoma, BCC, Nevi, BKL, Seborrheic
var DefaultTriggers = []int{2, 4, 5, 6, 8}

// Классы второй стадии (онкологические)
var DefaultSpecializedLabels = []string{
	"Melanoma (Malignant)",
	"Basal Cell Carcinoma",
	"Squamous Cell Carcinoma",
	"Benign Nevus",
	"Seborrheic Keratosis",
	"Actinic Keratosis",
	"Dermatofibroma",
	"Vascular Lesion",
}

// Manifest описание обеих стадий каскада
type Manifest struct {
	InputSize   int       `toml:"input_size"`
	General     StageSpec `toml:"general"`
	Specialized StageSpec `toml:"specialized"`
}

// StageSpec описание одного классификатора
type StageSpec struct {
	Name     string      `toml:"name"`
	Labels   []string    `toml:"labels"`
	Triggers []int       `toml:"triggers"`
	Layers   []LayerSpec `toml:"layers"`
}

// LayerSpec описание слоя. Пути указываются относительно файла манифеста.
type LayerSpec struct {
	Kind    string `toml:"kind"`
	Name    string `toml:"name"`
	Weights string `toml:"weights"`
	Padding string `toml:"padding"`
	ReLU    bool   `toml:"relu"`

	// только для onnx
	Path   string `toml:"path"`
	Input  string `toml:"input"`
	Output string `toml:"output"`
	Shape  []int  `toml:"shape"`
}

// LoadManifest читает TOML манифест, подставляет значения по умолчанию и проверяет его
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{}
	if _, err := toml.DecodeFile(path, m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return m, nil
}

func (m *Manifest) applyDefaults() {
	if m.InputSize == 0 {
		m.InputSize = DefaultInputSize
	}
	if m.General.Name == "" {
		m.General.Name = "general"
	}
	if len(m.General.Labels) == 0 {
		m.General.Labels = DefaultGeneralLabels
	}
	if m.General.Triggers == nil {
		m.General.Triggers = DefaultTriggers
	}
	if m.Specialized.Name == "" {
		m.Specialized.Name = "specialized"
	}
	if len(m.Specialized.Labels) == 0 {
		m.Specialized.Labels = DefaultSpecializedLabels
	}
}

// Validate проверяет то, что можно проверить без чтения весов
func (m *Manifest) Validate() error {
	if m.InputSize <= 0 {
		return fmt.Errorf("input_size must be positive, got %d", m.InputSize)
	}
	for _, idx := range m.General.Triggers {
		if idx < 0 || idx >= len(m.General.Labels) {
			return fmt.Errorf("trigger index %d is outside general labels [0,%d)", idx, len(m.General.Labels))
		}
	}
	if len(m.Specialized.Triggers) > 0 {
		return errors.New("triggers are only allowed on the general stage")
	}
	for _, s := range []StageSpec{m.General, m.Specialized} {
		if err := s.validateLayers(); err != nil {
			return fmt.Errorf("stage %s: %w", s.Name, err)
		}
	}
	return nil
}

func (s StageSpec) validateLayers() error {
	for i, l := range s.Layers {
		if l.Name == "" {
			return fmt.Errorf("layer %d has no name", i)
		}
		switch l.Kind {
		case LayerONNX:
			if i != 0 {
				return fmt.Errorf("onnx layer %q must be the first layer", l.Name)
			}
			if l.Path == "" || l.Input == "" || l.Output == "" || len(l.Shape) != 3 {
				return fmt.Errorf("onnx layer %q needs path, input, output and a [C,H,W] shape", l.Name)
			}
		case LayerConv2D, LayerDense:
			if l.Weights == "" {
				return fmt.Errorf("layer %q has no weights file", l.Name)
			}
		case LayerReLU, LayerGAP, LayerFlatten, LayerSoftmax:
		default:
			return fmt.Errorf("layer %q has unknown kind %q", l.Name, l.Kind)
		}
	}
	return nil
}
