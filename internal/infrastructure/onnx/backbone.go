// Package onnx запускает выделитель признаков, экспортированный в ONNX.
package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"skin-triage/internal/domain/entity"
)

var (
	envMu    sync.Mutex
	envReady bool
)

// Init инициализирует окружение onnxruntime один раз на процесс
func Init(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envReady {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	envReady = true
	return nil
}

// Shutdown освобождает окружение onnxruntime
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !envReady {
		return nil
	}
	envReady = false
	return ort.DestroyEnvironment()
}

// Backbone слой-выделитель признаков: [3,H,W] -> [C,h,w]
type Backbone struct {
	name        string
	session     *ort.DynamicAdvancedSession
	inputShape  ort.Shape
	outputShape []int
}

// BackboneConfig описание ONNX модели
type BackboneConfig struct {
	Name        string
	Path        string
	InputName   string
	OutputName  string
	InputShape  []int // без batch, например [3,224,224]
	OutputShape []int // без batch, например [1280,7,7]
}

// NewBackbone открывает ONNX сессию. Init должен быть вызван заранее.
func NewBackbone(cfg BackboneConfig) (*Backbone, error) {
	if len(cfg.InputShape) != 3 || len(cfg.OutputShape) != 3 {
		return nil, fmt.Errorf("backbone %q: input and output shapes must be [C,H,W]", cfg.Name)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.Path,
		[]string{cfg.InputName}, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", cfg.Path, err)
	}

	in := make([]int64, 0, 4)
	in = append(in, 1)
	for _, d := range cfg.InputShape {
		in = append(in, int64(d))
	}

	out := make([]int, 3)
	copy(out, cfg.OutputShape)

	return &Backbone{
		name:        cfg.Name,
		session:     session,
		inputShape:  ort.NewShape(in...),
		outputShape: out,
	}, nil
}

func (b *Backbone) Name() string           { return b.name }
func (b *Backbone) Kind() entity.LayerKind { return entity.LayerFeature }

// Forward запускает сессию; тензоры создаются на каждый вызов, сессия разделяется между горутинами
func (b *Backbone) Forward(ctx context.Context, x *entity.Tensor) (*entity.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if int64(x.Len()) != b.inputShape.FlattenedSize() {
		return nil, fmt.Errorf("backbone %q: input has %d values, want %d", b.name, x.Len(), b.inputShape.FlattenedSize())
	}

	data := make([]float32, x.Len())
	copy(data, x.Data)
	input, err := ort.NewTensor(b.inputShape, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outShape := ort.NewShape(1, int64(b.outputShape[0]), int64(b.outputShape[1]), int64(b.outputShape[2]))
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := b.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	y := entity.NewTensor(b.outputShape...)
	copy(y.Data, output.GetData())
	return y, nil
}

// Close закрывает сессию
func (b *Backbone) Close() error {
	if b.session == nil {
		return nil
	}
	return b.session.Destroy()
}
