// Package nn небольшой стек слоёв на Go с обратным проходом, достаточным для Grad-CAM.
//
// Тензоры карт признаков хранятся в порядке [C,H,W]. Слои только читают свои веса,
// поэтому одна сеть безопасно используется из нескольких горутин.
package nn

import (
	"context"
	"fmt"
	"math"

	"skin-triage/internal/domain/entity"
)

// Layer слой сети
type Layer interface {
	Name() string
	Kind() entity.LayerKind
	Forward(ctx context.Context, x *entity.Tensor) (*entity.Tensor, error)
}

// Differentiable слой, умеющий считать градиент по входу
type Differentiable interface {
	Layer

	// Backward возвращает dL/dx по входу x, выходу y и градиенту gradOut = dL/dy
	Backward(x, y, gradOut *entity.Tensor) (*entity.Tensor, error)
}

// Padding режим дополнения свёртки
type Padding string

const (
	PaddingSame  Padding = "same"
	PaddingValid Padding = "valid"
)

// Conv2D свёртка с шагом 1 и опциональной встроенной ReLU
type Conv2D struct {
	name    string
	weights *entity.Tensor // [out,in,kh,kw]
	bias    []float32
	padding Padding
	relu    bool
}

func NewConv2D(name string, weights *entity.Tensor, bias []float32, padding Padding, relu bool) (*Conv2D, error) {
	if weights == nil || weights.Rank() != 4 {
		return nil, fmt.Errorf("conv2d %q: weights must be [out,in,kh,kw]", name)
	}
	if bias != nil && len(bias) != weights.Shape[0] {
		return nil, fmt.Errorf("conv2d %q: bias has %d values for %d filters", name, len(bias), weights.Shape[0])
	}
	if padding == "" {
		padding = PaddingSame
	}
	if padding != PaddingSame && padding != PaddingValid {
		return nil, fmt.Errorf("conv2d %q: unknown padding %q", name, padding)
	}
	return &Conv2D{name: name, weights: weights, bias: bias, padding: padding, relu: relu}, nil
}

func (l *Conv2D) Name() string           { return l.name }
func (l *Conv2D) Kind() entity.LayerKind { return entity.LayerFeature }

func (l *Conv2D) geometry(x *entity.Tensor) (c, h, w, outH, outW, padT, padL int, err error) {
	c, h, w, err = x.CHW()
	if err != nil {
		return
	}
	kh, kw := l.weights.Shape[2], l.weights.Shape[3]
	if c != l.weights.Shape[1] {
		err = fmt.Errorf("conv2d %q: input has %d channels, want %d", l.name, c, l.weights.Shape[1])
		return
	}
	switch l.padding {
	case PaddingSame:
		outH, outW = h, w
		padT, padL = (kh-1)/2, (kw-1)/2
	default:
		outH, outW = h-kh+1, w-kw+1
	}
	if outH <= 0 || outW <= 0 {
		err = fmt.Errorf("conv2d %q: input %dx%d smaller than kernel %dx%d", l.name, h, w, kh, kw)
	}
	return
}

func (l *Conv2D) Forward(ctx context.Context, x *entity.Tensor) (*entity.Tensor, error) {
	c, h, w, outH, outW, padT, padL, err := l.geometry(x)
	if err != nil {
		return nil, err
	}
	out, kh, kw := l.weights.Shape[0], l.weights.Shape[2], l.weights.Shape[3]
	y := entity.NewTensor(out, outH, outW)

	for o := 0; o < out; o++ {
		var b float32
		if l.bias != nil {
			b = l.bias[o]
		}
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				sum := b
				for ci := 0; ci < c; ci++ {
					for ky := 0; ky < kh; ky++ {
						iy := oy + ky - padT
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < kw; kx++ {
							ix := ox + kx - padL
							if ix < 0 || ix >= w {
								continue
							}
							sum += l.weights.Data[((o*c+ci)*kh+ky)*kw+kx] * x.Data[(ci*h+iy)*w+ix]
						}
					}
				}
				if l.relu && sum < 0 {
					sum = 0
				}
				y.Data[(o*outH+oy)*outW+ox] = sum
			}
		}
	}
	return y, nil
}

func (l *Conv2D) Backward(x, y, gradOut *entity.Tensor) (*entity.Tensor, error) {
	c, h, w, outH, outW, padT, padL, err := l.geometry(x)
	if err != nil {
		return nil, err
	}
	if gradOut.Len() != y.Len() {
		return nil, fmt.Errorf("conv2d %q: gradient has %d values, output %d", l.name, gradOut.Len(), y.Len())
	}
	out, kh, kw := l.weights.Shape[0], l.weights.Shape[2], l.weights.Shape[3]
	gradIn := entity.NewTensor(x.Shape...)

	for o := 0; o < out; o++ {
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				pos := (o*outH+oy)*outW + ox
				g := gradOut.Data[pos]
				if g == 0 || (l.relu && y.Data[pos] <= 0) {
					continue
				}
				for ci := 0; ci < c; ci++ {
					for ky := 0; ky < kh; ky++ {
						iy := oy + ky - padT
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < kw; kx++ {
							ix := ox + kx - padL
							if ix < 0 || ix >= w {
								continue
							}
							gradIn.Data[(ci*h+iy)*w+ix] += l.weights.Data[((o*c+ci)*kh+ky)*kw+kx] * g
						}
					}
				}
			}
		}
	}
	return gradIn, nil
}

// ReLU поэлементная функция max(0, x)
type ReLU struct {
	name string
}

func NewReLU(name string) *ReLU { return &ReLU{name: name} }

func (l *ReLU) Name() string           { return l.name }
func (l *ReLU) Kind() entity.LayerKind { return entity.LayerActivation }

func (l *ReLU) Forward(ctx context.Context, x *entity.Tensor) (*entity.Tensor, error) {
	y := entity.NewTensor(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			y.Data[i] = v
		}
	}
	return y, nil
}

func (l *ReLU) Backward(x, y, gradOut *entity.Tensor) (*entity.Tensor, error) {
	if gradOut.Len() != x.Len() {
		return nil, fmt.Errorf("relu %q: gradient has %d values, input %d", l.name, gradOut.Len(), x.Len())
	}
	gradIn := entity.NewTensor(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			gradIn.Data[i] = gradOut.Data[i]
		}
	}
	return gradIn, nil
}

// GlobalAvgPool усредняет каждый канал [C,H,W] -> [C]
type GlobalAvgPool struct {
	name string
}

func NewGlobalAvgPool(name string) *GlobalAvgPool { return &GlobalAvgPool{name: name} }

func (l *GlobalAvgPool) Name() string           { return l.name }
func (l *GlobalAvgPool) Kind() entity.LayerKind { return entity.LayerCollapse }

func (l *GlobalAvgPool) Forward(ctx context.Context, x *entity.Tensor) (*entity.Tensor, error) {
	c, h, w, err := x.CHW()
	if err != nil {
		return nil, fmt.Errorf("global_avg_pool %q: %w", l.name, err)
	}
	plane := h * w
	y := entity.NewTensor(c)
	for ch := 0; ch < c; ch++ {
		var sum float32
		for _, v := range x.Data[ch*plane : (ch+1)*plane] {
			sum += v
		}
		y.Data[ch] = sum / float32(plane)
	}
	return y, nil
}

func (l *GlobalAvgPool) Backward(x, y, gradOut *entity.Tensor) (*entity.Tensor, error) {
	c, h, w, err := x.CHW()
	if err != nil {
		return nil, fmt.Errorf("global_avg_pool %q: %w", l.name, err)
	}
	if gradOut.Len() != c {
		return nil, fmt.Errorf("global_avg_pool %q: gradient has %d values, want %d", l.name, gradOut.Len(), c)
	}
	plane := h * w
	gradIn := entity.NewTensor(x.Shape...)
	for ch := 0; ch < c; ch++ {
		g := gradOut.Data[ch] / float32(plane)
		for i := ch * plane; i < (ch+1)*plane; i++ {
			gradIn.Data[i] = g
		}
	}
	return gradIn, nil
}

// Flatten вытягивает тензор в вектор
type Flatten struct {
	name string
}

func NewFlatten(name string) *Flatten { return &Flatten{name: name} }

func (l *Flatten) Name() string           { return l.name }
func (l *Flatten) Kind() entity.LayerKind { return entity.LayerCollapse }

func (l *Flatten) Forward(ctx context.Context, x *entity.Tensor) (*entity.Tensor, error) {
	y := entity.NewTensor(x.Len())
	copy(y.Data, x.Data)
	return y, nil
}

func (l *Flatten) Backward(x, y, gradOut *entity.Tensor) (*entity.Tensor, error) {
	if gradOut.Len() != x.Len() {
		return nil, fmt.Errorf("flatten %q: gradient has %d values, input %d", l.name, gradOut.Len(), x.Len())
	}
	gradIn := entity.NewTensor(x.Shape...)
	copy(gradIn.Data, gradOut.Data)
	return gradIn, nil
}

// Dense полносвязный слой
type Dense struct {
	name    string
	weights *entity.Tensor // [out,in]
	bias    []float32
}

func NewDense(name string, weights *entity.Tensor, bias []float32) (*Dense, error) {
	if weights == nil || weights.Rank() != 2 {
		return nil, fmt.Errorf("dense %q: weights must be [out,in]", name)
	}
	if bias != nil && len(bias) != weights.Shape[0] {
		return nil, fmt.Errorf("dense %q: bias has %d values for %d outputs", name, len(bias), weights.Shape[0])
	}
	return &Dense{name: name, weights: weights, bias: bias}, nil
}

func (l *Dense) Name() string           { return l.name }
func (l *Dense) Kind() entity.LayerKind { return entity.LayerDense }

// Units число выходов слоя
func (l *Dense) Units() int { return l.weights.Shape[0] }

func (l *Dense) Forward(ctx context.Context, x *entity.Tensor) (*entity.Tensor, error) {
	out, in := l.weights.Shape[0], l.weights.Shape[1]
	if x.Len() != in {
		return nil, fmt.Errorf("dense %q: input has %d values, want %d", l.name, x.Len(), in)
	}
	y := entity.NewTensor(out)
	for o := 0; o < out; o++ {
		var sum float32
		if l.bias != nil {
			sum = l.bias[o]
		}
		row := l.weights.Data[o*in : (o+1)*in]
		for i, v := range x.Data {
			sum += row[i] * v
		}
		y.Data[o] = sum
	}
	return y, nil
}

func (l *Dense) Backward(x, y, gradOut *entity.Tensor) (*entity.Tensor, error) {
	out, in := l.weights.Shape[0], l.weights.Shape[1]
	if gradOut.Len() != out {
		return nil, fmt.Errorf("dense %q: gradient has %d values, want %d", l.name, gradOut.Len(), out)
	}
	gradIn := entity.NewTensor(x.Shape...)
	for o := 0; o < out; o++ {
		g := gradOut.Data[o]
		if g == 0 {
			continue
		}
		row := l.weights.Data[o*in : (o+1)*in]
		for i := range gradIn.Data {
			gradIn.Data[i] += row[i] * g
		}
	}
	return gradIn, nil
}

// Softmax переводит логиты в распределение вероятностей
type Softmax struct {
	name string
}

func NewSoftmax(name string) *Softmax { return &Softmax{name: name} }

func (l *Softmax) Name() string           { return l.name }
func (l *Softmax) Kind() entity.LayerKind { return entity.LayerOutput }

func (l *Softmax) Forward(ctx context.Context, x *entity.Tensor) (*entity.Tensor, error) {
	if x.Len() == 0 {
		return nil, fmt.Errorf("softmax %q: empty input", l.name)
	}
	peak := x.Data[0]
	for _, v := range x.Data {
		if v > peak {
			peak = v
		}
	}

	exps := make([]float64, x.Len())
	var sum float64
	for i, v := range x.Data {
		exps[i] = math.Exp(float64(v - peak))
		sum += exps[i]
	}

	y := entity.NewTensor(x.Len())
	for i := range exps {
		y.Data[i] = float32(exps[i] / sum)
	}
	return y, nil
}

func (l *Softmax) Backward(x, y, gradOut *entity.Tensor) (*entity.Tensor, error) {
	if gradOut.Len() != y.Len() {
		return nil, fmt.Errorf("softmax %q: gradient has %d values, output %d", l.name, gradOut.Len(), y.Len())
	}
	var dot float32
	for i, g := range gradOut.Data {
		dot += g * y.Data[i]
	}
	gradIn := entity.NewTensor(x.Shape...)
	for i := range gradIn.Data {
		gradIn.Data[i] = y.Data[i] * (gradOut.Data[i] - dot)
	}
	return gradIn, nil
}
